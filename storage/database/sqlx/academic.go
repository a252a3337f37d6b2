package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
)

var (
	subjectOrderings = map[string]string{
		"name":        "name",
		"code":        "code",
		"coefficient": "coefficient",
	}
	classroomOrderings = map[string]string{
		"name":       "c.name",
		"level":      "c.level",
		"capacity":   "c.capacity",
		"created_at": "c.created_at",
	}
	enrollmentOrderings = map[string]string{
		"enrollment_date": "e.enrollment_date",
		"withdrawal_date": "e.withdrawal_date",
	}
	slotOrderings = map[string]string{
		"weekday":    "ts.weekday",
		"start_time": "ts.start_time",
		"room":       "ts.room",
	}
	gradeOrderings = map[string]string{
		"date":       "g.date",
		"score":      "g.score",
		"type":       "g.type",
		"created_at": "g.created_at",
	}
)

type academicRepository struct {
	base
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db core.DBExecutor) *academicRepository {
	return &academicRepository{base{db: db}}
}

// setCurrent flags one row of table as current among the rows matching scope.
func (repo academicRepository) setCurrent(ctx context.Context, exec core.DBExecutor, table, id string, scope sq.Sqlizer) error {
	qb := psql.Update(table).Set("is_current", sq.Expr("id = ?", id))
	if scope != nil {
		qb = qb.Where(scope)
	}
	_, err := repo.exec(ctx, exec, qb)
	return err
}

// Academic years

func (repo academicRepository) CreateYear(ctx context.Context, y academic.AcademicYear, exec ...core.DBExecutor) (academic.AcademicYear, error) {
	y.ID = newID()
	qb := psql.Insert("academic_year").
		Columns("id", "name", "start_date", "end_date", "is_current", "created_at").
		Values(y.ID, y.Name, y.StartDate, y.EndDate, false, y.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return academic.AcademicYear{}, errors.Wrap(err, "inserting academic year")
	}
	return y, nil
}

func (repo academicRepository) QueryYears(ctx context.Context, filter academic.YearFilter) ([]academic.AcademicYear, error) {
	qb := psql.Select("id, name, start_date, end_date, is_current, created_at").
		From("academic_year").
		OrderBy("start_date DESC")
	if filter.IsCurrent != nil {
		qb = qb.Where(sq.Eq{"is_current": *filter.IsCurrent})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	years := make([]academic.AcademicYear, 0)
	if err := repo.selectAll(ctx, repo.db, &years, qb); err != nil {
		return nil, errors.Wrap(err, "querying academic years")
	}
	return years, nil
}

func (repo academicRepository) SetCurrentYear(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return errors.Wrap(repo.setCurrent(ctx, repo.getExec(exec), "academic_year", id, nil), "setting current year")
}

// Periods

func (repo academicRepository) CreatePeriod(ctx context.Context, p academic.Period, exec ...core.DBExecutor) (academic.Period, error) {
	p.ID = newID()
	qb := psql.Insert("period").
		Columns("id", "academic_year_id", "name", "start_date", "end_date", "is_current").
		Values(p.ID, p.AcademicYearID, p.Name, p.StartDate, p.EndDate, false)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return academic.Period{}, errors.Wrap(err, "inserting period")
	}
	return p, nil
}

func (repo academicRepository) QueryPeriods(ctx context.Context, filter academic.PeriodFilter) ([]academic.Period, error) {
	qb := psql.Select("id, academic_year_id, name, start_date, end_date, is_current").
		From("period").
		OrderBy("start_date ASC")
	if filter.AcademicYearID != "" {
		qb = qb.Where(sq.Eq{"academic_year_id": filter.AcademicYearID})
	}
	if filter.IsCurrent != nil {
		qb = qb.Where(sq.Eq{"is_current": *filter.IsCurrent})
	}
	if !filter.Date.IsZero() {
		qb = qb.Where(sq.LtOrEq{"start_date": filter.Date}).Where(sq.GtOrEq{"end_date": filter.Date})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	periods := make([]academic.Period, 0)
	if err := repo.selectAll(ctx, repo.db, &periods, qb); err != nil {
		return nil, errors.Wrap(err, "querying periods")
	}
	return periods, nil
}

func (repo academicRepository) SetCurrentPeriod(ctx context.Context, yearID, id string, exec ...core.DBExecutor) error {
	err := repo.setCurrent(ctx, repo.getExec(exec), "period", id, sq.Eq{"academic_year_id": yearID})
	return errors.Wrap(err, "setting current period")
}

// Subjects

func (repo academicRepository) CreateSubject(ctx context.Context, s academic.Subject) (academic.Subject, error) {
	s.ID = newID()
	qb := psql.Insert("subject").
		Columns("id", "name", "code", "description", "coefficient", "color").
		Values(s.ID, s.Name, s.Code, s.Description, s.Coefficient, s.Color)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return academic.Subject{}, trapUniqueErr(err, academic.ErrSubjectCodeExists, "inserting subject")
	}
	return s, nil
}

func (repo academicRepository) QuerySubjects(ctx context.Context, filter academic.SubjectFilter, ordering []core.DBOrdering) ([]academic.Subject, error) {
	qb := psql.Select("id, name, code, description, coefficient, color").
		From("subject").
		OrderBy(orderBy(ordering, subjectOrderings, "name ASC")...)
	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "name", "code"))
	}
	if filter.Code != "" {
		qb = qb.Where(sq.Eq{"code": filter.Code})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	subjects := make([]academic.Subject, 0)
	if err := repo.selectAll(ctx, repo.db, &subjects, qb); err != nil {
		return nil, errors.Wrap(err, "querying subjects")
	}
	return subjects, nil
}

// Classrooms

func (repo academicRepository) CreateClassRoom(ctx context.Context, c academic.ClassRoom) (academic.ClassRoom, error) {
	c.ID = newID()
	qb := psql.Insert("classroom").
		Columns("id", "name", "level", "academic_year_id", "head_teacher_id", "capacity", "room", "created_at").
		Values(c.ID, c.Name, c.Level, c.AcademicYearID, c.HeadTeacherID, c.Capacity, c.Room, c.CreatedAt)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return academic.ClassRoom{}, trapUniqueErr(err, academic.ErrClassRoomExists, "inserting classroom")
	}
	c.EnrolledCount = 0
	return c, nil
}

func (repo academicRepository) QueryClassRooms(ctx context.Context, filter academic.ClassRoomFilter, ordering []core.DBOrdering) ([]academic.ClassRoom, error) {
	qb := psql.Select("c.id, c.name, c.level, c.academic_year_id, c.head_teacher_id, c.capacity, c.room, c.created_at",
		"(SELECT COUNT(*) FROM enrollment e WHERE e.classroom_id = c.id AND e.is_active AND e.withdrawal_date IS NULL) AS enrolled_count").
		From("classroom c").
		OrderBy(orderBy(ordering, classroomOrderings, "c.level ASC", "c.name ASC")...)
	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "c.name", "c.level", "c.room"))
	}
	if filter.Level != "" {
		qb = qb.Where(sq.Eq{"c.level": filter.Level})
	}
	if filter.AcademicYearID != "" {
		qb = qb.Where(sq.Eq{"c.academic_year_id": filter.AcademicYearID})
	}
	if filter.Name != "" {
		qb = qb.Where("LOWER(c.name) = LOWER(?)", filter.Name)
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("c.id::text", filter.IDs))
	}
	qb = scopeClassRooms(qb, filter.Scope)

	classrooms := make([]academic.ClassRoom, 0)
	if err := repo.selectAll(ctx, repo.db, &classrooms, qb); err != nil {
		return nil, errors.Wrap(err, "querying classrooms")
	}
	return classrooms, nil
}

// Teacher assignments

func (repo academicRepository) CreateAssignment(ctx context.Context, a academic.TeacherAssignment) (academic.TeacherAssignment, error) {
	a.ID = newID()
	qb := psql.Insert("teacher_assignment").
		Columns("id", "teacher_id", "classroom_id", "subject_id", "academic_year_id", "hours_per_week").
		Values(a.ID, a.TeacherID, a.ClassRoomID, a.SubjectID, a.AcademicYearID, a.HoursPerWeek)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return academic.TeacherAssignment{}, trapUniqueErr(err, academic.ErrAssignmentExists, "inserting assignment")
	}
	return a, nil
}

func (repo academicRepository) QueryAssignments(ctx context.Context, filter academic.AssignmentFilter) ([]academic.TeacherAssignment, error) {
	qb := psql.Select("ta.id, ta.teacher_id, ta.classroom_id, ta.subject_id, ta.academic_year_id, ta.hours_per_week").
		From("teacher_assignment ta").
		OrderBy("ta.classroom_id", "ta.subject_id")
	if filter.TeacherID != "" {
		qb = qb.Where(sq.Eq{"ta.teacher_id": filter.TeacherID})
	}
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"ta.classroom_id": filter.ClassRoomID})
	}
	if filter.SubjectID != "" {
		qb = qb.Where(sq.Eq{"ta.subject_id": filter.SubjectID})
	}
	if filter.AcademicYearID != "" {
		qb = qb.Where(sq.Eq{"ta.academic_year_id": filter.AcademicYearID})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("ta.id::text", filter.IDs))
	}
	qb = byTeacher(qb, filter.Scope, "ta.teacher_id", "ta.classroom_id")

	assignments := make([]academic.TeacherAssignment, 0)
	if err := repo.selectAll(ctx, repo.db, &assignments, qb); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	return assignments, nil
}

func (repo academicRepository) DeleteAssignment(ctx context.Context, id string) error {
	_, err := repo.exec(ctx, repo.db, psql.Delete("teacher_assignment").Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "deleting assignment")
}

// Enrollments

func (repo academicRepository) CreateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	e.ID = newID()
	qb := psql.Insert("enrollment").
		Columns("id", "student_id", "classroom_id", "academic_year_id", "enrollment_date", "withdrawal_date", "is_active").
		Values(e.ID, e.StudentID, e.ClassRoomID, e.AcademicYearID, e.EnrollmentDate, e.WithdrawalDate, e.IsActive)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return academic.Enrollment{}, trapUniqueErr(err, academic.ErrAlreadyEnrolled, "inserting enrollment")
	}
	return e, nil
}

func (repo academicRepository) UpdateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	qb := psql.Update("enrollment").
		SetMap(map[string]interface{}{
			"classroom_id":    e.ClassRoomID,
			"enrollment_date": e.EnrollmentDate,
			"withdrawal_date": e.WithdrawalDate,
			"is_active":       e.IsActive,
		}).
		Where(sq.Eq{"id": e.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return academic.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n == 0 {
		return academic.Enrollment{}, academic.ErrEnrollmentNotFound
	}
	return e, nil
}

func (repo academicRepository) QueryEnrollments(ctx context.Context, filter academic.EnrollmentFilter, ordering []core.DBOrdering) ([]academic.Enrollment, error) {
	qb := psql.Select("e.id, e.student_id, e.classroom_id, e.academic_year_id, e.enrollment_date, e.withdrawal_date, e.is_active").
		From("enrollment e").
		OrderBy(orderBy(ordering, enrollmentOrderings, "e.enrollment_date DESC")...)
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"e.student_id": filter.StudentID})
	}
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"e.classroom_id": filter.ClassRoomID})
	}
	if filter.AcademicYearID != "" {
		qb = qb.Where(sq.Eq{"e.academic_year_id": filter.AcademicYearID})
	}
	if filter.IsActive != nil {
		qb = qb.Where(sq.Eq{"e.is_active": *filter.IsActive})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("e.id::text", filter.IDs))
	}
	qb = scopeEnrollments(qb, filter.Scope)

	enrollments := make([]academic.Enrollment, 0)
	if err := repo.selectAll(ctx, repo.db, &enrollments, qb); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	return enrollments, nil
}

// Timetable

func (repo academicRepository) CreateSlot(ctx context.Context, s academic.TimetableSlot) (academic.TimetableSlot, error) {
	s.ID = newID()
	qb := psql.Insert("timetable_slot").
		Columns("id", "classroom_id", "subject_id", "teacher_id", "weekday", "start_time", "end_time", "room", "period_id").
		Values(s.ID, s.ClassRoomID, s.SubjectID, s.TeacherID, s.Weekday, s.StartTime, s.EndTime, s.Room, s.PeriodID)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return academic.TimetableSlot{}, errors.Wrap(err, "inserting timetable slot")
	}
	return s, nil
}

func (repo academicRepository) QuerySlots(ctx context.Context, filter academic.SlotFilter, ordering []core.DBOrdering) ([]academic.TimetableSlot, error) {
	qb := psql.Select("ts.id, ts.classroom_id, ts.subject_id, ts.teacher_id, ts.weekday, ts.start_time, ts.end_time, ts.room, ts.period_id").
		From("timetable_slot ts").
		OrderBy(orderBy(ordering, slotOrderings, "ts.weekday ASC", "ts.start_time ASC")...)
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"ts.classroom_id": filter.ClassRoomID})
	}
	if filter.TeacherID != "" {
		qb = qb.Where(sq.Eq{"ts.teacher_id": filter.TeacherID})
	}
	if filter.SubjectID != "" {
		qb = qb.Where(sq.Eq{"ts.subject_id": filter.SubjectID})
	}
	if filter.Weekday != 0 {
		qb = qb.Where(sq.Eq{"ts.weekday": filter.Weekday})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("ts.id::text", filter.IDs))
	}
	qb = byTeacher(qb, filter.Scope, "ts.teacher_id", "ts.classroom_id")

	slots := make([]academic.TimetableSlot, 0)
	if err := repo.selectAll(ctx, repo.db, &slots, qb); err != nil {
		return nil, errors.Wrap(err, "querying timetable")
	}
	return slots, nil
}

func (repo academicRepository) DeleteSlot(ctx context.Context, id string) error {
	_, err := repo.exec(ctx, repo.db, psql.Delete("timetable_slot").Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "deleting timetable slot")
}

// Grades

func (repo academicRepository) CreateGrade(ctx context.Context, g academic.Grade) (academic.Grade, error) {
	g.ID = newID()
	qb := psql.Insert("grade").
		Columns("id", "student_id", "subject_id", "teacher_id", "classroom_id", "period_id", "name", "type",
			"score", "max_score", "coefficient", "date", "comments", "created_at").
		Values(g.ID, g.StudentID, g.SubjectID, g.TeacherID, g.ClassRoomID, g.PeriodID, g.Name, g.Type,
			g.Score, g.MaxScore, g.Coefficient, g.Date, g.Comments, g.CreatedAt)
	if _, err := repo.exec(ctx, repo.db, qb); err != nil {
		return academic.Grade{}, errors.Wrap(err, "inserting grade")
	}
	return g, nil
}

func (repo academicRepository) UpdateGrade(ctx context.Context, g academic.Grade) (academic.Grade, error) {
	qb := psql.Update("grade").
		SetMap(map[string]interface{}{
			"name":     g.Name,
			"score":    g.Score,
			"comments": g.Comments,
		}).
		Where(sq.Eq{"id": g.ID})
	n, err := repo.exec(ctx, repo.db, qb)
	if err != nil {
		return academic.Grade{}, errors.Wrap(err, "updating grade")
	}
	if n == 0 {
		return academic.Grade{}, academic.ErrGradeNotFound
	}
	return g, nil
}

func (repo academicRepository) QueryGrades(ctx context.Context, filter academic.GradeFilter, ordering []core.DBOrdering) ([]academic.Grade, error) {
	qb := psql.Select("g.id, g.student_id, g.subject_id, g.teacher_id, g.classroom_id, g.period_id, g.name, g.type," +
		" g.score, g.max_score, g.coefficient, g.date, g.comments, g.created_at").
		From("grade g").
		OrderBy(orderBy(ordering, gradeOrderings, "g.date DESC", "g.created_at DESC")...)
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"g.student_id": filter.StudentID})
	}
	if filter.SubjectID != "" {
		qb = qb.Where(sq.Eq{"g.subject_id": filter.SubjectID})
	}
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"g.classroom_id": filter.ClassRoomID})
	}
	if filter.PeriodID != "" {
		qb = qb.Where(sq.Eq{"g.period_id": filter.PeriodID})
	}
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"g.type": filter.Type})
	}
	qb = dateRange(qb, "g.date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("g.id::text", filter.IDs))
	}
	qb = scopeGrades(qb, filter.Scope)

	grades := make([]academic.Grade, 0)
	if err := repo.selectAll(ctx, repo.db, &grades, qb); err != nil {
		return nil, errors.Wrap(err, "querying grades")
	}
	return grades, nil
}

func (repo academicRepository) DeleteGrade(ctx context.Context, id string) error {
	_, err := repo.exec(ctx, repo.db, psql.Delete("grade").Where(sq.Eq{"id": id}))
	return errors.Wrap(err, "deleting grade")
}
