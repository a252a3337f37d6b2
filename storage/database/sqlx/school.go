package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
)

const personColumns = "u.first_name, u.last_name, u.email, u.phone"

var (
	studentOrderings = map[string]string{
		"matricule":       "s.matricule",
		"first_name":      "u.first_name",
		"last_name":       "u.last_name",
		"date_of_birth":   "s.date_of_birth",
		"enrollment_date": "s.enrollment_date",
		"created_at":      "s.created_at",
	}
	parentOrderings = map[string]string{
		"first_name": "u.first_name",
		"last_name":  "u.last_name",
		"created_at": "p.created_at",
	}
	teacherOrderings = map[string]string{
		"employee_id": "t.employee_id",
		"first_name":  "u.first_name",
		"last_name":   "u.last_name",
		"hire_date":   "t.hire_date",
		"created_at":  "t.created_at",
	}
)

type schoolRepository struct {
	base
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db core.DBExecutor) *schoolRepository {
	return &schoolRepository{base{db: db}}
}

type link struct {
	StudentID string `db:"student_id"`
	ParentID  string `db:"parent_id"`
}

func (repo schoolRepository) links(ctx context.Context, col string, ids []string) ([]link, error) {
	links := make([]link, 0)
	if len(ids) == 0 {
		return links, nil
	}
	qb := psql.Select("student_id", "parent_id").From("student_parent").Where(anyOf(col, ids))
	if err := repo.selectAll(ctx, repo.db, &links, qb); err != nil {
		return nil, errors.Wrap(err, "querying student parents")
	}
	return links, nil
}

// Students

func (repo schoolRepository) CreateStudent(ctx context.Context, s school.Student, exec ...core.DBExecutor) (school.Student, error) {
	s.ID = newID()
	qb := psql.Insert("student").
		Columns("id", "user_id", "matricule", "date_of_birth", "enrollment_date", "current_class_id", "is_graduated", "graduation_date", "created_at").
		Values(s.ID, s.UserID, s.Matricule, s.DateOfBirth, s.EnrollmentDate, s.CurrentClassID, s.IsGraduated, s.GraduationDate, s.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return school.Student{}, trapUniqueErr(err, school.ErrProfileExists, "inserting student")
	}
	return s, nil
}

func (repo schoolRepository) UpdateStudent(ctx context.Context, s school.Student, exec ...core.DBExecutor) (school.Student, error) {
	qb := psql.Update("student").
		SetMap(map[string]interface{}{
			"date_of_birth":    s.DateOfBirth,
			"enrollment_date":  s.EnrollmentDate,
			"current_class_id": s.CurrentClassID,
			"is_graduated":     s.IsGraduated,
			"graduation_date":  s.GraduationDate,
		}).
		Where(sq.Eq{"id": s.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return school.Student{}, errors.Wrap(err, "updating student")
	}
	if n == 0 {
		return school.Student{}, school.ErrStudentNotFound
	}
	return s, nil
}

func (repo schoolRepository) studentsQuery(filter school.StudentFilter, ordering []core.DBOrdering) sq.SelectBuilder {
	qb := psql.Select("s.id, s.user_id, s.matricule, s.date_of_birth, s.enrollment_date, s.current_class_id,"+
		" s.is_graduated, s.graduation_date, s.created_at, "+personColumns).
		From("student s").
		Join(`"user" u ON u.id = s.user_id`).
		OrderBy(orderBy(ordering, studentOrderings, "u.last_name ASC", "u.first_name ASC")...)

	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "u.first_name", "u.last_name", "u.email", "s.matricule"))
	}
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"s.current_class_id": filter.ClassRoomID})
	}
	if filter.IsGraduated != nil {
		qb = qb.Where(sq.Eq{"s.is_graduated": *filter.IsGraduated})
	}
	if filter.ParentID != "" {
		qb = qb.Where("s.id IN (SELECT student_id FROM student_parent WHERE parent_id = ?)", filter.ParentID)
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("s.id::text", filter.IDs))
	}
	if filter.UserID != "" {
		qb = qb.Where(sq.Eq{"s.user_id": filter.UserID})
	}
	return scopeStudents(qb, filter.Scope)
}

func (repo schoolRepository) QueryStudents(ctx context.Context, filter school.StudentFilter, ordering []core.DBOrdering) ([]school.Student, error) {
	students := make([]school.Student, 0)
	if err := repo.selectAll(ctx, repo.db, &students, repo.studentsQuery(filter, ordering)); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}

	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
	}
	links, err := repo.links(ctx, "student_id", ids)
	if err != nil {
		return nil, err
	}
	parents := make(map[string][]string, len(students))
	for _, l := range links {
		parents[l.StudentID] = append(parents[l.StudentID], l.ParentID)
	}
	for i := range students {
		students[i].ParentIDs = parents[students[i].ID]
		if students[i].ParentIDs == nil {
			students[i].ParentIDs = []string{}
		}
	}
	return students, nil
}

func (repo schoolRepository) LastMatricule(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	last, err := repo.lastValue(ctx, repo.getExec(exec), "student", "matricule", prefix)
	return last, errors.Wrap(err, "finding last matricule")
}

// Parents

func (repo schoolRepository) CreateParent(ctx context.Context, p school.Parent, exec ...core.DBExecutor) (school.Parent, error) {
	p.ID = newID()
	qb := psql.Insert("parent").
		Columns("id", "user_id", "profession", "workplace", "relationship", "created_at").
		Values(p.ID, p.UserID, p.Profession, p.Workplace, p.Relationship, p.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return school.Parent{}, trapUniqueErr(err, school.ErrProfileExists, "inserting parent")
	}
	return p, nil
}

func (repo schoolRepository) QueryParents(ctx context.Context, filter school.ParentFilter, ordering []core.DBOrdering) ([]school.Parent, error) {
	qb := psql.Select("p.id, p.user_id, p.profession, p.workplace, p.relationship, p.created_at, " + personColumns).
		From("parent p").
		Join(`"user" u ON u.id = p.user_id`).
		OrderBy(orderBy(ordering, parentOrderings, "u.last_name ASC", "u.first_name ASC")...)

	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "u.first_name", "u.last_name", "u.email"))
	}
	if filter.StudentID != "" {
		qb = qb.Where("p.id IN (SELECT parent_id FROM student_parent WHERE student_id = ?)", filter.StudentID)
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("p.id::text", filter.IDs))
	}
	if filter.UserID != "" {
		qb = qb.Where(sq.Eq{"p.user_id": filter.UserID})
	}
	qb = scopeParents(qb, filter.Scope)

	parents := make([]school.Parent, 0)
	if err := repo.selectAll(ctx, repo.db, &parents, qb); err != nil {
		return nil, errors.Wrap(err, "querying parents")
	}

	ids := make([]string, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, p.ID)
	}
	links, err := repo.links(ctx, "parent_id", ids)
	if err != nil {
		return nil, err
	}
	children := make(map[string][]string, len(parents))
	for _, l := range links {
		children[l.ParentID] = append(children[l.ParentID], l.StudentID)
	}
	for i := range parents {
		parents[i].ChildIDs = children[parents[i].ID]
		if parents[i].ChildIDs == nil {
			parents[i].ChildIDs = []string{}
		}
	}
	return parents, nil
}

func (repo schoolRepository) LinkParent(ctx context.Context, studentID, parentID string, exec ...core.DBExecutor) error {
	qb := psql.Insert("student_parent").Columns("student_id", "parent_id").Values(studentID, parentID).
		Suffix("ON CONFLICT DO NOTHING")
	_, err := repo.exec(ctx, repo.getExec(exec), qb)
	return errors.Wrap(err, "linking parent")
}

func (repo schoolRepository) UnlinkParent(ctx context.Context, studentID, parentID string) error {
	qb := psql.Delete("student_parent").Where(sq.Eq{"student_id": studentID, "parent_id": parentID})
	_, err := repo.exec(ctx, repo.db, qb)
	return errors.Wrap(err, "unlinking parent")
}

// Teachers

func (repo schoolRepository) CreateTeacher(ctx context.Context, t school.Teacher, exec ...core.DBExecutor) (school.Teacher, error) {
	t.ID = newID()
	qb := psql.Insert("teacher").
		Columns("id", "user_id", "employee_id", "hire_date", "specialization", "is_head_teacher", "is_active_employee", "created_at").
		Values(t.ID, t.UserID, t.EmployeeID, t.HireDate, t.Specialization, t.IsHeadTeacher, t.IsActiveEmployee, t.CreatedAt)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return school.Teacher{}, trapUniqueErr(err, school.ErrProfileExists, "inserting teacher")
	}
	return t, nil
}

func (repo schoolRepository) QueryTeachers(ctx context.Context, filter school.TeacherFilter, ordering []core.DBOrdering) ([]school.Teacher, error) {
	qb := psql.Select("t.id, t.user_id, t.employee_id, t.hire_date, t.specialization, t.is_head_teacher,"+
		" t.is_active_employee, t.created_at, "+personColumns).
		From("teacher t").
		Join(`"user" u ON u.id = t.user_id`).
		OrderBy(orderBy(ordering, teacherOrderings, "u.last_name ASC", "u.first_name ASC")...)

	if filter.Search != "" {
		qb = qb.Where(ilike(filter.Search, "u.first_name", "u.last_name", "u.email", "t.employee_id", "t.specialization"))
	}
	if filter.IsActiveEmployee != nil {
		qb = qb.Where(sq.Eq{"t.is_active_employee": *filter.IsActiveEmployee})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("t.id::text", filter.IDs))
	}
	if filter.UserID != "" {
		qb = qb.Where(sq.Eq{"t.user_id": filter.UserID})
	}
	qb = scopeTeachers(qb, filter.Scope)

	teachers := make([]school.Teacher, 0)
	if err := repo.selectAll(ctx, repo.db, &teachers, qb); err != nil {
		return nil, errors.Wrap(err, "querying teachers")
	}
	return teachers, nil
}

func (repo schoolRepository) LastEmployeeID(ctx context.Context, prefix string, exec ...core.DBExecutor) (string, error) {
	last, err := repo.lastValue(ctx, repo.getExec(exec), "teacher", "employee_id", prefix)
	return last, errors.Wrap(err, "finding last employee ID")
}

func (repo schoolRepository) FindProfiles(ctx context.Context, userID string) (rbac.Profiles, error) {
	var row struct {
		StudentID sql.NullString `db:"student_id"`
		ParentID  sql.NullString `db:"parent_id"`
		TeacherID sql.NullString `db:"teacher_id"`
		ChildIDs  pq.StringArray `db:"child_ids"`
	}
	const query = `SELECT
		(SELECT id FROM student WHERE user_id = $1) AS student_id,
		(SELECT id FROM parent WHERE user_id = $1) AS parent_id,
		(SELECT id FROM teacher WHERE user_id = $1) AS teacher_id,
		ARRAY(SELECT sp.student_id::text FROM student_parent sp JOIN parent p ON p.id = sp.parent_id
			WHERE p.user_id = $1 ORDER BY sp.student_id) AS child_ids`
	if err := repo.db.GetContext(ctx, &row, query, userID); err != nil {
		return rbac.Profiles{}, errors.Wrap(err, "finding profiles")
	}
	return rbac.Profiles{
		StudentID: row.StudentID.String,
		ParentID:  row.ParentID.String,
		TeacherID: row.TeacherID.String,
		ChildIDs:  []string(row.ChildIDs),
	}, nil
}
