package academic

import (
	"context"
	"sort"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
)

var (
	// errors
	ErrYearNotFound       = core.NewNotFoundError("academic year")
	ErrPeriodNotFound     = core.NewNotFoundError("period")
	ErrSubjectNotFound    = core.NewNotFoundError("subject")
	ErrClassRoomNotFound  = core.NewNotFoundError("classroom")
	ErrAssignmentNotFound = core.NewNotFoundError("assignment")
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment")
	ErrSlotNotFound       = core.NewNotFoundError("timetable slot")
	ErrGradeNotFound      = core.NewNotFoundError("grade")

	ErrSubjectCodeExists = errors.New("a subject with this code already exists")
	ErrClassRoomExists   = errors.New("a classroom with this name already exists for this academic year")
	ErrAssignmentExists  = errors.New("this teacher is already assigned to this subject in this classroom")
	ErrAlreadyEnrolled   = errors.New("the student is already enrolled for this academic year")
	ErrClassRoomFull     = errors.New("the classroom is full")
	ErrAlreadyWithdrawn  = errors.New("the enrollment is already withdrawn")
	ErrClassRoomConflict = errors.New("the classroom already has a lesson at this time")
	ErrTeacherConflict   = errors.New("the teacher already has a lesson at this time")
	ErrNotEnrolled       = errors.New("the student is not enrolled in this classroom")
	ErrPeriodOutsideYear = errors.New("the period must be within its academic year")

	nowFunc = time.Now // mockable
)

var admin = rbac.Principal{Role: user.RoleAdmin}

type (
	Repository interface {
		CreateYear(ctx context.Context, y AcademicYear, exec ...core.DBExecutor) (AcademicYear, error)
		QueryYears(ctx context.Context, filter YearFilter) ([]AcademicYear, error)
		// SetCurrentYear flags the year with this ID as current and every other one as not current.
		SetCurrentYear(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreatePeriod(ctx context.Context, p Period, exec ...core.DBExecutor) (Period, error)
		QueryPeriods(ctx context.Context, filter PeriodFilter) ([]Period, error)
		// SetCurrentPeriod does SetCurrentYear among the periods of the same academic year.
		SetCurrentPeriod(ctx context.Context, yearID, id string, exec ...core.DBExecutor) error

		CreateSubject(ctx context.Context, s Subject) (Subject, error)
		QuerySubjects(ctx context.Context, filter SubjectFilter, ordering []core.DBOrdering) ([]Subject, error)

		CreateClassRoom(ctx context.Context, c ClassRoom) (ClassRoom, error)
		QueryClassRooms(ctx context.Context, filter ClassRoomFilter, ordering []core.DBOrdering) ([]ClassRoom, error)

		CreateAssignment(ctx context.Context, a TeacherAssignment) (TeacherAssignment, error)
		QueryAssignments(ctx context.Context, filter AssignmentFilter) ([]TeacherAssignment, error)
		DeleteAssignment(ctx context.Context, id string) error

		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter EnrollmentFilter, ordering []core.DBOrdering) ([]Enrollment, error)

		CreateSlot(ctx context.Context, s TimetableSlot) (TimetableSlot, error)
		QuerySlots(ctx context.Context, filter SlotFilter, ordering []core.DBOrdering) ([]TimetableSlot, error)
		DeleteSlot(ctx context.Context, id string) error

		CreateGrade(ctx context.Context, g Grade) (Grade, error)
		UpdateGrade(ctx context.Context, g Grade) (Grade, error)
		QueryGrades(ctx context.Context, filter GradeFilter, ordering []core.DBOrdering) ([]Grade, error)
		DeleteGrade(ctx context.Context, id string) error
	}

	Service struct {
		tx              core.Transactor
		repo            Repository
		schoolSvc       *school.Service
		defaultCapacity int
	}
)

func NewService(tx core.Transactor, repo Repository, schoolSvc *school.Service, conf *core.Config) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(schoolSvc, "schoolSvc"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &Service{tx: tx, repo: repo, schoolSvc: schoolSvc, defaultCapacity: conf.School.ClassroomCapacity}
}

// Academic years & periods

func (svc *Service) CreateYear(ctx context.Context, ny NewAcademicYear) (AcademicYear, error) {
	var created AcademicYear
	err := svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		created, err = svc.repo.CreateYear(ctx, AcademicYear{
			Name:      ny.Name,
			StartDate: ny.StartDate,
			EndDate:   ny.EndDate,
			IsCurrent: ny.IsCurrent,
			CreatedAt: nowFunc().UTC(),
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating academic year")
		}
		if ny.IsCurrent {
			return svc.repo.SetCurrentYear(ctx, created.ID, exec)
		}
		return nil
	})
	return created, err
}

func (svc *Service) QueryYears(ctx context.Context, filter YearFilter) ([]AcademicYear, error) {
	return svc.repo.QueryYears(ctx, filter)
}

func (svc *Service) GetYear(ctx context.Context, id string) (AcademicYear, error) {
	years, err := svc.repo.QueryYears(ctx, YearFilter{IDs: []string{id}})
	if err != nil {
		return AcademicYear{}, errors.Wrap(err, "querying academic years")
	}
	if len(years) == 0 {
		return AcademicYear{}, ErrYearNotFound
	}
	return years[0], nil
}

// CurrentYear returns the academic year flagged as current.
func (svc *Service) CurrentYear(ctx context.Context) (AcademicYear, error) {
	isCurrent := true
	years, err := svc.repo.QueryYears(ctx, YearFilter{IsCurrent: &isCurrent})
	if err != nil {
		return AcademicYear{}, errors.Wrap(err, "querying academic years")
	}
	if len(years) == 0 {
		return AcademicYear{}, ErrYearNotFound
	}
	return years[0], nil
}

func (svc *Service) SetCurrentYear(ctx context.Context, id string) (AcademicYear, error) {
	if _, err := svc.GetYear(ctx, id); err != nil {
		return AcademicYear{}, err
	}
	if err := svc.repo.SetCurrentYear(ctx, id); err != nil {
		return AcademicYear{}, errors.Wrap(err, "setting current year")
	}
	return svc.GetYear(ctx, id)
}

func (svc *Service) CreatePeriod(ctx context.Context, np NewPeriod) (Period, error) {
	year, err := svc.GetYear(ctx, np.AcademicYearID)
	if err != nil {
		if core.IsNotFound(err) {
			return Period{}, core.NewFieldError("academic_year_id", err.Error())
		}
		return Period{}, err
	}
	if np.StartDate.Before(year.StartDate) || np.EndDate.After(year.EndDate) {
		return Period{}, core.NewFieldError("start_date", ErrPeriodOutsideYear.Error())
	}

	var created Period
	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		created, err = svc.repo.CreatePeriod(ctx, Period{
			AcademicYearID: np.AcademicYearID,
			Name:           np.Name,
			StartDate:      np.StartDate,
			EndDate:        np.EndDate,
			IsCurrent:      np.IsCurrent,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating period")
		}
		if np.IsCurrent {
			return svc.repo.SetCurrentPeriod(ctx, created.AcademicYearID, created.ID, exec)
		}
		return nil
	})
	return created, err
}

func (svc *Service) QueryPeriods(ctx context.Context, filter PeriodFilter) ([]Period, error) {
	return svc.repo.QueryPeriods(ctx, filter)
}

func (svc *Service) GetPeriod(ctx context.Context, id string) (Period, error) {
	periods, err := svc.repo.QueryPeriods(ctx, PeriodFilter{IDs: []string{id}})
	if err != nil {
		return Period{}, errors.Wrap(err, "querying periods")
	}
	if len(periods) == 0 {
		return Period{}, ErrPeriodNotFound
	}
	return periods[0], nil
}

func (svc *Service) SetCurrentPeriod(ctx context.Context, id string) (Period, error) {
	p, err := svc.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if err := svc.repo.SetCurrentPeriod(ctx, p.AcademicYearID, id); err != nil {
		return Period{}, errors.Wrap(err, "setting current period")
	}
	p.IsCurrent = true
	return p, nil
}

// PeriodAt returns the ID of the period containing date, or "" if there is none.
func (svc *Service) PeriodAt(ctx context.Context, date core.Date) (string, error) {
	periods, err := svc.repo.QueryPeriods(ctx, PeriodFilter{Date: date})
	if err != nil {
		return "", errors.Wrap(err, "querying periods")
	}
	if len(periods) == 0 {
		return "", nil
	}
	return periods[0].ID, nil
}

// Subjects

func (svc *Service) CreateSubject(ctx context.Context, ns NewSubject) (Subject, error) {
	existing, err := svc.repo.QuerySubjects(ctx, SubjectFilter{Code: ns.Code}, nil)
	if err != nil {
		return Subject{}, errors.Wrap(err, "querying subjects")
	}
	if len(existing) > 0 {
		return Subject{}, core.NewFieldError("code", ErrSubjectCodeExists.Error())
	}
	return svc.repo.CreateSubject(ctx, Subject{
		Name:        ns.Name,
		Code:        ns.Code,
		Description: ns.Description,
		Coefficient: ns.Coefficient,
		Color:       ns.Color,
	})
}

func (svc *Service) QuerySubjects(ctx context.Context, filter SubjectFilter, ordering []core.DBOrdering) ([]Subject, error) {
	return svc.repo.QuerySubjects(ctx, filter, ordering)
}

func (svc *Service) GetSubject(ctx context.Context, id string) (Subject, error) {
	subjects, err := svc.repo.QuerySubjects(ctx, SubjectFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Subject{}, errors.Wrap(err, "querying subjects")
	}
	if len(subjects) == 0 {
		return Subject{}, ErrSubjectNotFound
	}
	return subjects[0], nil
}

// ClassRooms

func (svc *Service) CreateClassRoom(ctx context.Context, nc NewClassRoom) (ClassRoom, error) {
	if _, err := svc.GetYear(ctx, nc.AcademicYearID); err != nil {
		if core.IsNotFound(err) {
			return ClassRoom{}, core.NewFieldError("academic_year_id", err.Error())
		}
		return ClassRoom{}, err
	}
	if nc.HeadTeacherID != "" {
		if _, err := svc.schoolSvc.GetTeacher(ctx, admin, nc.HeadTeacherID); err != nil {
			if core.IsNotFound(err) {
				return ClassRoom{}, core.NewFieldError("head_teacher_id", err.Error())
			}
			return ClassRoom{}, err
		}
	}
	existing, err := svc.repo.QueryClassRooms(ctx, ClassRoomFilter{
		Name:           nc.Name,
		AcademicYearID: nc.AcademicYearID,
		Scope:          rbac.All(),
	}, nil)
	if err != nil {
		return ClassRoom{}, errors.Wrap(err, "querying classrooms")
	}
	if len(existing) > 0 {
		return ClassRoom{}, core.NewFieldError("name", ErrClassRoomExists.Error())
	}

	capacity := nc.Capacity
	if capacity == 0 {
		capacity = svc.defaultCapacity
	}
	return svc.repo.CreateClassRoom(ctx, ClassRoom{
		Name:           nc.Name,
		Level:          nc.Level,
		AcademicYearID: nc.AcademicYearID,
		HeadTeacherID:  null.NewString(nc.HeadTeacherID, nc.HeadTeacherID != ""),
		Capacity:       capacity,
		Room:           nc.Room,
		CreatedAt:      nowFunc().UTC(),
	})
}

func (svc *Service) QueryClassRooms(ctx context.Context, p rbac.Principal, filter ClassRoomFilter, ordering []core.DBOrdering) ([]ClassRoom, error) {
	filter.Scope = p.Scope(rbac.ClassRooms)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryClassRooms(ctx, filter, ordering)
}

func (svc *Service) GetClassRoom(ctx context.Context, p rbac.Principal, id string) (ClassRoom, error) {
	classrooms, err := svc.QueryClassRooms(ctx, p, ClassRoomFilter{IDs: []string{id}}, nil)
	if err != nil {
		return ClassRoom{}, errors.Wrap(err, "querying classrooms")
	}
	if len(classrooms) == 0 {
		return ClassRoom{}, ErrClassRoomNotFound
	}
	return classrooms[0], nil
}

// Teacher assignments

func (svc *Service) CreateAssignment(ctx context.Context, na NewAssignment) (TeacherAssignment, error) {
	if _, err := svc.schoolSvc.GetTeacher(ctx, admin, na.TeacherID); err != nil {
		if core.IsNotFound(err) {
			return TeacherAssignment{}, core.NewFieldError("teacher_id", err.Error())
		}
		return TeacherAssignment{}, err
	}
	classroom, err := svc.GetClassRoom(ctx, admin, na.ClassRoomID)
	if err != nil {
		if core.IsNotFound(err) {
			return TeacherAssignment{}, core.NewFieldError("classroom_id", err.Error())
		}
		return TeacherAssignment{}, err
	}
	if _, err := svc.GetSubject(ctx, na.SubjectID); err != nil {
		if core.IsNotFound(err) {
			return TeacherAssignment{}, core.NewFieldError("subject_id", err.Error())
		}
		return TeacherAssignment{}, err
	}

	existing, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{
		TeacherID:      na.TeacherID,
		ClassRoomID:    na.ClassRoomID,
		SubjectID:      na.SubjectID,
		AcademicYearID: classroom.AcademicYearID,
		Scope:          rbac.All(),
	})
	if err != nil {
		return TeacherAssignment{}, errors.Wrap(err, "querying assignments")
	}
	if len(existing) > 0 {
		return TeacherAssignment{}, core.NewFieldError("teacher_id", ErrAssignmentExists.Error())
	}

	return svc.repo.CreateAssignment(ctx, TeacherAssignment{
		TeacherID:      na.TeacherID,
		ClassRoomID:    na.ClassRoomID,
		SubjectID:      na.SubjectID,
		AcademicYearID: classroom.AcademicYearID,
		HoursPerWeek:   na.HoursPerWeek,
	})
}

// QueryAssignments lists assignments; teachers only see their own.
func (svc *Service) QueryAssignments(ctx context.Context, p rbac.Principal, filter AssignmentFilter) ([]TeacherAssignment, error) {
	filter.Scope = p.Scope(rbac.Teachers)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryAssignments(ctx, filter)
}

func (svc *Service) DeleteAssignment(ctx context.Context, id string) error {
	existing, err := svc.repo.QueryAssignments(ctx, AssignmentFilter{IDs: []string{id}, Scope: rbac.All()})
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if len(existing) == 0 {
		return ErrAssignmentNotFound
	}
	return svc.repo.DeleteAssignment(ctx, id)
}

// Enrollments

// Enroll enrolls a student in a classroom and makes it their current class.
func (svc *Service) Enroll(ctx context.Context, ne NewEnrollment) (Enrollment, error) {
	if _, err := svc.schoolSvc.GetStudent(ctx, admin, ne.StudentID); err != nil {
		if core.IsNotFound(err) {
			return Enrollment{}, core.NewFieldError("student_id", err.Error())
		}
		return Enrollment{}, err
	}
	classroom, err := svc.GetClassRoom(ctx, admin, ne.ClassRoomID)
	if err != nil {
		if core.IsNotFound(err) {
			return Enrollment{}, core.NewFieldError("classroom_id", err.Error())
		}
		return Enrollment{}, err
	}
	if classroom.IsFull() {
		return Enrollment{}, core.NewFieldError("classroom_id", ErrClassRoomFull.Error())
	}

	isActive := true
	active, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{
		StudentID:      ne.StudentID,
		AcademicYearID: classroom.AcademicYearID,
		IsActive:       &isActive,
		Scope:          rbac.All(),
	}, nil)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "querying enrollments")
	}
	if len(active) > 0 {
		return Enrollment{}, core.NewFieldError("student_id", ErrAlreadyEnrolled.Error())
	}

	if ne.EnrollmentDate.IsZero() {
		ne.EnrollmentDate = core.DateOf(nowFunc())
	}

	var created Enrollment
	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		created, err = svc.repo.CreateEnrollment(ctx, Enrollment{
			StudentID:      ne.StudentID,
			ClassRoomID:    ne.ClassRoomID,
			AcademicYearID: classroom.AcademicYearID,
			EnrollmentDate: ne.EnrollmentDate,
			IsActive:       true,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating enrollment")
		}
		return errors.Wrap(svc.schoolSvc.SetCurrentClass(ctx, ne.StudentID, ne.ClassRoomID, exec), "setting current class")
	})
	return created, err
}

func (svc *Service) QueryEnrollments(ctx context.Context, p rbac.Principal, filter EnrollmentFilter, ordering []core.DBOrdering) ([]Enrollment, error) {
	filter.Scope = p.Scope(rbac.Enrollments)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryEnrollments(ctx, filter, ordering)
}

func (svc *Service) GetEnrollment(ctx context.Context, p rbac.Principal, id string) (Enrollment, error) {
	enrollments, err := svc.QueryEnrollments(ctx, p, EnrollmentFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "querying enrollments")
	}
	if len(enrollments) == 0 {
		return Enrollment{}, ErrEnrollmentNotFound
	}
	return enrollments[0], nil
}

// Withdraw deactivates an enrollment as of date (today if zero).
func (svc *Service) Withdraw(ctx context.Context, id string, date core.Date) (Enrollment, error) {
	e, err := svc.GetEnrollment(ctx, admin, id)
	if err != nil {
		return Enrollment{}, err
	}
	if !e.IsActive || !e.WithdrawalDate.IsZero() {
		return Enrollment{}, core.NewFieldError("enrollment", ErrAlreadyWithdrawn.Error())
	}
	if date.IsZero() {
		date = core.DateOf(nowFunc())
	}
	e.IsActive = false
	e.WithdrawalDate = date

	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		if e, err = svc.repo.UpdateEnrollment(ctx, e, exec); err != nil {
			return errors.Wrap(err, "updating enrollment")
		}
		student, err := svc.schoolSvc.GetStudent(ctx, admin, e.StudentID)
		if err != nil {
			return errors.Wrap(err, "finding student")
		}
		if student.CurrentClassID.String == e.ClassRoomID {
			return errors.Wrap(svc.schoolSvc.SetCurrentClass(ctx, e.StudentID, "", exec), "clearing current class")
		}
		return nil
	})
	return e, err
}

// Roster returns the IDs of the students actively enrolled in a classroom.
func (svc *Service) Roster(ctx context.Context, classRoomID string) ([]string, error) {
	isActive := true
	enrollments, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{
		ClassRoomID: classRoomID,
		IsActive:    &isActive,
		Scope:       rbac.All(),
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		if e.WithdrawalDate.IsZero() {
			ids = append(ids, e.StudentID)
		}
	}
	return ids, nil
}

// Timetable

func (svc *Service) CreateSlot(ctx context.Context, ns NewTimetableSlot) (TimetableSlot, error) {
	if _, err := svc.GetClassRoom(ctx, admin, ns.ClassRoomID); err != nil {
		if core.IsNotFound(err) {
			return TimetableSlot{}, core.NewFieldError("classroom_id", err.Error())
		}
		return TimetableSlot{}, err
	}
	if _, err := svc.GetSubject(ctx, ns.SubjectID); err != nil {
		if core.IsNotFound(err) {
			return TimetableSlot{}, core.NewFieldError("subject_id", err.Error())
		}
		return TimetableSlot{}, err
	}
	if _, err := svc.schoolSvc.GetTeacher(ctx, admin, ns.TeacherID); err != nil {
		if core.IsNotFound(err) {
			return TimetableSlot{}, core.NewFieldError("teacher_id", err.Error())
		}
		return TimetableSlot{}, err
	}
	if ns.PeriodID != "" {
		if _, err := svc.GetPeriod(ctx, ns.PeriodID); err != nil {
			if core.IsNotFound(err) {
				return TimetableSlot{}, core.NewFieldError("period_id", err.Error())
			}
			return TimetableSlot{}, err
		}
	}

	slot := TimetableSlot{
		ClassRoomID: ns.ClassRoomID,
		SubjectID:   ns.SubjectID,
		TeacherID:   ns.TeacherID,
		Weekday:     ns.Weekday,
		StartTime:   ns.StartTime,
		EndTime:     ns.EndTime,
		Room:        ns.Room,
		PeriodID:    null.NewString(ns.PeriodID, ns.PeriodID != ""),
	}

	conflicts := []struct {
		filter SlotFilter
		field  string
		err    error
	}{
		{SlotFilter{ClassRoomID: ns.ClassRoomID, Weekday: ns.Weekday, Scope: rbac.All()}, "start_time", ErrClassRoomConflict},
		{SlotFilter{TeacherID: ns.TeacherID, Weekday: ns.Weekday, Scope: rbac.All()}, "teacher_id", ErrTeacherConflict},
	}
	for _, c := range conflicts {
		slots, err := svc.repo.QuerySlots(ctx, c.filter, nil)
		if err != nil {
			return TimetableSlot{}, errors.Wrap(err, "querying timetable")
		}
		for _, other := range slots {
			if slot.Overlaps(other) {
				return TimetableSlot{}, core.NewFieldError(c.field, c.err.Error())
			}
		}
	}

	return svc.repo.CreateSlot(ctx, slot)
}

func (svc *Service) QuerySlots(ctx context.Context, p rbac.Principal, filter SlotFilter, ordering []core.DBOrdering) ([]TimetableSlot, error) {
	filter.Scope = p.Scope(rbac.Timetable)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QuerySlots(ctx, filter, ordering)
}

func (svc *Service) GetSlot(ctx context.Context, p rbac.Principal, id string) (TimetableSlot, error) {
	slots, err := svc.QuerySlots(ctx, p, SlotFilter{IDs: []string{id}}, nil)
	if err != nil {
		return TimetableSlot{}, errors.Wrap(err, "querying timetable")
	}
	if len(slots) == 0 {
		return TimetableSlot{}, ErrSlotNotFound
	}
	return slots[0], nil
}

func (svc *Service) DeleteSlot(ctx context.Context, id string) error {
	if _, err := svc.GetSlot(ctx, admin, id); err != nil {
		return err
	}
	return svc.repo.DeleteSlot(ctx, id)
}

// Grades

// checkGradeWriter returns the teacher recording a grade for ng, and the classroom it belongs to.
// Teachers must be assigned to the subject in a classroom where the student is actively enrolled.
func (svc *Service) checkGradeWriter(ctx context.Context, p rbac.Principal, ng NewGrade) (teacherID, classRoomID string, err error) {
	isActive := true
	enrollments, err := svc.repo.QueryEnrollments(ctx, EnrollmentFilter{
		StudentID:   ng.StudentID,
		ClassRoomID: ng.ClassRoomID,
		IsActive:    &isActive,
		Scope:       rbac.All(),
	}, nil)
	if err != nil {
		return "", "", errors.Wrap(err, "querying enrollments")
	}
	if len(enrollments) == 0 {
		return "", "", core.NewFieldError("student_id", ErrNotEnrolled.Error())
	}

	for _, e := range enrollments {
		filter := AssignmentFilter{ClassRoomID: e.ClassRoomID, SubjectID: ng.SubjectID, Scope: rbac.All()}
		if p.Role == user.RoleTeacher {
			filter.TeacherID = p.TeacherID
		}
		assignments, err := svc.repo.QueryAssignments(ctx, filter)
		if err != nil {
			return "", "", errors.Wrap(err, "querying assignments")
		}
		if len(assignments) > 0 {
			return assignments[0].TeacherID, e.ClassRoomID, nil
		}
	}
	if p.Role == user.RoleTeacher {
		return "", "", core.ErrForbidden
	}
	return "", "", core.NewFieldError("subject_id", "no teacher is assigned to this subject in the student's classroom")
}

func (svc *Service) CreateGrade(ctx context.Context, p rbac.Principal, ng NewGrade) (Grade, error) {
	if p.Role == user.RoleTeacher && p.TeacherID == "" {
		return Grade{}, core.ErrForbidden
	}
	if !p.IsAdmin() && p.Role != user.RoleTeacher {
		return Grade{}, core.ErrForbidden
	}
	subject, err := svc.GetSubject(ctx, ng.SubjectID)
	if err != nil {
		if core.IsNotFound(err) {
			return Grade{}, core.NewFieldError("subject_id", err.Error())
		}
		return Grade{}, err
	}

	teacherID, classRoomID, err := svc.checkGradeWriter(ctx, p, ng)
	if err != nil {
		return Grade{}, err
	}

	if ng.Date.IsZero() {
		ng.Date = core.DateOf(nowFunc())
	}
	if ng.PeriodID == "" {
		if ng.PeriodID, err = svc.PeriodAt(ctx, ng.Date); err != nil {
			return Grade{}, err
		}
	}
	if ng.Coefficient == 0 {
		ng.Coefficient = subject.Coefficient
	}

	return svc.repo.CreateGrade(ctx, Grade{
		StudentID:   ng.StudentID,
		SubjectID:   ng.SubjectID,
		TeacherID:   teacherID,
		ClassRoomID: classRoomID,
		PeriodID:    null.NewString(ng.PeriodID, ng.PeriodID != ""),
		Name:        ng.Name,
		Type:        ng.Type,
		Score:       ng.Score,
		MaxScore:    ng.MaxScore,
		Coefficient: ng.Coefficient,
		Date:        ng.Date,
		Comments:    ng.Comments,
		CreatedAt:   nowFunc().UTC(),
	})
}

func (svc *Service) QueryGrades(ctx context.Context, p rbac.Principal, filter GradeFilter, ordering []core.DBOrdering) ([]Grade, error) {
	filter.Scope = p.Scope(rbac.Grades)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryGrades(ctx, filter, ordering)
}

func (svc *Service) GetGrade(ctx context.Context, p rbac.Principal, id string) (Grade, error) {
	grades, err := svc.QueryGrades(ctx, p, GradeFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Grade{}, errors.Wrap(err, "querying grades")
	}
	if len(grades) == 0 {
		return Grade{}, ErrGradeNotFound
	}
	return grades[0], nil
}

// UpdateGrade edits a grade. Teachers may only edit the grades they recorded.
func (svc *Service) UpdateGrade(ctx context.Context, p rbac.Principal, id string, ug UpdateGrade) (Grade, error) {
	g, err := svc.GetGrade(ctx, p, id)
	if err != nil {
		return Grade{}, err
	}
	if !p.IsAdmin() && g.TeacherID != p.TeacherID {
		return Grade{}, core.ErrForbidden
	}
	if ug.Name != "" {
		g.Name = ug.Name
	}
	if ug.Score != nil {
		if *ug.Score > g.MaxScore {
			return Grade{}, core.NewFieldError("score", scoreMaxText)
		}
		g.Score = *ug.Score
	}
	if ug.Comments != nil {
		g.Comments = core.CleanString(*ug.Comments)
	}
	return svc.repo.UpdateGrade(ctx, g)
}

func (svc *Service) DeleteGrade(ctx context.Context, p rbac.Principal, id string) error {
	g, err := svc.GetGrade(ctx, p, id)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && g.TeacherID != p.TeacherID {
		return core.ErrForbidden
	}
	return svc.repo.DeleteGrade(ctx, id)
}

// StudentAverages computes a student's per-subject averages for a period (every period if empty).
// A subject average is the coefficient-weighted mean of the grade percentages; the overall average
// weights each subject average by the subject coefficient.
func (svc *Service) StudentAverages(ctx context.Context, p rbac.Principal, studentID, periodID string) (Averages, error) {
	if _, err := svc.schoolSvc.GetStudent(ctx, p, studentID); err != nil {
		return Averages{}, err
	}
	grades, err := svc.QueryGrades(ctx, p, GradeFilter{StudentID: studentID, PeriodID: periodID}, nil)
	if err != nil {
		return Averages{}, errors.Wrap(err, "querying grades")
	}

	type acc struct {
		weighted, coefs float64
		count           int
	}
	bySubject := make(map[string]*acc)
	subjectIDs := make([]string, 0)
	for _, g := range grades {
		a, ok := bySubject[g.SubjectID]
		if !ok {
			a = &acc{}
			bySubject[g.SubjectID] = a
			subjectIDs = append(subjectIDs, g.SubjectID)
		}
		a.weighted += g.Percentage() * g.Coefficient
		a.coefs += g.Coefficient
		a.count++
	}

	out := Averages{StudentID: studentID, PeriodID: periodID, Subjects: make([]SubjectAverage, 0, len(subjectIDs))}
	if len(subjectIDs) == 0 {
		return out, nil
	}
	subjects, err := svc.repo.QuerySubjects(ctx, SubjectFilter{IDs: subjectIDs}, nil)
	if err != nil {
		return Averages{}, errors.Wrap(err, "querying subjects")
	}

	var overallWeighted, overallCoefs float64
	for _, s := range subjects {
		a := bySubject[s.ID]
		avg := 0.0
		if a.coefs > 0 {
			avg = a.weighted / a.coefs
		}
		out.Subjects = append(out.Subjects, SubjectAverage{
			SubjectID:   s.ID,
			SubjectName: s.Name,
			Coefficient: s.Coefficient,
			GradeCount:  a.count,
			Average:     core.Round(avg, 2),
		})
		overallWeighted += avg * s.Coefficient
		overallCoefs += s.Coefficient
	}
	sort.Slice(out.Subjects, func(i, j int) bool { return out.Subjects[i].SubjectName < out.Subjects[j].SubjectName })
	if overallCoefs > 0 {
		out.Overall = core.Round(overallWeighted/overallCoefs, 2)
	}
	return out, nil
}
