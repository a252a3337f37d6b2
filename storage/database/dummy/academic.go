package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/rbac"
)

type academicRepository struct {
	db *DB
}

var _ academic.Repository = (*academicRepository)(nil) // interface compliance check

func NewAcademicRepository(db *DB) *academicRepository {
	return &academicRepository{db: db}
}

// Academic years

func (repo *academicRepository) CreateYear(ctx context.Context, y academic.AcademicYear, exec ...core.DBExecutor) (academic.AcademicYear, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	y.ID = newID()
	y.IsCurrent = false
	repo.db.years[y.ID] = &y
	return y, nil
}

func (repo *academicRepository) QueryYears(ctx context.Context, filter academic.YearFilter) ([]academic.AcademicYear, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	years := make([]academic.AcademicYear, 0)
	for _, y := range repo.db.years {
		if (filter.IsCurrent != nil && y.IsCurrent != *filter.IsCurrent) || !inIDs(filter.IDs, y.ID) {
			continue
		}
		years = append(years, *y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i].StartDate.After(years[j].StartDate) })
	return years, nil
}

func (repo *academicRepository) SetCurrentYear(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, y := range repo.db.years {
		y.IsCurrent = y.ID == id
	}
	return nil
}

// Periods

func (repo *academicRepository) CreatePeriod(ctx context.Context, p academic.Period, exec ...core.DBExecutor) (academic.Period, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	p.ID = newID()
	p.IsCurrent = false
	repo.db.periods[p.ID] = &p
	return p, nil
}

func (repo *academicRepository) QueryPeriods(ctx context.Context, filter academic.PeriodFilter) ([]academic.Period, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	periods := make([]academic.Period, 0)
	for _, p := range repo.db.periods {
		if (filter.AcademicYearID != "" && p.AcademicYearID != filter.AcademicYearID) ||
			(filter.IsCurrent != nil && p.IsCurrent != *filter.IsCurrent) ||
			(!filter.Date.IsZero() && !filter.Date.Between(p.StartDate, p.EndDate)) ||
			!inIDs(filter.IDs, p.ID) {
			continue
		}
		periods = append(periods, *p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].StartDate.Before(periods[j].StartDate) })
	return periods, nil
}

func (repo *academicRepository) SetCurrentPeriod(ctx context.Context, yearID, id string, exec ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, p := range repo.db.periods {
		if p.AcademicYearID == yearID {
			p.IsCurrent = p.ID == id
		}
	}
	return nil
}

// Subjects

func (repo *academicRepository) CreateSubject(ctx context.Context, s academic.Subject) (academic.Subject, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.subjects {
		if existing.Code == s.Code {
			return academic.Subject{}, academic.ErrSubjectCodeExists
		}
	}
	s.ID = newID()
	repo.db.subjects[s.ID] = &s
	return s, nil
}

func (repo *academicRepository) QuerySubjects(ctx context.Context, filter academic.SubjectFilter, ordering []core.DBOrdering) ([]academic.Subject, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subjects := make([]academic.Subject, 0)
	for _, s := range repo.db.subjects {
		if !matchSearch(filter.Search, s.Name, s.Code) ||
			(filter.Code != "" && s.Code != filter.Code) ||
			!inIDs(filter.IDs, s.ID) {
			continue
		}
		subjects = append(subjects, *s)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].Name < subjects[j].Name })
	return subjects, nil
}

// Classrooms

func (repo *academicRepository) CreateClassRoom(ctx context.Context, c academic.ClassRoom) (academic.ClassRoom, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.classrooms {
		if existing.Name == c.Name && existing.AcademicYearID == c.AcademicYearID {
			return academic.ClassRoom{}, academic.ErrClassRoomExists
		}
	}
	c.ID = newID()
	c.EnrolledCount = 0
	repo.db.classrooms[c.ID] = &c
	return c, nil
}

func (repo *academicRepository) enrolledCount(classroomID string) int {
	n := 0
	for _, e := range repo.db.enrollments {
		if e.ClassRoomID == classroomID && isActiveEnrollment(e) {
			n++
		}
	}
	return n
}

func (repo *academicRepository) QueryClassRooms(ctx context.Context, filter academic.ClassRoomFilter, ordering []core.DBOrdering) ([]academic.ClassRoom, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classrooms := make([]academic.ClassRoom, 0)
	for _, c := range repo.db.classrooms {
		ok := visible(filter.Scope,
			func(teacherID string) bool { return repo.db.teacherClassRooms(teacherID)[c.ID] },
			func(ids []string) bool { return repo.db.studentsClassRooms(ids)[c.ID] })
		if !ok ||
			!matchSearch(filter.Search, c.Name, c.Level, c.Room) ||
			(filter.Level != "" && c.Level != filter.Level) ||
			(filter.AcademicYearID != "" && c.AcademicYearID != filter.AcademicYearID) ||
			(filter.Name != "" && !strings.EqualFold(c.Name, filter.Name)) ||
			!inIDs(filter.IDs, c.ID) {
			continue
		}
		cr := *c
		cr.EnrolledCount = repo.enrolledCount(c.ID)
		classrooms = append(classrooms, cr)
	}
	sort.Slice(classrooms, func(i, j int) bool {
		if classrooms[i].Level != classrooms[j].Level {
			return classrooms[i].Level < classrooms[j].Level
		}
		return classrooms[i].Name < classrooms[j].Name
	})
	return classrooms, nil
}

// Teacher assignments

func (repo *academicRepository) CreateAssignment(ctx context.Context, a academic.TeacherAssignment) (academic.TeacherAssignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.assignments {
		if existing.TeacherID == a.TeacherID && existing.ClassRoomID == a.ClassRoomID &&
			existing.SubjectID == a.SubjectID && existing.AcademicYearID == a.AcademicYearID {
			return academic.TeacherAssignment{}, academic.ErrAssignmentExists
		}
	}
	a.ID = newID()
	repo.db.assignments[a.ID] = &a
	return a, nil
}

func (repo *academicRepository) QueryAssignments(ctx context.Context, filter academic.AssignmentFilter) ([]academic.TeacherAssignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	assignments := make([]academic.TeacherAssignment, 0)
	for _, a := range repo.db.assignments {
		if (filter.TeacherID != "" && a.TeacherID != filter.TeacherID) ||
			(filter.ClassRoomID != "" && a.ClassRoomID != filter.ClassRoomID) ||
			(filter.SubjectID != "" && a.SubjectID != filter.SubjectID) ||
			(filter.AcademicYearID != "" && a.AcademicYearID != filter.AcademicYearID) ||
			!inIDs(filter.IDs, a.ID) ||
			!repo.db.byTeacher(filter.Scope, a.TeacherID, a.ClassRoomID) {
			continue
		}
		assignments = append(assignments, *a)
	}
	sort.Slice(assignments, func(i, j int) bool {
		if assignments[i].ClassRoomID != assignments[j].ClassRoomID {
			return assignments[i].ClassRoomID < assignments[j].ClassRoomID
		}
		return assignments[i].SubjectID < assignments[j].SubjectID
	})
	return assignments, nil
}

func (repo *academicRepository) DeleteAssignment(ctx context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.assignments, id)
	return nil
}

// Enrollments

func (repo *academicRepository) CreateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if e.IsActive {
		for _, existing := range repo.db.enrollments {
			if existing.IsActive && existing.StudentID == e.StudentID && existing.AcademicYearID == e.AcademicYearID {
				return academic.Enrollment{}, academic.ErrAlreadyEnrolled
			}
		}
	}
	e.ID = newID()
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *academicRepository) UpdateEnrollment(ctx context.Context, e academic.Enrollment, exec ...core.DBExecutor) (academic.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.enrollments[e.ID]
	if !ok {
		return academic.Enrollment{}, academic.ErrEnrollmentNotFound
	}
	existing.ClassRoomID = e.ClassRoomID
	existing.EnrollmentDate = e.EnrollmentDate
	existing.WithdrawalDate = e.WithdrawalDate
	existing.IsActive = e.IsActive
	return *existing, nil
}

func (repo *academicRepository) QueryEnrollments(ctx context.Context, filter academic.EnrollmentFilter, ordering []core.DBOrdering) ([]academic.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrollments := make([]academic.Enrollment, 0)
	for _, e := range repo.db.enrollments {
		if (filter.StudentID != "" && e.StudentID != filter.StudentID) ||
			(filter.ClassRoomID != "" && e.ClassRoomID != filter.ClassRoomID) ||
			(filter.AcademicYearID != "" && e.AcademicYearID != filter.AcademicYearID) ||
			(filter.IsActive != nil && e.IsActive != *filter.IsActive) ||
			!inIDs(filter.IDs, e.ID) {
			continue
		}
		// withdrawn enrollments are only visible to admins
		if (filter.Scope.Kind == rbac.ScopeTeacher || filter.Scope.Kind == rbac.ScopeStudents) && !e.WithdrawalDate.IsZero() {
			continue
		}
		ok := visible(filter.Scope,
			func(teacherID string) bool { return repo.db.teacherClassRooms(teacherID)[e.ClassRoomID] },
			func(ids []string) bool { return core.ContainsString(ids, e.StudentID) })
		if !ok {
			continue
		}
		enrollments = append(enrollments, *e)
	}
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].EnrollmentDate.After(enrollments[j].EnrollmentDate) })
	return enrollments, nil
}

// Timetable

func (repo *academicRepository) CreateSlot(ctx context.Context, s academic.TimetableSlot) (academic.TimetableSlot, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = newID()
	repo.db.slots[s.ID] = &s
	return s, nil
}

func (repo *academicRepository) QuerySlots(ctx context.Context, filter academic.SlotFilter, ordering []core.DBOrdering) ([]academic.TimetableSlot, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	slots := make([]academic.TimetableSlot, 0)
	for _, s := range repo.db.slots {
		if (filter.ClassRoomID != "" && s.ClassRoomID != filter.ClassRoomID) ||
			(filter.TeacherID != "" && s.TeacherID != filter.TeacherID) ||
			(filter.SubjectID != "" && s.SubjectID != filter.SubjectID) ||
			(filter.Weekday != 0 && s.Weekday != filter.Weekday) ||
			!inIDs(filter.IDs, s.ID) ||
			!repo.db.byTeacher(filter.Scope, s.TeacherID, s.ClassRoomID) {
			continue
		}
		slots = append(slots, *s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Weekday != slots[j].Weekday {
			return slots[i].Weekday < slots[j].Weekday
		}
		return slots[i].StartTime < slots[j].StartTime
	})
	return slots, nil
}

func (repo *academicRepository) DeleteSlot(ctx context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.slots, id)
	return nil
}

// Grades

func (repo *academicRepository) CreateGrade(ctx context.Context, g academic.Grade) (academic.Grade, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	g.ID = newID()
	repo.db.grades[g.ID] = &g
	return g, nil
}

func (repo *academicRepository) UpdateGrade(ctx context.Context, g academic.Grade) (academic.Grade, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.grades[g.ID]
	if !ok {
		return academic.Grade{}, academic.ErrGradeNotFound
	}
	existing.Name = g.Name
	existing.Score = g.Score
	existing.Comments = g.Comments
	return g, nil
}

func (repo *academicRepository) QueryGrades(ctx context.Context, filter academic.GradeFilter, ordering []core.DBOrdering) ([]academic.Grade, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	grades := make([]academic.Grade, 0)
	for _, g := range repo.db.grades {
		if (filter.StudentID != "" && g.StudentID != filter.StudentID) ||
			(filter.SubjectID != "" && g.SubjectID != filter.SubjectID) ||
			(filter.ClassRoomID != "" && g.ClassRoomID != filter.ClassRoomID) ||
			(filter.PeriodID != "" && g.PeriodID.String != filter.PeriodID) ||
			(filter.Type != "" && g.Type != filter.Type) ||
			!inRange(g.Date, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, g.ID) {
			continue
		}
		ok := visible(filter.Scope,
			func(teacherID string) bool { return g.TeacherID == teacherID },
			func(ids []string) bool { return core.ContainsString(ids, g.StudentID) })
		if !ok {
			continue
		}
		grades = append(grades, *g)
	}
	sort.Slice(grades, func(i, j int) bool {
		if !grades[i].Date.Equal(grades[j].Date) {
			return grades[i].Date.After(grades[j].Date)
		}
		return grades[i].CreatedAt.After(grades[j].CreatedAt)
	})
	return grades, nil
}

func (repo *academicRepository) DeleteGrade(ctx context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.grades, id)
	return nil
}
