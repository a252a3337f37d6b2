// Package dummydb keeps every table in memory. It backs the service and API tests
// and follows the visibility rules of the PostgreSQL repositories.
package dummydb

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
)

type (
	DB struct {
		sync.RWMutex

		users    map[string]*user.User
		students map[string]*school.Student
		parents  map[string]*school.Parent
		links    map[[2]string]bool // student ID, parent ID
		teachers map[string]*school.Teacher

		years       map[string]*academic.AcademicYear
		periods     map[string]*academic.Period
		subjects    map[string]*academic.Subject
		classrooms  map[string]*academic.ClassRoom
		assignments map[string]*academic.TeacherAssignment
		enrollments map[string]*academic.Enrollment
		slots       map[string]*academic.TimetableSlot
		grades      map[string]*academic.Grade

		sessions   map[string]*attendance.Session
		attendance map[string]*attendance.SessionAttendance
		summaries  map[string]*attendance.DailySummary

		invoices map[string]*finance.Invoice
		payments map[string]*finance.Payment
		expenses map[string]*finance.Expense

		messages      map[string]*communication.Message
		announcements map[string]*communication.Announcement
		notifications map[string]*communication.Notification

		logs map[string]*activity.ActivityLog
	}

	// Transactor runs the function right away; the in-memory tables have no rollback.
	Transactor struct{}
)

var _ core.Transactor = (*Transactor)(nil)

func Open() (*DB, error) {
	db := &DB{
		users:         make(map[string]*user.User),
		students:      make(map[string]*school.Student),
		parents:       make(map[string]*school.Parent),
		links:         make(map[[2]string]bool),
		teachers:      make(map[string]*school.Teacher),
		years:         make(map[string]*academic.AcademicYear),
		periods:       make(map[string]*academic.Period),
		subjects:      make(map[string]*academic.Subject),
		classrooms:    make(map[string]*academic.ClassRoom),
		assignments:   make(map[string]*academic.TeacherAssignment),
		enrollments:   make(map[string]*academic.Enrollment),
		slots:         make(map[string]*academic.TimetableSlot),
		grades:        make(map[string]*academic.Grade),
		sessions:      make(map[string]*attendance.Session),
		attendance:    make(map[string]*attendance.SessionAttendance),
		summaries:     make(map[string]*attendance.DailySummary),
		invoices:      make(map[string]*finance.Invoice),
		payments:      make(map[string]*finance.Payment),
		expenses:      make(map[string]*finance.Expense),
		messages:      make(map[string]*communication.Message),
		announcements: make(map[string]*communication.Announcement),
		notifications: make(map[string]*communication.Notification),
		logs:          make(map[string]*activity.ActivityLog),
	}
	return db, nil
}

func (*Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context, exec core.DBExecutor) error) error {
	return fn(ctx, nil)
}

func newID() string {
	return uuid.New().String()
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func matchSearch(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	for _, f := range fields {
		if containsFold(f, search) {
			return true
		}
	}
	return false
}

func inIDs(ids []string, id string) bool {
	return len(ids) == 0 || core.ContainsString(ids, id)
}

func inRange(d, from, to core.Date) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}

// lastWithPrefix returns the greatest value starting with prefix, or "".
func lastWithPrefix(prefix string, values []string) string {
	last := ""
	for _, v := range values {
		if strings.HasPrefix(v, prefix) && v > last {
			last = v
		}
	}
	return last
}

// visibility; callers hold the lock

func isActiveEnrollment(e *academic.Enrollment) bool {
	return e.IsActive && e.WithdrawalDate.IsZero()
}

func (db *DB) teacherClassRooms(teacherID string) map[string]bool {
	ids := make(map[string]bool)
	for _, a := range db.assignments {
		if a.TeacherID == teacherID {
			ids[a.ClassRoomID] = true
		}
	}
	return ids
}

func (db *DB) teacherStudents(teacherID string) map[string]bool {
	classrooms := db.teacherClassRooms(teacherID)
	ids := make(map[string]bool)
	for _, e := range db.enrollments {
		if isActiveEnrollment(e) && classrooms[e.ClassRoomID] {
			ids[e.StudentID] = true
		}
	}
	return ids
}

func (db *DB) studentsClassRooms(studentIDs []string) map[string]bool {
	ids := make(map[string]bool)
	for _, e := range db.enrollments {
		if isActiveEnrollment(e) && core.ContainsString(studentIDs, e.StudentID) {
			ids[e.ClassRoomID] = true
		}
	}
	return ids
}

// visible reports whether a row passes the scope. A nil predicate matches nothing.
func visible(s rbac.Scope, teacher func(teacherID string) bool, students func(ids []string) bool) bool {
	switch {
	case s.Kind == rbac.ScopeAll:
		return true
	case s.Empty():
		return false
	case s.Kind == rbac.ScopeTeacher && teacher != nil:
		return teacher(s.TeacherID)
	case s.Kind == rbac.ScopeStudents && students != nil:
		return students(s.StudentIDs)
	}
	return false
}

// byStudent: rows of the teacher's students, or of the listed students.
func (db *DB) byStudent(s rbac.Scope, studentID string) bool {
	return visible(s,
		func(teacherID string) bool { return db.teacherStudents(teacherID)[studentID] },
		func(ids []string) bool { return core.ContainsString(ids, studentID) })
}

// byTeacher: rows owned by the teacher, or taught in the listed students' classrooms.
func (db *DB) byTeacher(s rbac.Scope, teacherID, classroomID string) bool {
	return visible(s,
		func(id string) bool { return id == teacherID },
		func(ids []string) bool { return db.studentsClassRooms(ids)[classroomID] })
}

func (db *DB) person(userID string) school.Person {
	u, ok := db.users[userID]
	if !ok {
		return school.Person{}
	}
	return school.Person{FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Phone: u.Phone}
}
