// Package testutil builds the in-memory service graph and the fixtures shared by the tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/apps/shared"
	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
	emailsvc "github.com/eschool-app/eschool/services/email"
	dummydb "github.com/eschool-app/eschool/storage/database/dummy"
)

const Password = "S3cure-Pa55word!"

var seq int64

// Logger keeps the logged messages in memory.
type Logger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) Debug(msg string, args ...interface{}) {}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	l.Infos = append(l.Infos, msg)
	l.mu.Unlock()
}

func (l *Logger) Warn(msg string, args ...interface{}) { l.Info(msg, args...) }

func (l *Logger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	l.Errors = append(l.Errors, msg)
	l.mu.Unlock()
}

func (l *Logger) Fatal(msg string, args ...interface{}) { l.Error(msg, args...) }

// Env is a complete service graph backed by dummydb.
type Env struct {
	shared.Services

	DB         *dummydb.DB
	Repos      shared.Repositories
	Conf       *core.Config
	Logger     *Logger
	Mail       *emailsvc.Mock
	Validate   *validator.Validate
	Translator ut.Translator
	Resolver   *rbac.Resolver
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := core.NewTestConfig()
	logger := new(Logger)
	core.ParseEmailTemplates(conf, logger)
	mailSvc := emailsvc.NewMock(logger)
	validate, translator := shared.NewValidator()

	repos := shared.DummyRepositories(db)
	svcs := shared.NewServices(repos, mailSvc, logger, conf)
	return &Env{
		Services:   svcs,
		DB:         db,
		Repos:      repos,
		Conf:       conf,
		Logger:     logger,
		Mail:       mailSvc,
		Validate:   validate,
		Translator: translator,
		Resolver:   rbac.NewResolver(svcs.School),
	}
}

func next() int64 {
	return atomic.AddInt64(&seq, 1)
}

// Principal resolves the principal of usr the way the API does.
func (env *Env) Principal(t *testing.T, usr user.User) rbac.Principal {
	t.Helper()
	p, err := env.Resolver.Resolve(context.Background(), usr.ID, usr.Role)
	require.NoError(t, err)
	return p
}

func (env *Env) CreateUser(t *testing.T, role, first, last string) user.User {
	t.Helper()
	usr, err := env.User.Create(context.Background(), user.NewUser{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("user%d@test.eschool", next()),
		Role:      role,
		Password:  Password,
	})
	require.NoError(t, err)
	return usr
}

func (env *Env) CreateStudent(t *testing.T, first, last string, parentIDs ...string) school.Student {
	t.Helper()
	usr := env.CreateUser(t, user.RoleStudent, first, last)
	s, err := env.School.CreateStudent(context.Background(), school.NewStudent{UserID: usr.ID, ParentIDs: parentIDs})
	require.NoError(t, err)
	return s
}

func (env *Env) CreateParent(t *testing.T, first, last string) school.Parent {
	t.Helper()
	usr := env.CreateUser(t, user.RoleParent, first, last)
	p, err := env.School.CreateParent(context.Background(), school.NewParent{UserID: usr.ID, Relationship: school.RelationshipGuardian})
	require.NoError(t, err)
	return p
}

func (env *Env) CreateTeacher(t *testing.T, first, last string) school.Teacher {
	t.Helper()
	usr := env.CreateUser(t, user.RoleTeacher, first, last)
	tch, err := env.School.CreateTeacher(context.Background(), school.NewTeacher{UserID: usr.ID})
	require.NoError(t, err)
	return tch
}

// UserOf returns the account behind a profile.
func (env *Env) UserOf(t *testing.T, userID string) user.User {
	t.Helper()
	usr, err := env.User.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return usr
}

// CreateYear creates the current academic year spanning from..to.
func (env *Env) CreateYear(t *testing.T, from, to core.Date) academic.AcademicYear {
	t.Helper()
	y, err := env.Academic.CreateYear(context.Background(), academic.NewAcademicYear{
		Name:      fmt.Sprintf("%d-%d", from.Year(), to.Year()),
		StartDate: from,
		EndDate:   to,
		IsCurrent: true,
	})
	require.NoError(t, err)
	return y
}

func (env *Env) CreateSubject(t *testing.T, name string) academic.Subject {
	t.Helper()
	s, err := env.Academic.CreateSubject(context.Background(), academic.NewSubject{
		Name:        name,
		Code:        fmt.Sprintf("S%d", next()),
		Coefficient: 1,
	})
	require.NoError(t, err)
	return s
}

func (env *Env) CreateClassRoom(t *testing.T, yearID, name string, capacity ...int) academic.ClassRoom {
	t.Helper()
	nc := academic.NewClassRoom{Name: name, Level: "6", AcademicYearID: yearID}
	if len(capacity) > 0 {
		nc.Capacity = capacity[0]
	}
	c, err := env.Academic.CreateClassRoom(context.Background(), nc)
	require.NoError(t, err)
	return c
}

func (env *Env) Enroll(t *testing.T, studentID, classRoomID string) academic.Enrollment {
	t.Helper()
	e, err := env.Academic.Enroll(context.Background(), academic.NewEnrollment{StudentID: studentID, ClassRoomID: classRoomID})
	require.NoError(t, err)
	return e
}

func (env *Env) Assign(t *testing.T, teacherID, classRoomID, subjectID string) academic.TeacherAssignment {
	t.Helper()
	a, err := env.Academic.CreateAssignment(context.Background(), academic.NewAssignment{
		TeacherID:   teacherID,
		ClassRoomID: classRoomID,
		SubjectID:   subjectID,
	})
	require.NoError(t, err)
	return a
}

// CreateSession inserts a SCHEDULED session from 08:00 to 09:00.
func (env *Env) CreateSession(t *testing.T, classRoomID, subjectID, teacherID string, date core.Date) attendance.Session {
	t.Helper()
	now := time.Now().UTC()
	s, err := env.Repos.Attendance.CreateSession(context.Background(), attendance.Session{
		ClassRoomID:  classRoomID,
		SubjectID:    subjectID,
		TeacherID:    teacherID,
		Date:         date,
		PlannedStart: core.NewClock(8, 0),
		PlannedEnd:   core.NewClock(9, 0),
		Status:       attendance.StatusScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	return s
}

// Class is a classroom with one subject, its teacher and enrolled students.
type Class struct {
	Year      academic.AcademicYear
	ClassRoom academic.ClassRoom
	Subject   academic.Subject
	Teacher   school.Teacher
	Students  []school.Student
}

// CreateClass sets up a Class with n students in an academic year containing today.
func (env *Env) CreateClass(t *testing.T, n int) Class {
	t.Helper()
	today := Today()
	c := Class{Year: env.CreateYear(t, today.AddDays(-180), today.AddDays(180))}
	c.ClassRoom = env.CreateClassRoom(t, c.Year.ID, fmt.Sprintf("6A-%d", next()))
	c.Subject = env.CreateSubject(t, "Mathematics")
	c.Teacher = env.CreateTeacher(t, "Ada", "Lovelace")
	env.Assign(t, c.Teacher.ID, c.ClassRoom.ID, c.Subject.ID)
	for i := 0; i < n; i++ {
		s := env.CreateStudent(t, "Student", fmt.Sprintf("N%d", i+1))
		env.Enroll(t, s.ID, c.ClassRoom.ID)
		c.Students = append(c.Students, s)
	}
	return c
}

// Today is the current day in UTC, the test school's timezone.
func Today() core.Date {
	return core.DateOf(time.Now().UTC())
}
