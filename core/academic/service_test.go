package academic_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var admin = rbac.Principal{UserID: "admin", Role: user.RoleAdmin}

// fieldErr returns the message of a validation error on field, or "".
func fieldErr(err error, field string) string {
	verr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		return ""
	}
	for _, f := range verr.Fields {
		if f.Field == field {
			return f.Error
		}
	}
	return ""
}

func TestService_years(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	first := env.CreateYear(t, core.MustParseDate("2023-09-01"), core.MustParseDate("2024-07-15"))
	second := env.CreateYear(t, core.MustParseDate("2024-09-01"), core.MustParseDate("2025-07-15"))

	current, err := env.Academic.CurrentYear(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID, "the last year created as current wins")

	_, err = env.Academic.SetCurrentYear(ctx, first.ID)
	require.NoError(t, err)
	current, err = env.Academic.CurrentYear(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	t.Run("periods stay within their year", func(t *testing.T) {
		_, err := env.Academic.CreatePeriod(ctx, academic.NewPeriod{
			AcademicYearID: first.ID,
			Name:           "Term 1",
			StartDate:      core.MustParseDate("2023-08-01"),
			EndDate:        core.MustParseDate("2023-12-20"),
		})
		assert.Equal(t, academic.ErrPeriodOutsideYear.Error(), fieldErr(err, "start_date"))

		term, err := env.Academic.CreatePeriod(ctx, academic.NewPeriod{
			AcademicYearID: first.ID,
			Name:           "Term 1",
			StartDate:      core.MustParseDate("2023-09-01"),
			EndDate:        core.MustParseDate("2023-12-20"),
			IsCurrent:      true,
		})
		require.NoError(t, err)

		id, err := env.Academic.PeriodAt(ctx, core.MustParseDate("2023-10-02"))
		require.NoError(t, err)
		assert.Equal(t, term.ID, id)

		id, err = env.Academic.PeriodAt(ctx, core.MustParseDate("2024-01-10"))
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("unknown year", func(t *testing.T) {
		_, err := env.Academic.SetCurrentYear(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_CreateClassRoom(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	year := env.CreateYear(t, today.AddDays(-30), today.AddDays(300))

	c := env.CreateClassRoom(t, year.ID, "6A")
	assert.Equal(t, env.Conf.School.ClassroomCapacity, c.Capacity)
	assert.Equal(t, 0, c.EnrolledCount)

	_, err := env.Academic.CreateClassRoom(ctx, academic.NewClassRoom{Name: "6A", Level: "6", AcademicYearID: year.ID})
	assert.Equal(t, academic.ErrClassRoomExists.Error(), fieldErr(err, "name"))

	_, err = env.Academic.CreateSubject(ctx, academic.NewSubject{Name: "Maths", Code: "MATH"})
	require.NoError(t, err)
	_, err = env.Academic.CreateSubject(ctx, academic.NewSubject{Name: "Mathematics", Code: "MATH"})
	assert.Equal(t, academic.ErrSubjectCodeExists.Error(), fieldErr(err, "code"))
}

func TestService_enrollments(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()
	year := env.CreateYear(t, today.AddDays(-30), today.AddDays(300))

	small := env.CreateClassRoom(t, year.ID, "6B", 2)
	other := env.CreateClassRoom(t, year.ID, "6C")
	s1 := env.CreateStudent(t, "Student", "One")
	s2 := env.CreateStudent(t, "Student", "Two")
	s3 := env.CreateStudent(t, "Student", "Three")

	e1 := env.Enroll(t, s1.ID, small.ID)
	assert.True(t, e1.IsActive)
	assert.Equal(t, year.ID, e1.AcademicYearID)
	env.Enroll(t, s2.ID, small.ID)

	student, err := env.School.GetStudent(ctx, admin, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, small.ID, student.CurrentClassID.String)

	tests := []struct {
		name      string
		student   string
		classRoom string
		wantField string
		wantMsg   string
	}{
		{"full classroom", s3.ID, small.ID, "classroom_id", academic.ErrClassRoomFull.Error()},
		{"already enrolled this year", s1.ID, other.ID, "student_id", academic.ErrAlreadyEnrolled.Error()},
		{"unknown student", "00000000-0000-0000-0000-000000000000", other.ID, "student_id", "student not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Academic.Enroll(ctx, academic.NewEnrollment{StudentID: tt.student, ClassRoomID: tt.classRoom})
			assert.Contains(t, fieldErr(err, tt.wantField), tt.wantMsg)
		})
	}

	roster, err := env.Academic.Roster(ctx, small.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, roster)

	t.Run("withdraw frees a seat", func(t *testing.T) {
		e, err := env.Academic.Withdraw(ctx, e1.ID, core.Date{})
		require.NoError(t, err)
		assert.False(t, e.IsActive)
		assert.False(t, e.WithdrawalDate.IsZero())

		_, err = env.Academic.Withdraw(ctx, e1.ID, core.Date{})
		assert.Equal(t, academic.ErrAlreadyWithdrawn.Error(), fieldErr(err, "enrollment"))

		student, err := env.School.GetStudent(ctx, admin, s1.ID)
		require.NoError(t, err)
		assert.False(t, student.CurrentClassID.Valid)

		roster, err := env.Academic.Roster(ctx, small.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{s2.ID}, roster)

		env.Enroll(t, s3.ID, small.ID)
	})

	t.Run("visibility", func(t *testing.T) {
		self := env.Principal(t, env.UserOf(t, s2.UserID))
		enrollments, err := env.Academic.QueryEnrollments(ctx, self, academic.EnrollmentFilter{}, nil)
		require.NoError(t, err)
		require.Len(t, enrollments, 1)
		assert.Equal(t, s2.ID, enrollments[0].StudentID)
	})
}

func TestService_CreateSlot(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	class := env.CreateClass(t, 0)
	other := env.CreateClassRoom(t, class.Year.ID, "5A")

	slot := func(classRoomID string, weekday, start, end int) academic.NewTimetableSlot {
		return academic.NewTimetableSlot{
			ClassRoomID: classRoomID,
			SubjectID:   class.Subject.ID,
			TeacherID:   class.Teacher.ID,
			Weekday:     weekday,
			StartTime:   core.NewClock(start, 0),
			EndTime:     core.NewClock(end, 0),
		}
	}

	_, err := env.Academic.CreateSlot(ctx, slot(class.ClassRoom.ID, 1, 8, 10))
	require.NoError(t, err)

	tests := []struct {
		name      string
		ns        academic.NewTimetableSlot
		wantField string
	}{
		{"classroom busy", slot(class.ClassRoom.ID, 1, 9, 11), "start_time"},
		{"teacher busy", slot(other.ID, 1, 8, 9), "teacher_id"},
		{"unknown period", func() academic.NewTimetableSlot {
			ns := slot(class.ClassRoom.ID, 3, 8, 9)
			ns.PeriodID = "00000000-0000-0000-0000-000000000000"
			return ns
		}(), "period_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Academic.CreateSlot(ctx, tt.ns)
			assert.NotEmpty(t, fieldErr(err, tt.wantField), err)
		})
	}

	_, err = env.Academic.CreateSlot(ctx, slot(class.ClassRoom.ID, 1, 10, 12))
	assert.NoError(t, err, "adjacent slots do not overlap")

	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	slots, err := env.Academic.QuerySlots(ctx, teacher, academic.SlotFilter{}, nil)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestService_grades(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	class := env.CreateClass(t, 2)
	s1, s2 := class.Students[0], class.Students[1]
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	physics, err := env.Academic.CreateSubject(ctx, academic.NewSubject{Name: "Physics", Code: "PHY", Coefficient: 3})
	require.NoError(t, err)
	env.Assign(t, class.Teacher.ID, class.ClassRoom.ID, physics.ID)

	grade := func(studentID, subjectID string, score float64) academic.NewGrade {
		return academic.NewGrade{StudentID: studentID, SubjectID: subjectID, Name: "Quiz", Type: academic.GradeTest, Score: score, MaxScore: 20}
	}

	for _, ng := range []academic.NewGrade{
		grade(s1.ID, class.Subject.ID, 10),
		grade(s1.ID, class.Subject.ID, 20),
		grade(s1.ID, physics.ID, 16),
	} {
		g, err := env.Academic.CreateGrade(ctx, teacher, ng)
		require.NoError(t, err)
		assert.Equal(t, class.Teacher.ID, g.TeacherID)
		assert.Equal(t, class.ClassRoom.ID, g.ClassRoomID)
	}

	avg, err := env.Academic.StudentAverages(ctx, teacher, s1.ID, "")
	require.NoError(t, err)
	require.Len(t, avg.Subjects, 2)
	assert.Equal(t, "Mathematics", avg.Subjects[0].SubjectName)
	assert.Equal(t, float64(75), avg.Subjects[0].Average)
	assert.Equal(t, 2, avg.Subjects[0].GradeCount)
	assert.Equal(t, float64(80), avg.Subjects[1].Average)
	assert.Equal(t, 78.75, avg.Overall) // (75*1 + 80*3) / 4

	t.Run("students see their own grades only", func(t *testing.T) {
		other := env.Principal(t, env.UserOf(t, s2.UserID))
		grades, err := env.Academic.QueryGrades(ctx, other, academic.GradeFilter{}, nil)
		require.NoError(t, err)
		assert.Empty(t, grades)

		_, err = env.Academic.CreateGrade(ctx, other, grade(s2.ID, physics.ID, 10))
		assert.Equal(t, core.ErrForbidden, err)
	})

	t.Run("unassigned teachers cannot grade", func(t *testing.T) {
		stranger := env.CreateTeacher(t, "Alan", "Turing")
		_, err := env.Academic.CreateGrade(ctx, env.Principal(t, env.UserOf(t, stranger.UserID)), grade(s2.ID, physics.ID, 10))
		assert.Equal(t, core.ErrForbidden, err)
	})
}
