package attendance_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var admin = rbac.Principal{UserID: "admin", Role: user.RoleAdmin}

func isValidationErr(err error) bool {
	_, ok := errors.Cause(err).(*core.ValidationError)
	return ok
}

func summaries(t *testing.T, env *testutil.Env, date core.Date) map[string]attendance.DailySummary {
	t.Helper()
	list, err := env.Attendance.QuerySummaries(context.Background(), admin, attendance.SummaryFilter{DateFrom: date, DateTo: date}, nil)
	require.NoError(t, err)
	byStudent := make(map[string]attendance.DailySummary, len(list))
	for _, s := range list {
		byStudent[s.StudentID] = s
	}
	return byStudent
}

func take(t *testing.T, env *testutil.Env, p rbac.Principal, sessionID string, statuses map[string]string) []attendance.SessionAttendance {
	t.Helper()
	ta := attendance.TakeAttendance{}
	for studentID, status := range statuses {
		ta.Records = append(ta.Records, attendance.Record{StudentID: studentID, Status: status})
	}
	records, err := env.Attendance.TakeAttendance(context.Background(), p, sessionID, ta)
	require.NoError(t, err)
	return records
}

func TestService_TakeAttendance(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 3)
	s1, s2, s3 := class.Students[0], class.Students[1], class.Students[2]
	parent := env.CreateParent(t, "Grace", "Hopper")
	require.NoError(t, env.School.LinkParent(ctx, s3.ID, parent.ID))

	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	morning := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)

	// s3 is left out and defaults to ABSENT
	records := take(t, env, teacher, morning.ID, map[string]string{
		s1.ID: attendance.Present,
		s2.ID: attendance.Late,
	})
	require.Len(t, records, 3)
	got := make(map[string]string)
	for _, r := range records {
		got[r.StudentID] = r.Status
		assert.Equal(t, teacher.UserID, r.RecordedBy.String)
	}
	assert.Equal(t, map[string]string{s1.ID: attendance.Present, s2.ID: attendance.Late, s3.ID: attendance.Absent}, got)

	sums := summaries(t, env, today)
	require.Len(t, sums, 3)
	assert.Equal(t, attendance.FullyPresent, sums[s1.ID].DailyStatus)
	assert.Equal(t, float64(100), sums[s2.ID].AttendanceRate)
	assert.Equal(t, 1, sums[s2.ID].LateSessions)
	assert.Equal(t, attendance.FullyAbsent, sums[s3.ID].DailyStatus)
	assert.Equal(t, 1, sums[s3.ID].AbsentSessions)

	session, err := env.Attendance.GetSession(ctx, teacher, morning.ID)
	require.NoError(t, err)
	assert.True(t, session.AttendanceTaken)
	assert.True(t, session.AttendanceTakenAt.Valid)

	t.Run("parents of absent students are notified", func(t *testing.T) {
		p := env.Principal(t, env.UserOf(t, parent.UserID))
		notifications, err := env.Communication.QueryNotifications(ctx, p, communication.NotificationFilter{}, nil)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, communication.NotificationAttendance, notifications[0].Type)

		messages := env.Mail.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "absence_alert", messages[0].TemplateName)
		assert.Equal(t, parent.Email, messages[0].To[0].Address)
		assert.Contains(t, messages[0].TextContent, class.Subject.Name)
	})

	afternoon := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
	take(t, env, teacher, afternoon.ID, map[string]string{
		s1.ID: attendance.Absent,
		s2.ID: attendance.Present,
		s3.ID: attendance.Present,
	})

	t.Run("summaries roll up every session of the day", func(t *testing.T) {
		sums := summaries(t, env, today)
		assert.Equal(t, 2, sums[s1.ID].TotalSessions)
		assert.Equal(t, float64(50), sums[s1.ID].AttendanceRate)
		assert.Equal(t, attendance.PartiallyPresent, sums[s1.ID].DailyStatus)
		assert.Equal(t, attendance.FullyPresent, sums[s2.ID].DailyStatus)
		assert.Equal(t, attendance.PartiallyPresent, sums[s3.ID].DailyStatus)
	})

	t.Run("retaking replaces the records", func(t *testing.T) {
		records := take(t, env, teacher, afternoon.ID, map[string]string{
			s1.ID: attendance.Present,
			s2.ID: attendance.Present,
			s3.ID: attendance.Present,
		})
		assert.Len(t, records, 3)
		sums := summaries(t, env, today)
		assert.Equal(t, 2, sums[s1.ID].TotalSessions)
		assert.Equal(t, attendance.FullyPresent, sums[s1.ID].DailyStatus)
	})

	t.Run("cancelled sessions leave the summaries", func(t *testing.T) {
		_, err := env.Attendance.Cancel(ctx, teacher, afternoon.ID)
		require.NoError(t, err)
		sums := summaries(t, env, today)
		assert.Equal(t, 1, sums[s3.ID].TotalSessions)
		assert.Equal(t, attendance.FullyAbsent, sums[s3.ID].DailyStatus)
	})

	t.Run("justified absences are excused", func(t *testing.T) {
		list, err := env.Attendance.QueryAttendance(ctx, teacher, attendance.AttendanceFilter{SessionID: morning.ID, StudentID: s3.ID}, nil)
		require.NoError(t, err)
		require.Len(t, list, 1)

		a, err := env.Attendance.Justify(ctx, teacher, list[0].ID, attendance.Justification{Justification: "medical appointment"})
		require.NoError(t, err)
		assert.Equal(t, attendance.Excused, a.Status)

		sum := summaries(t, env, today)[s3.ID]
		assert.Equal(t, 1, sum.ExcusedSessions)
		assert.Equal(t, 0, sum.AbsentSessions)
		assert.Equal(t, attendance.FullyAbsent, sum.DailyStatus)
	})

	t.Run("audit trail", func(t *testing.T) {
		logs, err := env.Recorder.Query(ctx, admin, activity.Filter{ActionType: activity.AttendanceTake}, nil)
		require.NoError(t, err)
		assert.Len(t, logs, 3)
	})
}

func TestService_TakeAttendance_errors(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 1)
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	other := env.CreateTeacher(t, "Alan", "Turing")
	otherTeacher := env.Principal(t, env.UserOf(t, other.UserID))
	outsider := env.CreateStudent(t, "Not", "Enrolled")

	open := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
	postponed := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
	_, err := env.Attendance.Postpone(ctx, teacher, postponed.ID)
	require.NoError(t, err)

	tests := []struct {
		name      string
		p         rbac.Principal
		sessionID string
		records   []attendance.Record
		check     func(t *testing.T, err error)
	}{
		{
			name:      "session of another teacher",
			p:         otherTeacher,
			sessionID: open.ID,
			check:     func(t *testing.T, err error) { assert.True(t, core.IsNotFound(err), err) },
		},
		{
			name:      "finance staff cannot take attendance",
			p:         rbac.Principal{UserID: "x", Role: user.RoleFinance},
			sessionID: open.ID,
			check:     func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name:      "student not on the roster",
			p:         teacher,
			sessionID: open.ID,
			records:   []attendance.Record{{StudentID: outsider.ID, Status: attendance.Present}},
			check:     func(t *testing.T, err error) { assert.True(t, isValidationErr(err), err) },
		},
		{
			name:      "postponed session",
			p:         teacher,
			sessionID: postponed.ID,
			check:     func(t *testing.T, err error) { assert.True(t, isValidationErr(err), err) },
		},
		{
			name:      "unknown session",
			p:         admin,
			sessionID: "00000000-0000-0000-0000-000000000000",
			check:     func(t *testing.T, err error) { assert.Equal(t, attendance.ErrSessionNotFound, err) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Attendance.TakeAttendance(ctx, tt.p, tt.sessionID, attendance.TakeAttendance{Records: tt.records})
			tt.check(t, err)
		})
	}

	sums := summaries(t, env, today)
	assert.Empty(t, sums)
}

func TestService_sessionLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 0)
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))

	t.Run("start then complete", func(t *testing.T) {
		s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)

		_, err := env.Attendance.Complete(ctx, teacher, s.ID, attendance.Lesson{})
		assert.True(t, isValidationErr(err), "cannot complete a scheduled session")

		s, err = env.Attendance.Start(ctx, teacher, s.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusInProgress, s.Status)
		assert.True(t, s.ActualStart.Valid)

		_, err = env.Attendance.Postpone(ctx, teacher, s.ID)
		assert.True(t, isValidationErr(err), "cannot postpone a session in progress")

		s, err = env.Attendance.Complete(ctx, teacher, s.ID, attendance.Lesson{LessonTitle: "Fractions", HomeworkGiven: "p. 12"})
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusCompleted, s.Status)
		assert.True(t, s.ActualEnd.Valid)
		assert.Equal(t, "Fractions", s.LessonTitle)
		assert.Equal(t, "p. 12", s.HomeworkGiven)

		_, err = env.Attendance.Cancel(ctx, teacher, s.ID)
		assert.True(t, isValidationErr(err), "completed is final")
	})

	t.Run("postpone then reschedule", func(t *testing.T) {
		s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
		s, err := env.Attendance.Postpone(ctx, teacher, s.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPostponed, s.Status)

		s, err = env.Attendance.Reschedule(ctx, teacher, s.ID, today.AddDays(2))
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusScheduled, s.Status)
		assert.True(t, s.Date.Equal(today.AddDays(2)))
	})

	t.Run("only the session teacher", func(t *testing.T) {
		s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
		student := env.CreateStudent(t, "Eve", "Student")
		_, err := env.Attendance.Start(ctx, env.Principal(t, env.UserOf(t, student.UserID)), s.ID)
		assert.Error(t, err)
	})

	logs, err := env.Recorder.Query(ctx, admin, activity.Filter{ActionType: activity.SessionStatus}, nil)
	require.NoError(t, err)
	assert.Len(t, logs, 4)
}

func TestService_Reschedule(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 1)
	student := class.Students[0]
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))

	t.Run("summaries follow the new date", func(t *testing.T) {
		s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
		take(t, env, teacher, s.ID, map[string]string{student.ID: attendance.Present})
		require.Contains(t, summaries(t, env, today), student.ID)

		_, err := env.Attendance.Postpone(ctx, teacher, s.ID)
		require.NoError(t, err)
		_, err = env.Attendance.Reschedule(ctx, teacher, s.ID, today.AddDays(1))
		require.NoError(t, err)

		assert.Empty(t, summaries(t, env, today))
		moved := summaries(t, env, today.AddDays(1))
		require.Contains(t, moved, student.ID)
		assert.Equal(t, 1, moved[student.ID].TotalSessions)
		assert.Equal(t, attendance.FullyPresent, moved[student.ID].DailyStatus)
	})

	t.Run("slot already has a session that day", func(t *testing.T) {
		_, err := env.Academic.CreateSlot(ctx, academic.NewTimetableSlot{
			ClassRoomID: class.ClassRoom.ID,
			SubjectID:   class.Subject.ID,
			TeacherID:   class.Teacher.ID,
			Weekday:     today.ISOWeekday(),
			StartTime:   core.NewClock(10, 0),
			EndTime:     core.NewClock(11, 0),
		})
		require.NoError(t, err)
		n, err := env.Attendance.GenerateSessions(ctx, today, today.AddDays(7))
		require.NoError(t, err)
		require.Equal(t, 2, n)

		sessions, err := env.Attendance.QuerySessions(ctx, admin, attendance.SessionFilter{ClassRoomID: class.ClassRoom.ID, DateFrom: today, DateTo: today}, nil)
		require.NoError(t, err)
		var slotted attendance.Session
		for _, s := range sessions {
			if s.TimetableSlotID.Valid {
				slotted = s
			}
		}
		require.NotEmpty(t, slotted.ID)

		_, err = env.Attendance.Postpone(ctx, teacher, slotted.ID)
		require.NoError(t, err)
		_, err = env.Attendance.Reschedule(ctx, teacher, slotted.ID, today.AddDays(7))
		verr, ok := errors.Cause(err).(*core.ValidationError)
		require.True(t, ok, "got %v", err)
		require.Len(t, verr.Fields, 1)
		assert.Equal(t, "date", verr.Fields[0].Field)

		got, err := env.Attendance.GetSession(ctx, teacher, slotted.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusPostponed, got.Status, "the failed move is rolled back")
		assert.True(t, got.Date.Equal(today))
	})
}

func TestService_GenerateSessions(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 0)
	_, err := env.Academic.CreateSlot(ctx, academic.NewTimetableSlot{
		ClassRoomID: class.ClassRoom.ID,
		SubjectID:   class.Subject.ID,
		TeacherID:   class.Teacher.ID,
		Weekday:     today.ISOWeekday(),
		StartTime:   core.NewClock(8, 0),
		EndTime:     core.NewClock(10, 0),
	})
	require.NoError(t, err)

	n, err := env.Attendance.GenerateSessions(ctx, today, today.AddDays(13))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = env.Attendance.GenerateSessions(ctx, today, today.AddDays(13))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "existing sessions are kept")

	sessions, err := env.Attendance.QuerySessions(ctx, admin, attendance.SessionFilter{ClassRoomID: class.ClassRoom.ID}, nil)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, attendance.StatusScheduled, s.Status)
		assert.Equal(t, core.NewClock(8, 0), s.PlannedStart)
		assert.Equal(t, today.ISOWeekday(), s.Date.ISOWeekday())
	}

	t.Run("invalid ranges", func(t *testing.T) {
		_, err := env.Attendance.GenerateSessions(ctx, today, today.AddDays(-1))
		assert.True(t, isValidationErr(err))
		_, err = env.Attendance.GenerateSessions(ctx, today, today.AddDays(400))
		assert.True(t, isValidationErr(err))
		_, err = env.Attendance.GenerateSessions(ctx, core.Date{}, today)
		assert.True(t, isValidationErr(err))
	})
}

func TestService_Stats(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 2)
	s1, s2 := class.Students[0], class.Students[1]
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))

	for _, status := range []string{attendance.Present, attendance.Late, attendance.Absent, attendance.Present} {
		s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
		take(t, env, teacher, s.ID, map[string]string{s1.ID: status, s2.ID: attendance.Present})
	}

	st, err := env.Attendance.Stats(ctx, admin, s1.ID, "")
	require.NoError(t, err)
	assert.Equal(t, attendance.PeriodCurrentMonth, st.Period)
	assert.Equal(t, 1, st.TotalDays)
	assert.Equal(t, 4, st.TotalSessions)
	assert.Equal(t, float64(75), st.AttendanceRate)
	assert.Equal(t, float64(25), st.AbsenceRate)
	assert.Equal(t, 1, st.Days[attendance.PartiallyPresent])
	require.Len(t, st.Subjects, 1)
	assert.Equal(t, class.Subject.ID, st.Subjects[0].SubjectID)
	assert.Equal(t, 4, st.Subjects[0].Total)

	t.Run("visibility", func(t *testing.T) {
		self := env.Principal(t, env.UserOf(t, s1.UserID))
		_, err := env.Attendance.Stats(ctx, self, s1.ID, attendance.PeriodAll)
		assert.NoError(t, err)

		_, err = env.Attendance.Stats(ctx, self, s2.ID, attendance.PeriodAll)
		assert.True(t, core.IsNotFound(err))

		finance := rbac.Principal{UserID: "f", Role: user.RoleFinance}
		_, err = env.Attendance.Stats(ctx, finance, s1.ID, attendance.PeriodAll)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("unknown period", func(t *testing.T) {
		_, err := env.Attendance.Stats(ctx, admin, s1.ID, "fortnight")
		assert.True(t, isValidationErr(err))
	})
}

func TestService_RecomputeRange(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 2)
	teacher := env.Principal(t, env.UserOf(t, class.Teacher.UserID))
	s := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
	take(t, env, teacher, s.ID, map[string]string{class.Students[0].ID: attendance.Present})

	n, err := env.Attendance.RecomputeRange(ctx, today, today)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sums := summaries(t, env, today)
	assert.Equal(t, attendance.FullyPresent, sums[class.Students[0].ID].DailyStatus)
	assert.Equal(t, attendance.FullyAbsent, sums[class.Students[1].ID].DailyStatus)
}
