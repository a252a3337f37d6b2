package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
)

func TestSummarize(t *testing.T) {
	date := core.MustParseDate("2024-03-11")

	tests := []struct {
		name       string
		statuses   []string
		wantOK     bool
		wantRate   float64
		wantStatus string
		wantCounts [4]int // present, absent, late, excused
	}{
		{name: "no sessions", statuses: nil, wantOK: false},
		{name: "all present", statuses: []string{Present, Present}, wantOK: true, wantRate: 100, wantStatus: FullyPresent, wantCounts: [4]int{2, 0, 0, 0}},
		{name: "late counts as attended", statuses: []string{Present, Late}, wantOK: true, wantRate: 100, wantStatus: FullyPresent, wantCounts: [4]int{1, 0, 1, 0}},
		{name: "half", statuses: []string{Present, Absent}, wantOK: true, wantRate: 50, wantStatus: PartiallyPresent, wantCounts: [4]int{1, 1, 0, 0}},
		{name: "two thirds", statuses: []string{Present, Late, Absent}, wantOK: true, wantRate: 66.67, wantStatus: PartiallyPresent, wantCounts: [4]int{1, 1, 1, 0}},
		{name: "one of three", statuses: []string{Absent, Late, Absent}, wantOK: true, wantRate: 33.33, wantStatus: MostlyAbsent, wantCounts: [4]int{0, 2, 1, 0}},
		{name: "all absent", statuses: []string{Absent, Absent}, wantOK: true, wantRate: 0, wantStatus: FullyAbsent, wantCounts: [4]int{0, 2, 0, 0}},
		{name: "excused is not attended", statuses: []string{Excused, Present}, wantOK: true, wantRate: 50, wantStatus: PartiallyPresent, wantCounts: [4]int{1, 0, 0, 1}},
		{name: "only excused", statuses: []string{Excused}, wantOK: true, wantRate: 0, wantStatus: FullyAbsent, wantCounts: [4]int{0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Summarize("student", date, tt.statuses)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, "student", got.StudentID)
			assert.True(t, got.Date.Equal(date))
			assert.Equal(t, len(tt.statuses), got.TotalSessions)
			assert.Equal(t, tt.wantCounts, [4]int{got.PresentSessions, got.AbsentSessions, got.LateSessions, got.ExcusedSessions})
			assert.Equal(t, tt.wantRate, got.AttendanceRate)
			assert.Equal(t, tt.wantStatus, got.DailyStatus)
		})
	}
}

func TestDailyStatus(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{100, FullyPresent},
		{99.99, PartiallyPresent},
		{50, PartiallyPresent},
		{49.99, MostlyAbsent},
		{0.01, MostlyAbsent},
		{0, FullyAbsent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DailyStatus(tt.rate), "DailyStatus(%v)", tt.rate)
	}
}

func TestPeriodRange(t *testing.T) {
	today := core.MustParseDate("2024-03-15")

	tests := []struct {
		period   string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{period: "", wantFrom: "2024-03-01", wantTo: "2024-03-15"},
		{period: PeriodCurrentMonth, wantFrom: "2024-03-01", wantTo: "2024-03-15"},
		{period: PeriodLastMonth, wantFrom: "2024-02-01", wantTo: "2024-02-29"},
		{period: PeriodCurrentYear, wantFrom: "2024-01-01", wantTo: "2024-03-15"},
		{period: PeriodAll},
		{period: "last_week", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			from, to, err := PeriodRange(tt.period, today)
			if tt.wantErr {
				assert.Equal(t, ErrUnknownPeriod, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from.String())
			assert.Equal(t, tt.wantTo, to.String())
		})
	}

	t.Run("last month across years", func(t *testing.T) {
		from, to, err := PeriodRange(PeriodLastMonth, core.MustParseDate("2024-01-10"))
		require.NoError(t, err)
		assert.Equal(t, "2023-12-01", from.String())
		assert.Equal(t, "2023-12-31", to.String())
	})
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusScheduled, StatusInProgress, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusPostponed, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusInProgress, StatusPostponed, false},
		{StatusPostponed, StatusScheduled, true},
		{StatusPostponed, StatusInProgress, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func Test_buildStats(t *testing.T) {
	from := core.MustParseDate("2024-03-01")
	to := core.MustParseDate("2024-03-31")
	summaries := []DailySummary{
		{TotalSessions: 4, PresentSessions: 4, DailyStatus: FullyPresent},
		{TotalSessions: 4, PresentSessions: 1, LateSessions: 1, AbsentSessions: 2, DailyStatus: PartiallyPresent},
		{TotalSessions: 3, AbsentSessions: 2, ExcusedSessions: 1, DailyStatus: FullyAbsent},
	}
	subjects := []SubjectStats{
		{SubjectID: "math", SubjectName: "Mathematics", Total: 3, Present: 1, Late: 1, Absent: 1},
		{SubjectID: "art", SubjectName: "Art", Total: 0},
	}

	st := buildStats("student", PeriodCurrentMonth, from, to, summaries, subjects)

	assert.Equal(t, "student", st.StudentID)
	assert.Equal(t, PeriodCurrentMonth, st.Period)
	assert.Equal(t, 3, st.TotalDays)
	assert.Equal(t, 11, st.TotalSessions)
	assert.Equal(t, 5, st.Present)
	assert.Equal(t, 4, st.Absent)
	assert.Equal(t, 1, st.Late)
	assert.Equal(t, 1, st.Excused)
	assert.Equal(t, 54.5, st.AttendanceRate) // 6/11
	assert.Equal(t, 36.4, st.AbsenceRate)    // 4/11
	assert.Equal(t, map[string]int{FullyPresent: 1, PartiallyPresent: 1, MostlyAbsent: 0, FullyAbsent: 1}, st.Days)

	require.Len(t, st.Subjects, 2)
	assert.Equal(t, 66.7, st.Subjects[0].AttendanceRate)
	assert.Equal(t, float64(0), st.Subjects[1].AttendanceRate)

	t.Run("no data", func(t *testing.T) {
		st := buildStats("student", PeriodAll, core.Date{}, core.Date{}, nil, nil)
		assert.Equal(t, 0, st.TotalDays)
		assert.Equal(t, float64(0), st.AttendanceRate)
		assert.Len(t, st.Days, len(DailyStatuses))
		assert.NotNil(t, st.Subjects)
	})
}
