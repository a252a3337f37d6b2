package attendance

import (
	"time"

	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
)

// Stats periods
const (
	PeriodCurrentMonth = "current_month"
	PeriodLastMonth    = "last_month"
	PeriodCurrentYear  = "current_year"
	PeriodAll          = "all"
)

var ErrUnknownPeriod = errors.New("period must be one of current_month, last_month, current_year, all")

// Summarize rolls the statuses of a student's session attendance on one day up into a DailySummary.
// It returns false when there is nothing to summarize.
func Summarize(studentID string, date core.Date, statuses []string) (DailySummary, bool) {
	s := DailySummary{StudentID: studentID, Date: date, TotalSessions: len(statuses)}
	if s.TotalSessions == 0 {
		return DailySummary{}, false
	}
	for _, status := range statuses {
		switch status {
		case Present:
			s.PresentSessions++
		case Absent:
			s.AbsentSessions++
		case Late:
			s.LateSessions++
		case Excused:
			s.ExcusedSessions++
		}
	}
	s.AttendanceRate = core.Percent(s.PresentSessions+s.LateSessions, s.TotalSessions, 2)
	s.DailyStatus = DailyStatus(s.AttendanceRate)
	return s, true
}

// DailyStatus buckets an attendance rate.
func DailyStatus(rate float64) string {
	switch {
	case rate >= 100:
		return FullyPresent
	case rate >= 50:
		return PartiallyPresent
	case rate > 0:
		return MostlyAbsent
	default:
		return FullyAbsent
	}
}

// PeriodRange returns the inclusive date range of a stats period relative to today.
// Both dates are zero for PeriodAll.
func PeriodRange(period string, today core.Date) (from, to core.Date, err error) {
	switch period {
	case PeriodCurrentMonth, "":
		from = core.NewDate(today.Year(), today.Month(), 1)
		return from, today, nil
	case PeriodLastMonth:
		first := core.NewDate(today.Year(), today.Month(), 1)
		from = core.DateOf(first.AddDate(0, -1, 0))
		return from, first.AddDays(-1), nil
	case PeriodCurrentYear:
		return core.NewDate(today.Year(), time.January, 1), today, nil
	case PeriodAll:
		return core.Date{}, core.Date{}, nil
	}
	return core.Date{}, core.Date{}, ErrUnknownPeriod
}

// buildStats aggregates daily summaries and per-subject sums into Stats.
func buildStats(studentID, period string, from, to core.Date, summaries []DailySummary, subjects []SubjectStats) Stats {
	st := Stats{
		StudentID: studentID,
		Period:    period,
		From:      from,
		To:        to,
		Days:      make(map[string]int, len(DailyStatuses)),
		Subjects:  make([]SubjectStats, 0, len(subjects)),
	}
	for _, status := range DailyStatuses {
		st.Days[status] = 0
	}
	for _, s := range summaries {
		st.Days[s.DailyStatus]++
		st.TotalDays++
		st.TotalSessions += s.TotalSessions
		st.Present += s.PresentSessions
		st.Absent += s.AbsentSessions
		st.Late += s.LateSessions
		st.Excused += s.ExcusedSessions
	}
	st.AttendanceRate = core.Percent(st.Present+st.Late, st.TotalSessions, 1)
	st.AbsenceRate = core.Percent(st.Absent, st.TotalSessions, 1)

	for _, sub := range subjects {
		sub.AttendanceRate = core.Percent(sub.Present+sub.Late, sub.Total, 1)
		st.Subjects = append(st.Subjects, sub)
	}
	return st
}
