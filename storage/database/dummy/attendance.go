package dummydb

import (
	"context"
	"sort"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/attendance"
)

type attendanceRepository struct {
	db *DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

// Sessions

func (repo *attendanceRepository) slotSessionExists(slotID string, date core.Date, exceptID ...string) bool {
	for _, s := range repo.db.sessions {
		if len(exceptID) > 0 && s.ID == exceptID[0] {
			continue
		}
		if s.TimetableSlotID.Valid && s.TimetableSlotID.String == slotID && s.Date.Equal(date) {
			return true
		}
	}
	return false
}

func (repo *attendanceRepository) CreateSessions(ctx context.Context, sessions []attendance.Session) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	created := 0
	for _, s := range sessions {
		if s.TimetableSlotID.Valid && repo.slotSessionExists(s.TimetableSlotID.String, s.Date) {
			continue
		}
		s := s
		s.ID = newID()
		repo.db.sessions[s.ID] = &s
		created++
	}
	return created, nil
}

func (repo *attendanceRepository) CreateSession(ctx context.Context, s attendance.Session) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	s.ID = newID()
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *attendanceRepository) UpdateSession(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.sessions[s.ID]; !ok {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	if s.TimetableSlotID.Valid && repo.slotSessionExists(s.TimetableSlotID.String, s.Date, s.ID) {
		return attendance.Session{}, attendance.ErrSlotDateTaken
	}
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *attendanceRepository) QuerySessions(ctx context.Context, filter attendance.SessionFilter, ordering []core.DBOrdering) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]attendance.Session, 0)
	for _, s := range repo.db.sessions {
		if (filter.ClassRoomID != "" && s.ClassRoomID != filter.ClassRoomID) ||
			(filter.TeacherID != "" && s.TeacherID != filter.TeacherID) ||
			(filter.SubjectID != "" && s.SubjectID != filter.SubjectID) ||
			(filter.Status != "" && s.Status != filter.Status) ||
			(filter.TimetableSlotID != "" && s.TimetableSlotID.String != filter.TimetableSlotID) ||
			!inRange(s.Date, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, s.ID) ||
			!repo.db.byTeacher(filter.Scope, s.TeacherID, s.ClassRoomID) {
			continue
		}
		sessions = append(sessions, *s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Date.Equal(sessions[j].Date) {
			return sessions[i].Date.Before(sessions[j].Date)
		}
		return sessions[i].PlannedStart < sessions[j].PlannedStart
	})
	return sessions, nil
}

// Session attendance

func (repo *attendanceRepository) UpsertAttendance(ctx context.Context, records []attendance.SessionAttendance, exec ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, r := range records {
		var existing *attendance.SessionAttendance
		for _, a := range repo.db.attendance {
			if a.SessionID == r.SessionID && a.StudentID == r.StudentID {
				existing = a
				break
			}
		}
		if existing != nil {
			existing.Status = r.Status
			existing.ArrivalTime = r.ArrivalTime
			existing.Notes = r.Notes
			existing.RecordedBy = r.RecordedBy
			existing.RecordedAt = r.RecordedAt
			continue
		}
		r := r
		r.ID = newID()
		repo.db.attendance[r.ID] = &r
	}
	return nil
}

func (repo *attendanceRepository) UpdateAttendance(ctx context.Context, a attendance.SessionAttendance, exec ...core.DBExecutor) (attendance.SessionAttendance, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.attendance[a.ID]
	if !ok {
		return attendance.SessionAttendance{}, attendance.ErrAttendanceNotFound
	}
	existing.Status = a.Status
	existing.ArrivalTime = a.ArrivalTime
	existing.Notes = a.Notes
	existing.Justification = a.Justification
	return a, nil
}

func (repo *attendanceRepository) QueryAttendance(ctx context.Context, filter attendance.AttendanceFilter, ordering []core.DBOrdering) ([]attendance.SessionAttendance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	records := make([]attendance.SessionAttendance, 0)
	for _, a := range repo.db.attendance {
		session, ok := repo.db.sessions[a.SessionID]
		if !ok {
			continue
		}
		r := *a
		r.Date = session.Date
		if (filter.SessionID != "" && r.SessionID != filter.SessionID) ||
			(filter.StudentID != "" && r.StudentID != filter.StudentID) ||
			(filter.Status != "" && r.Status != filter.Status) ||
			!inRange(r.Date, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, r.ID) ||
			!repo.db.byStudent(filter.Scope, r.StudentID) {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.After(records[j].Date)
		}
		return records[i].StudentID < records[j].StudentID
	})
	return records, nil
}

func (repo *attendanceRepository) DayStatuses(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) ([]string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	statuses := make([]string, 0)
	for _, a := range repo.db.attendance {
		session, ok := repo.db.sessions[a.SessionID]
		if !ok || a.StudentID != studentID || !session.Date.Equal(date) || session.Status == attendance.StatusCancelled {
			continue
		}
		statuses = append(statuses, a.Status)
	}
	return statuses, nil
}

func (repo *attendanceRepository) AttendanceDays(ctx context.Context, from, to core.Date) ([]attendance.StudentDay, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	seen := make(map[attendance.StudentDay]bool)
	for _, a := range repo.db.attendance {
		if session, ok := repo.db.sessions[a.SessionID]; ok && session.Date.Between(from, to) {
			seen[attendance.StudentDay{StudentID: a.StudentID, Date: session.Date}] = true
		}
	}
	for _, s := range repo.db.summaries {
		if s.Date.Between(from, to) {
			seen[attendance.StudentDay{StudentID: s.StudentID, Date: s.Date}] = true
		}
	}

	days := make([]attendance.StudentDay, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		if !days[i].Date.Equal(days[j].Date) {
			return days[i].Date.Before(days[j].Date)
		}
		return days[i].StudentID < days[j].StudentID
	})
	return days, nil
}

// Daily summaries

func (repo *attendanceRepository) UpsertSummary(ctx context.Context, s attendance.DailySummary, exec ...core.DBExecutor) (attendance.DailySummary, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.summaries {
		if existing.StudentID == s.StudentID && existing.Date.Equal(s.Date) {
			s.ID = existing.ID
			*existing = s
			return s, nil
		}
	}
	s.ID = newID()
	repo.db.summaries[s.ID] = &s
	return s, nil
}

func (repo *attendanceRepository) DeleteSummary(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, s := range repo.db.summaries {
		if s.StudentID == studentID && s.Date.Equal(date) {
			delete(repo.db.summaries, id)
		}
	}
	return nil
}

func (repo *attendanceRepository) QuerySummaries(ctx context.Context, filter attendance.SummaryFilter, ordering []core.DBOrdering) ([]attendance.DailySummary, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	summaries := make([]attendance.DailySummary, 0)
	for _, s := range repo.db.summaries {
		if (filter.StudentID != "" && s.StudentID != filter.StudentID) ||
			(filter.DailyStatus != "" && s.DailyStatus != filter.DailyStatus) ||
			!inRange(s.Date, filter.DateFrom, filter.DateTo) ||
			!inIDs(filter.IDs, s.ID) ||
			!repo.db.byStudent(filter.Scope, s.StudentID) {
			continue
		}
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].Date.Equal(summaries[j].Date) {
			return summaries[i].Date.After(summaries[j].Date)
		}
		return summaries[i].StudentID < summaries[j].StudentID
	})
	return summaries, nil
}

func (repo *attendanceRepository) SubjectTotals(ctx context.Context, studentID string, from, to core.Date) ([]attendance.SubjectStats, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	bySubject := make(map[string]*attendance.SubjectStats)
	for _, a := range repo.db.attendance {
		session, ok := repo.db.sessions[a.SessionID]
		if !ok || a.StudentID != studentID || session.Status == attendance.StatusCancelled || !inRange(session.Date, from, to) {
			continue
		}
		st, ok := bySubject[session.SubjectID]
		if !ok {
			st = &attendance.SubjectStats{SubjectID: session.SubjectID}
			if sub, found := repo.db.subjects[session.SubjectID]; found {
				st.SubjectName = sub.Name
			}
			bySubject[session.SubjectID] = st
		}
		st.Total++
		switch a.Status {
		case attendance.Present:
			st.Present++
		case attendance.Absent:
			st.Absent++
		case attendance.Late:
			st.Late++
		case attendance.Excused:
			st.Excused++
		}
	}

	totals := make([]attendance.SubjectStats, 0, len(bySubject))
	for _, st := range bySubject {
		totals = append(totals, *st)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].SubjectName < totals[j].SubjectName })
	return totals, nil
}
