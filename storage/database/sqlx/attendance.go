package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/attendance"
)

const (
	sessionColumns = "se.id, se.timetable_slot_id, se.classroom_id, se.subject_id, se.teacher_id, se.period_id, se.date," +
		" se.planned_start, se.planned_end, se.actual_start, se.actual_end, se.status, se.lesson_title, se.lesson_objectives," +
		" se.lesson_content, se.lesson_summary, se.teacher_notes, se.homework_given, se.attendance_taken, se.attendance_taken_at," +
		" se.created_at, se.updated_at"
	summaryColumns = "ds.id, ds.student_id, ds.date, ds.total_sessions, ds.present_sessions, ds.absent_sessions," +
		" ds.late_sessions, ds.excused_sessions, ds.attendance_rate, ds.daily_status, ds.updated_at"

	// sessions per bulk insert
	sessionBatchSize = 500

	subjectTotalsQuery = `SELECT se.subject_id, sub.name AS subject_name,
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE sa.status = 'PRESENT') AS present,
		COUNT(*) FILTER (WHERE sa.status = 'ABSENT') AS absent,
		COUNT(*) FILTER (WHERE sa.status = 'LATE') AS late,
		COUNT(*) FILTER (WHERE sa.status = 'EXCUSED') AS excused
	FROM session_attendance sa
	JOIN session se ON se.id = sa.session_id
	JOIN subject sub ON sub.id = se.subject_id
	WHERE sa.student_id = $1 AND se.status <> 'CANCELLED'
		AND ($2::date IS NULL OR se.date >= $2)
		AND ($3::date IS NULL OR se.date <= $3)
	GROUP BY se.subject_id, sub.name
	ORDER BY sub.name`
)

var (
	sessionOrderings = map[string]string{
		"date":          "se.date",
		"planned_start": "se.planned_start",
		"status":        "se.status",
		"created_at":    "se.created_at",
	}
	attendanceOrderings = map[string]string{
		"date":        "se.date",
		"status":      "sa.status",
		"recorded_at": "sa.recorded_at",
	}
	summaryOrderings = map[string]string{
		"date":            "ds.date",
		"attendance_rate": "ds.attendance_rate",
		"daily_status":    "ds.daily_status",
	}
)

type attendanceRepository struct {
	base
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db core.DBExecutor) *attendanceRepository {
	return &attendanceRepository{base{db: db}}
}

// Sessions

func sessionInsert() sq.InsertBuilder {
	return psql.Insert("session").
		Columns("id", "timetable_slot_id", "classroom_id", "subject_id", "teacher_id", "period_id", "date",
			"planned_start", "planned_end", "status", "created_at", "updated_at")
}

func sessionValues(qb sq.InsertBuilder, s attendance.Session) sq.InsertBuilder {
	return qb.Values(s.ID, s.TimetableSlotID, s.ClassRoomID, s.SubjectID, s.TeacherID, s.PeriodID, s.Date,
		s.PlannedStart, s.PlannedEnd, s.Status, s.CreatedAt, s.UpdatedAt)
}

func (repo attendanceRepository) CreateSessions(ctx context.Context, sessions []attendance.Session) (int, error) {
	created := 0
	for start := 0; start < len(sessions); start += sessionBatchSize {
		end := start + sessionBatchSize
		if end > len(sessions) {
			end = len(sessions)
		}
		qb := sessionInsert()
		for _, s := range sessions[start:end] {
			s.ID = newID()
			qb = sessionValues(qb, s)
		}
		n, err := repo.exec(ctx, repo.db, qb.Suffix("ON CONFLICT (timetable_slot_id, date) DO NOTHING"))
		if err != nil {
			return created, errors.Wrap(err, "inserting sessions")
		}
		created += n
	}
	return created, nil
}

func (repo attendanceRepository) CreateSession(ctx context.Context, s attendance.Session) (attendance.Session, error) {
	s.ID = newID()
	if _, err := repo.exec(ctx, repo.db, sessionValues(sessionInsert(), s)); err != nil {
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo attendanceRepository) UpdateSession(ctx context.Context, s attendance.Session, exec ...core.DBExecutor) (attendance.Session, error) {
	qb := psql.Update("session").
		SetMap(map[string]interface{}{
			"date":                s.Date,
			"period_id":           s.PeriodID,
			"actual_start":        s.ActualStart,
			"actual_end":          s.ActualEnd,
			"status":              s.Status,
			"lesson_title":        s.LessonTitle,
			"lesson_objectives":   s.LessonObjectives,
			"lesson_content":      s.LessonContent,
			"lesson_summary":      s.LessonSummary,
			"teacher_notes":       s.TeacherNotes,
			"homework_given":      s.HomeworkGiven,
			"attendance_taken":    s.AttendanceTaken,
			"attendance_taken_at": s.AttendanceTakenAt,
			"updated_at":          s.UpdatedAt,
		}).
		Where(sq.Eq{"id": s.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return attendance.Session{}, trapUniqueErr(err, attendance.ErrSlotDateTaken, "updating session")
	}
	if n == 0 {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	return s, nil
}

func (repo attendanceRepository) QuerySessions(ctx context.Context, filter attendance.SessionFilter, ordering []core.DBOrdering) ([]attendance.Session, error) {
	qb := psql.Select(sessionColumns).
		From("session se").
		OrderBy(orderBy(ordering, sessionOrderings, "se.date ASC", "se.planned_start ASC")...)
	if filter.ClassRoomID != "" {
		qb = qb.Where(sq.Eq{"se.classroom_id": filter.ClassRoomID})
	}
	if filter.TeacherID != "" {
		qb = qb.Where(sq.Eq{"se.teacher_id": filter.TeacherID})
	}
	if filter.SubjectID != "" {
		qb = qb.Where(sq.Eq{"se.subject_id": filter.SubjectID})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"se.status": filter.Status})
	}
	if filter.TimetableSlotID != "" {
		qb = qb.Where(sq.Eq{"se.timetable_slot_id": filter.TimetableSlotID})
	}
	qb = dateRange(qb, "se.date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("se.id::text", filter.IDs))
	}
	qb = byTeacher(qb, filter.Scope, "se.teacher_id", "se.classroom_id")

	sessions := make([]attendance.Session, 0)
	if err := repo.selectAll(ctx, repo.db, &sessions, qb); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	return sessions, nil
}

// Session attendance

func (repo attendanceRepository) UpsertAttendance(ctx context.Context, records []attendance.SessionAttendance, exec ...core.DBExecutor) error {
	if len(records) == 0 {
		return nil
	}
	qb := psql.Insert("session_attendance").
		Columns("id", "session_id", "student_id", "status", "arrival_time", "notes", "recorded_by", "recorded_at")
	for _, r := range records {
		qb = qb.Values(newID(), r.SessionID, r.StudentID, r.Status, r.ArrivalTime, r.Notes, r.RecordedBy, r.RecordedAt)
	}
	qb = qb.Suffix("ON CONFLICT (session_id, student_id) DO UPDATE SET" +
		" status = EXCLUDED.status, arrival_time = EXCLUDED.arrival_time, notes = EXCLUDED.notes," +
		" recorded_by = EXCLUDED.recorded_by, recorded_at = EXCLUDED.recorded_at")
	_, err := repo.exec(ctx, repo.getExec(exec), qb)
	return errors.Wrap(err, "upserting attendance")
}

func (repo attendanceRepository) UpdateAttendance(ctx context.Context, a attendance.SessionAttendance, exec ...core.DBExecutor) (attendance.SessionAttendance, error) {
	qb := psql.Update("session_attendance").
		SetMap(map[string]interface{}{
			"status":        a.Status,
			"arrival_time":  a.ArrivalTime,
			"notes":         a.Notes,
			"justification": a.Justification,
		}).
		Where(sq.Eq{"id": a.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return attendance.SessionAttendance{}, errors.Wrap(err, "updating attendance")
	}
	if n == 0 {
		return attendance.SessionAttendance{}, attendance.ErrAttendanceNotFound
	}
	return a, nil
}

func (repo attendanceRepository) QueryAttendance(ctx context.Context, filter attendance.AttendanceFilter, ordering []core.DBOrdering) ([]attendance.SessionAttendance, error) {
	qb := psql.Select("sa.id, sa.session_id, sa.student_id, sa.status, sa.arrival_time, sa.notes, sa.justification," +
		" sa.recorded_by, sa.recorded_at, se.date").
		From("session_attendance sa").
		Join("session se ON se.id = sa.session_id").
		OrderBy(orderBy(ordering, attendanceOrderings, "se.date DESC", "se.planned_start ASC")...)
	if filter.SessionID != "" {
		qb = qb.Where(sq.Eq{"sa.session_id": filter.SessionID})
	}
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"sa.student_id": filter.StudentID})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"sa.status": filter.Status})
	}
	qb = dateRange(qb, "se.date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("sa.id::text", filter.IDs))
	}
	qb = byStudent(qb, filter.Scope, "sa.student_id")

	records := make([]attendance.SessionAttendance, 0)
	if err := repo.selectAll(ctx, repo.db, &records, qb); err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	return records, nil
}

func (repo attendanceRepository) DayStatuses(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) ([]string, error) {
	qb := psql.Select("sa.status").
		From("session_attendance sa").
		Join("session se ON se.id = sa.session_id").
		Where(sq.Eq{"sa.student_id": studentID, "se.date": date}).
		Where(sq.NotEq{"se.status": attendance.StatusCancelled})

	statuses := make([]string, 0)
	if err := repo.selectAll(ctx, repo.getExec(exec), &statuses, qb); err != nil {
		return nil, errors.Wrap(err, "querying day statuses")
	}
	return statuses, nil
}

func (repo attendanceRepository) AttendanceDays(ctx context.Context, from, to core.Date) ([]attendance.StudentDay, error) {
	const query = `SELECT sa.student_id, se.date FROM session_attendance sa
		JOIN session se ON se.id = sa.session_id
		WHERE se.date BETWEEN $1 AND $2
	UNION
	SELECT student_id, date FROM daily_attendance_summary WHERE date BETWEEN $1 AND $2
	ORDER BY date, student_id`

	days := make([]attendance.StudentDay, 0)
	if err := repo.db.SelectContext(ctx, &days, query, from, to); err != nil {
		return nil, errors.Wrap(err, "listing attendance days")
	}
	return days, nil
}

// Daily summaries

func (repo attendanceRepository) UpsertSummary(ctx context.Context, s attendance.DailySummary, exec ...core.DBExecutor) (attendance.DailySummary, error) {
	qb := psql.Insert("daily_attendance_summary").
		Columns("id", "student_id", "date", "total_sessions", "present_sessions", "absent_sessions",
			"late_sessions", "excused_sessions", "attendance_rate", "daily_status", "updated_at").
		Values(newID(), s.StudentID, s.Date, s.TotalSessions, s.PresentSessions, s.AbsentSessions,
			s.LateSessions, s.ExcusedSessions, s.AttendanceRate, s.DailyStatus, s.UpdatedAt).
		Suffix("ON CONFLICT (student_id, date) DO UPDATE SET" +
			" total_sessions = EXCLUDED.total_sessions, present_sessions = EXCLUDED.present_sessions," +
			" absent_sessions = EXCLUDED.absent_sessions, late_sessions = EXCLUDED.late_sessions," +
			" excused_sessions = EXCLUDED.excused_sessions, attendance_rate = EXCLUDED.attendance_rate," +
			" daily_status = EXCLUDED.daily_status, updated_at = EXCLUDED.updated_at" +
			" RETURNING id")
	if err := repo.getOne(ctx, repo.getExec(exec), &s.ID, qb); err != nil {
		return attendance.DailySummary{}, errors.Wrap(err, "upserting summary")
	}
	return s, nil
}

func (repo attendanceRepository) DeleteSummary(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) error {
	qb := psql.Delete("daily_attendance_summary").Where(sq.Eq{"student_id": studentID, "date": date})
	_, err := repo.exec(ctx, repo.getExec(exec), qb)
	return errors.Wrap(err, "deleting summary")
}

func (repo attendanceRepository) QuerySummaries(ctx context.Context, filter attendance.SummaryFilter, ordering []core.DBOrdering) ([]attendance.DailySummary, error) {
	qb := psql.Select(summaryColumns).
		From("daily_attendance_summary ds").
		OrderBy(orderBy(ordering, summaryOrderings, "ds.date DESC")...)
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"ds.student_id": filter.StudentID})
	}
	if filter.DailyStatus != "" {
		qb = qb.Where(sq.Eq{"ds.daily_status": filter.DailyStatus})
	}
	qb = dateRange(qb, "ds.date", filter.DateFrom, filter.DateTo)
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("ds.id::text", filter.IDs))
	}
	qb = byStudent(qb, filter.Scope, "ds.student_id")

	summaries := make([]attendance.DailySummary, 0)
	if err := repo.selectAll(ctx, repo.db, &summaries, qb); err != nil {
		return nil, errors.Wrap(err, "querying summaries")
	}
	return summaries, nil
}

func (repo attendanceRepository) SubjectTotals(ctx context.Context, studentID string, from, to core.Date) ([]attendance.SubjectStats, error) {
	totals := make([]attendance.SubjectStats, 0)
	if err := queries.Raw(subjectTotalsQuery, studentID, from, to).Bind(ctx, repo.db, &totals); err != nil {
		return nil, errors.Wrap(err, "summing subject attendance")
	}
	return totals, nil
}
