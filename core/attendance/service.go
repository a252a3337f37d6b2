package attendance

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/academic"
	"github.com/eschool-app/eschool/core/activity"
	"github.com/eschool-app/eschool/core/communication"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
)

var (
	// errors
	ErrSessionNotFound    = core.NewNotFoundError("session")
	ErrAttendanceNotFound = core.NewNotFoundError("attendance")
	ErrSessionTransition  = errors.New("invalid session status transition")
	ErrSessionClosed      = errors.New("attendance cannot be taken for a cancelled or postponed session")
	ErrNotOnRoster        = errors.New("student is not enrolled in the session's classroom")
	ErrInvalidRange       = errors.New("the end date must not be before the start date")
	ErrRangeTooLong       = errors.New("the date range cannot exceed one year")
	ErrSlotDateTaken      = errors.New("the timetable slot already has a session on that date")

	nowFunc = time.Now // mockable

	maxRangeDays = 366
)

var admin = rbac.Principal{Role: user.RoleAdmin}

type (
	Repository interface {
		// CreateSessions inserts the sessions whose (timetable slot, date) does not exist yet
		// and returns how many were created.
		CreateSessions(ctx context.Context, sessions []Session) (int, error)
		CreateSession(ctx context.Context, s Session) (Session, error)
		UpdateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		QuerySessions(ctx context.Context, filter SessionFilter, ordering []core.DBOrdering) ([]Session, error)

		// UpsertAttendance creates or replaces the attendance of each (session, student).
		UpsertAttendance(ctx context.Context, records []SessionAttendance, exec ...core.DBExecutor) error
		UpdateAttendance(ctx context.Context, a SessionAttendance, exec ...core.DBExecutor) (SessionAttendance, error)
		QueryAttendance(ctx context.Context, filter AttendanceFilter, ordering []core.DBOrdering) ([]SessionAttendance, error)
		// DayStatuses returns the attendance statuses of a student on the non-cancelled sessions of a day.
		DayStatuses(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) ([]string, error)
		// AttendanceDays lists every student day having attendance or a summary between from and to.
		AttendanceDays(ctx context.Context, from, to core.Date) ([]StudentDay, error)

		UpsertSummary(ctx context.Context, s DailySummary, exec ...core.DBExecutor) (DailySummary, error)
		DeleteSummary(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) error
		QuerySummaries(ctx context.Context, filter SummaryFilter, ordering []core.DBOrdering) ([]DailySummary, error)
		// SubjectTotals sums a student's attendance per subject between from and to (unbounded when zero).
		SubjectTotals(ctx context.Context, studentID string, from, to core.Date) ([]SubjectStats, error)
	}

	Service struct {
		tx          core.Transactor
		repo        Repository
		academicSvc *academic.Service
		schoolSvc   *school.Service
		commSvc     *communication.Service
		mailSvc     core.EmailService
		recorder    *activity.Recorder
		logger      core.Logger
		loc         *time.Location
	}
)

func NewService(
	tx core.Transactor,
	repo Repository,
	academicSvc *academic.Service,
	schoolSvc *school.Service,
	commSvc *communication.Service,
	mailSvc core.EmailService,
	recorder *activity.Recorder,
	logger core.Logger,
	conf *core.Config,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(tx, "tx"),
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(academicSvc, "academicSvc"),
		vala.IsNotNil(schoolSvc, "schoolSvc"),
		vala.IsNotNil(commSvc, "commSvc"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(recorder, "recorder"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	return &Service{
		tx:          tx,
		repo:        repo,
		academicSvc: academicSvc,
		schoolSvc:   schoolSvc,
		commSvc:     commSvc,
		mailSvc:     mailSvc,
		recorder:    recorder,
		logger:      logger,
		loc:         conf.Location(),
	}
}

func (svc *Service) today() core.Date {
	return core.DateOf(nowFunc().In(svc.loc))
}

func checkRange(from, to core.Date) error {
	if from.IsZero() {
		return core.NewFieldError("from", "from is required")
	}
	if to.IsZero() {
		return core.NewFieldError("to", "to is required")
	}
	if to.Before(from) {
		return core.NewFieldError("to", ErrInvalidRange.Error())
	}
	if to.Sub(from.Time) > time.Duration(maxRangeDays)*24*time.Hour {
		return core.NewFieldError("to", ErrRangeTooLong.Error())
	}
	return nil
}

// Sessions

// GenerateSessions creates a SCHEDULED session for every timetable slot on every matching weekday
// between from and to (inclusive). Existing sessions are left untouched.
func (svc *Service) GenerateSessions(ctx context.Context, from, to core.Date) (int, error) {
	if err := checkRange(from, to); err != nil {
		return 0, err
	}
	slots, err := svc.academicSvc.QuerySlots(ctx, admin, academic.SlotFilter{}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying timetable")
	}
	if len(slots) == 0 {
		return 0, nil
	}

	now := nowFunc().UTC()
	sessions := make([]Session, 0)
	for day := from; !day.After(to); day = day.AddDays(1) {
		periodID, err := svc.academicSvc.PeriodAt(ctx, day)
		if err != nil {
			return 0, err
		}
		for _, slot := range slots {
			if slot.Weekday != day.ISOWeekday() {
				continue
			}
			if slot.PeriodID.Valid && slot.PeriodID.String != periodID {
				continue
			}
			sessions = append(sessions, Session{
				TimetableSlotID: null.StringFrom(slot.ID),
				ClassRoomID:     slot.ClassRoomID,
				SubjectID:       slot.SubjectID,
				TeacherID:       slot.TeacherID,
				PeriodID:        null.NewString(periodID, periodID != ""),
				Date:            day,
				PlannedStart:    slot.StartTime,
				PlannedEnd:      slot.EndTime,
				Status:          StatusScheduled,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}
	if len(sessions) == 0 {
		return 0, nil
	}
	n, err := svc.repo.CreateSessions(ctx, sessions)
	return n, errors.Wrap(err, "creating sessions")
}

func (svc *Service) QuerySessions(ctx context.Context, p rbac.Principal, filter SessionFilter, ordering []core.DBOrdering) ([]Session, error) {
	filter.Scope = p.Scope(rbac.Sessions)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QuerySessions(ctx, filter, ordering)
}

func (svc *Service) GetSession(ctx context.Context, p rbac.Principal, id string) (Session, error) {
	sessions, err := svc.QuerySessions(ctx, p, SessionFilter{IDs: []string{id}}, nil)
	if err != nil {
		return Session{}, errors.Wrap(err, "querying sessions")
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

// getOwnSession returns a session the principal teaches, or any session for admins.
func (svc *Service) getOwnSession(ctx context.Context, p rbac.Principal, id string) (Session, error) {
	s, err := svc.GetSession(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if !p.IsAdmin() && (p.TeacherID == "" || s.TeacherID != p.TeacherID) {
		return Session{}, core.ErrForbidden
	}
	return s, nil
}

// transition moves a session to status to. apply edits the session before it is saved and after
// runs in the same transaction once it is.
func (svc *Service) transition(
	ctx context.Context,
	p rbac.Principal,
	id, to string,
	apply func(s *Session),
	after func(ctx context.Context, prev, s Session, exec core.DBExecutor) error,
) (Session, error) {
	s, err := svc.getOwnSession(ctx, p, id)
	if err != nil {
		return Session{}, err
	}
	if !CanTransition(s.Status, to) {
		return Session{}, core.NewFieldError("status", fmt.Sprintf("%s: %s -> %s", ErrSessionTransition, s.Status, to))
	}
	prev := s
	s.Status = to
	if apply != nil {
		apply(&s)
	}
	s.UpdatedAt = nowFunc().UTC()

	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		var err error
		if s, err = svc.repo.UpdateSession(ctx, s, exec); err != nil {
			if errors.Cause(err) == ErrSlotDateTaken {
				return core.NewFieldError("date", ErrSlotDateTaken.Error())
			}
			return errors.Wrap(err, "updating session")
		}
		if after != nil {
			return after(ctx, prev, s, exec)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.SessionStatus,
		Description: fmt.Sprintf("session status changed from %s to %s", prev.Status, to),
		ContentType: "session",
		ObjectID:    s.ID,
		ObjectRepr:  s.Date.String(),
		OldValues:   map[string]string{"status": prev.Status},
		NewValues:   map[string]string{"status": to},
	})
	return s, nil
}

// refreshSessionDays recomputes the daily summaries of the students recorded on a session, on the
// date it had before the change and on its current one.
func (svc *Service) refreshSessionDays(ctx context.Context, prev, s Session, exec core.DBExecutor) error {
	if !s.AttendanceTaken {
		return nil
	}
	records, err := svc.repo.QueryAttendance(ctx, AttendanceFilter{SessionID: s.ID, Scope: rbac.All()}, nil)
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	dates := []core.Date{s.Date}
	if !prev.Date.Equal(s.Date) {
		dates = append(dates, prev.Date)
	}
	for _, r := range records {
		for _, date := range dates {
			if err := svc.RecomputeSummary(ctx, r.StudentID, date, exec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start moves a SCHEDULED session to IN_PROGRESS and stamps its actual start.
func (svc *Service) Start(ctx context.Context, p rbac.Principal, id string) (Session, error) {
	return svc.transition(ctx, p, id, StatusInProgress, func(s *Session) {
		s.ActualStart = null.TimeFrom(nowFunc().UTC())
	}, nil)
}

// Complete moves an IN_PROGRESS session to COMPLETED, stamps its actual end and records the lesson.
func (svc *Service) Complete(ctx context.Context, p rbac.Principal, id string, l Lesson) (Session, error) {
	return svc.transition(ctx, p, id, StatusCompleted, func(s *Session) {
		s.ActualEnd = null.TimeFrom(nowFunc().UTC())
		if l.LessonTitle != "" {
			s.LessonTitle = l.LessonTitle
		}
		if l.LessonObjectives != "" {
			s.LessonObjectives = l.LessonObjectives
		}
		if l.LessonContent != "" {
			s.LessonContent = l.LessonContent
		}
		if l.LessonSummary != "" {
			s.LessonSummary = l.LessonSummary
		}
		if l.TeacherNotes != "" {
			s.TeacherNotes = l.TeacherNotes
		}
		if l.HomeworkGiven != "" {
			s.HomeworkGiven = l.HomeworkGiven
		}
	}, nil)
}

// Cancel cancels a session and refreshes the daily summaries it counted in.
func (svc *Service) Cancel(ctx context.Context, p rbac.Principal, id string) (Session, error) {
	return svc.transition(ctx, p, id, StatusCancelled, nil, svc.refreshSessionDays)
}

func (svc *Service) Postpone(ctx context.Context, p rbac.Principal, id string) (Session, error) {
	return svc.transition(ctx, p, id, StatusPostponed, nil, nil)
}

// Reschedule moves a POSTPONED session back to SCHEDULED, optionally on another date.
// Attendance already taken moves with it, so both days are summarized again.
func (svc *Service) Reschedule(ctx context.Context, p rbac.Principal, id string, date core.Date) (Session, error) {
	return svc.transition(ctx, p, id, StatusScheduled, func(s *Session) {
		if !date.IsZero() {
			s.Date = date
		}
	}, svc.refreshSessionDays)
}

// Attendance

// Sheet returns the roster of a session with the attendance recorded so far.
func (svc *Service) Sheet(ctx context.Context, p rbac.Principal, sessionID string) (Sheet, error) {
	s, err := svc.GetSession(ctx, p, sessionID)
	if err != nil {
		return Sheet{}, err
	}
	records, err := svc.QueryAttendance(ctx, p, AttendanceFilter{SessionID: s.ID}, nil)
	if err != nil {
		return Sheet{}, err
	}
	sheet := Sheet{Session: s, Records: records, Roster: []string{}}
	if p.IsAdmin() || (p.TeacherID != "" && p.TeacherID == s.TeacherID) {
		if sheet.Roster, err = svc.academicSvc.Roster(ctx, s.ClassRoomID); err != nil {
			return Sheet{}, err
		}
	}
	return sheet, nil
}

// TakeAttendance records the attendance of every student on the session's roster.
// Students missing from ta are marked ABSENT. The daily summaries of the session date are
// recomputed in the same transaction, then the parents of absent students are notified.
func (svc *Service) TakeAttendance(ctx context.Context, p rbac.Principal, sessionID string, ta TakeAttendance) ([]SessionAttendance, error) {
	s, err := svc.getOwnSession(ctx, p, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsOpen() {
		return nil, core.NewFieldError("session", ErrSessionClosed.Error())
	}

	roster, err := svc.academicSvc.Roster(ctx, s.ClassRoomID)
	if err != nil {
		return nil, err
	}
	given := make(map[string]Record, len(ta.Records))
	for _, r := range ta.Records {
		if !core.ContainsString(roster, r.StudentID) {
			return nil, core.NewFieldError("records", fmt.Sprintf("%s: %s", ErrNotOnRoster, r.StudentID))
		}
		given[r.StudentID] = r
	}

	now := nowFunc().UTC()
	rows := make([]SessionAttendance, 0, len(roster))
	absentees := make([]string, 0)
	for _, studentID := range roster {
		row := SessionAttendance{
			SessionID:  s.ID,
			StudentID:  studentID,
			Status:     Absent,
			RecordedBy: null.NewString(p.UserID, p.UserID != ""),
			RecordedAt: now,
		}
		if r, ok := given[studentID]; ok {
			row.Status = r.Status
			row.ArrivalTime = r.ArrivalTime
			row.Notes = r.Notes
		}
		if row.Status == Absent {
			absentees = append(absentees, studentID)
		}
		rows = append(rows, row)
	}

	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		if err := svc.repo.UpsertAttendance(ctx, rows, exec); err != nil {
			return errors.Wrap(err, "saving attendance")
		}
		s.AttendanceTaken = true
		s.AttendanceTakenAt = null.TimeFrom(now)
		s.UpdatedAt = now
		if _, err := svc.repo.UpdateSession(ctx, s, exec); err != nil {
			return errors.Wrap(err, "updating session")
		}
		for _, studentID := range roster {
			if err := svc.RecomputeSummary(ctx, studentID, s.Date, exec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.AttendanceTake,
		Description: fmt.Sprintf("attendance taken for %d students, %d absent", len(rows), len(absentees)),
		ContentType: "session",
		ObjectID:    s.ID,
		ObjectRepr:  s.Date.String(),
	})
	svc.notifyAbsences(ctx, s, absentees)

	return svc.repo.QueryAttendance(ctx, AttendanceFilter{SessionID: s.ID, Scope: rbac.All()}, nil)
}

// notifyAbsences notifies the parents of absent students. Failures are logged only.
func (svc *Service) notifyAbsences(ctx context.Context, s Session, absentees []string) {
	if len(absentees) == 0 {
		return
	}
	subject, err := svc.academicSvc.GetSubject(ctx, s.SubjectID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("attendance.notifyAbsences: %v", err), err)
		return
	}

	messages := make([]*core.EmailMessage, 0)
	for _, studentID := range absentees {
		student, err := svc.schoolSvc.GetStudent(ctx, admin, studentID)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("attendance.notifyAbsences: %v", err), err)
			continue
		}
		parents, err := svc.schoolSvc.ParentsOf(ctx, studentID)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("attendance.notifyAbsences: %v", err), err)
			continue
		}
		for _, parent := range parents {
			msg := fmt.Sprintf("%s was absent from %s on %s (%s-%s).",
				student.FullName(), subject.Name, s.Date, s.PlannedStart, s.PlannedEnd)
			_, err := svc.commSvc.Notify(ctx, parent.UserID, communication.NotificationAttendance,
				"Absence: "+student.FullName(), msg, "/attendance/daily?student_id="+studentID)
			if err != nil {
				svc.logger.Error(fmt.Sprintf("attendance.notifyAbsences: %v", err), err)
			}
			if parent.Email == "" {
				continue
			}
			messages = append(messages, &core.EmailMessage{
				To:           []mail.Address{{Name: parent.FullName(), Address: parent.Email}},
				Subject:      "Absence of " + student.FullName(),
				TemplateName: "absence_alert",
				TemplateData: map[string]string{
					"ParentName":  parent.FullName(),
					"StudentName": student.FullName(),
					"Subject":     subject.Name,
					"Date":        s.Date.String(),
					"Start":       s.PlannedStart.String(),
					"End":         s.PlannedEnd.String(),
				},
			})
		}
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
}

func (svc *Service) QueryAttendance(ctx context.Context, p rbac.Principal, filter AttendanceFilter, ordering []core.DBOrdering) ([]SessionAttendance, error) {
	filter.Scope = p.Scope(rbac.Attendance)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QueryAttendance(ctx, filter, ordering)
}

// Justify excuses an attendance record and refreshes the student's daily summary.
func (svc *Service) Justify(ctx context.Context, p rbac.Principal, attendanceID string, j Justification) (SessionAttendance, error) {
	records, err := svc.QueryAttendance(ctx, p, AttendanceFilter{IDs: []string{attendanceID}}, nil)
	if err != nil {
		return SessionAttendance{}, errors.Wrap(err, "querying attendance")
	}
	if len(records) == 0 {
		return SessionAttendance{}, ErrAttendanceNotFound
	}
	a := records[0]
	s, err := svc.getOwnSession(ctx, p, a.SessionID)
	if err != nil {
		return SessionAttendance{}, err
	}

	old := a.Status
	a.Status = Excused
	a.Justification = j.Justification
	err = svc.tx.RunInTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		if a, err = svc.repo.UpdateAttendance(ctx, a, exec); err != nil {
			return errors.Wrap(err, "updating attendance")
		}
		return svc.RecomputeSummary(ctx, a.StudentID, s.Date, exec)
	})
	if err != nil {
		return SessionAttendance{}, err
	}

	svc.recorder.Record(ctx, p.UserID, activity.Entry{
		ActionType:  activity.Other,
		Description: "absence justified",
		ContentType: "session_attendance",
		ObjectID:    a.ID,
		OldValues:   map[string]string{"status": old},
		NewValues:   map[string]string{"status": a.Status, "justification": a.Justification},
	})
	return a, nil
}

// Daily summaries

// RecomputeSummary rebuilds the daily summary of a student for date.
// The summary is deleted when the student has no attendance that day.
func (svc *Service) RecomputeSummary(ctx context.Context, studentID string, date core.Date, exec ...core.DBExecutor) error {
	statuses, err := svc.repo.DayStatuses(ctx, studentID, date, exec...)
	if err != nil {
		return errors.Wrap(err, "counting day statuses")
	}
	summary, ok := Summarize(studentID, date, statuses)
	if !ok {
		return errors.Wrap(svc.repo.DeleteSummary(ctx, studentID, date, exec...), "deleting summary")
	}
	summary.UpdatedAt = nowFunc().UTC()
	_, err = svc.repo.UpsertSummary(ctx, summary, exec...)
	return errors.Wrap(err, "saving summary")
}

// RecomputeRange rebuilds every daily summary between from and to and returns how many student days were processed.
func (svc *Service) RecomputeRange(ctx context.Context, from, to core.Date) (int, error) {
	if err := checkRange(from, to); err != nil {
		return 0, err
	}
	days, err := svc.repo.AttendanceDays(ctx, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "listing attendance days")
	}
	for i, day := range days {
		if err := svc.RecomputeSummary(ctx, day.StudentID, day.Date); err != nil {
			return i, err
		}
	}
	return len(days), nil
}

func (svc *Service) QuerySummaries(ctx context.Context, p rbac.Principal, filter SummaryFilter, ordering []core.DBOrdering) ([]DailySummary, error) {
	filter.Scope = p.Scope(rbac.Attendance)
	if filter.Scope.Empty() {
		return nil, nil
	}
	return svc.repo.QuerySummaries(ctx, filter, ordering)
}

// Stats aggregates a student's attendance over a period (see PeriodRange).
func (svc *Service) Stats(ctx context.Context, p rbac.Principal, studentID, period string) (Stats, error) {
	if period == "" {
		period = PeriodCurrentMonth
	}
	from, to, err := PeriodRange(period, svc.today())
	if err != nil {
		return Stats{}, core.NewFieldError("period", err.Error())
	}
	if p.Scope(rbac.Attendance).Empty() {
		return Stats{}, school.ErrStudentNotFound
	}
	if _, err := svc.schoolSvc.GetStudent(ctx, p, studentID); err != nil {
		return Stats{}, err
	}

	summaries, err := svc.repo.QuerySummaries(ctx, SummaryFilter{
		StudentID: studentID,
		DateFrom:  from,
		DateTo:    to,
		Scope:     rbac.All(),
	}, nil)
	if err != nil {
		return Stats{}, errors.Wrap(err, "querying summaries")
	}
	subjects, err := svc.repo.SubjectTotals(ctx, studentID, from, to)
	if err != nil {
		return Stats{}, errors.Wrap(err, "summing subjects")
	}
	return buildStats(studentID, period, from, to, summaries, subjects), nil
}
