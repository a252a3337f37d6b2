package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

// Session statuses
const (
	StatusScheduled  = "SCHEDULED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusPostponed  = "POSTPONED"
)

// Attendance statuses
const (
	Present = "PRESENT"
	Absent  = "ABSENT"
	Late    = "LATE"
	Excused = "EXCUSED"
)

// Daily statuses
const (
	FullyPresent     = "FULLY_PRESENT"
	PartiallyPresent = "PARTIALLY_PRESENT"
	MostlyAbsent     = "MOSTLY_ABSENT"
	FullyAbsent      = "FULLY_ABSENT"
)

var (
	AttendanceStatuses = []string{Present, Absent, Late, Excused}
	DailyStatuses      = []string{FullyPresent, PartiallyPresent, MostlyAbsent, FullyAbsent}

	// transitions lists the statuses a session may move to from each status.
	transitions = map[string][]string{
		StatusScheduled:  {StatusInProgress, StatusCancelled, StatusPostponed},
		StatusInProgress: {StatusCompleted, StatusCancelled},
		StatusPostponed:  {StatusScheduled},
	}
)

// CanTransition reports whether a session may move from one status to the other.
func CanTransition(from, to string) bool {
	return core.ContainsString(transitions[from], to)
}

type Session struct {
	ID                string      `json:"id" db:"id"`
	TimetableSlotID   null.String `json:"timetable_slot_id" db:"timetable_slot_id"`
	ClassRoomID       string      `json:"classroom_id" db:"classroom_id"`
	SubjectID         string      `json:"subject_id" db:"subject_id"`
	TeacherID         string      `json:"teacher_id" db:"teacher_id"`
	PeriodID          null.String `json:"period_id" db:"period_id"`
	Date              core.Date   `json:"date" db:"date"`
	PlannedStart      core.Clock  `json:"planned_start" db:"planned_start"`
	PlannedEnd        core.Clock  `json:"planned_end" db:"planned_end"`
	ActualStart       null.Time   `json:"actual_start" db:"actual_start"`
	ActualEnd         null.Time   `json:"actual_end" db:"actual_end"`
	Status            string      `json:"status" db:"status"`
	LessonTitle       string      `json:"lesson_title" db:"lesson_title"`
	LessonObjectives  string      `json:"lesson_objectives" db:"lesson_objectives"`
	LessonContent     string      `json:"lesson_content" db:"lesson_content"`
	LessonSummary     string      `json:"lesson_summary" db:"lesson_summary"`
	TeacherNotes      string      `json:"teacher_notes" db:"teacher_notes"`
	HomeworkGiven     string      `json:"homework_given" db:"homework_given"`
	AttendanceTaken   bool        `json:"attendance_taken" db:"attendance_taken"`
	AttendanceTakenAt null.Time   `json:"attendance_taken_at" db:"attendance_taken_at"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether attendance may be taken for the session.
func (s Session) IsOpen() bool {
	return s.Status != StatusCancelled && s.Status != StatusPostponed
}

type SessionAttendance struct {
	ID            string      `json:"id" db:"id"`
	SessionID     string      `json:"session_id" db:"session_id"`
	StudentID     string      `json:"student_id" db:"student_id"`
	Status        string      `json:"status" db:"status"`
	ArrivalTime   *core.Clock `json:"arrival_time" db:"arrival_time"`
	Notes         string      `json:"notes" db:"notes"`
	Justification string      `json:"justification" db:"justification"`
	RecordedBy    null.String `json:"recorded_by" db:"recorded_by"`
	RecordedAt    time.Time   `json:"recorded_at" db:"recorded_at"`
	Date          core.Date   `json:"date" db:"date"` // session date, read-only
}

type DailySummary struct {
	ID              string    `json:"id" db:"id"`
	StudentID       string    `json:"student_id" db:"student_id"`
	Date            core.Date `json:"date" db:"date"`
	TotalSessions   int       `json:"total_sessions" db:"total_sessions"`
	PresentSessions int       `json:"present_sessions" db:"present_sessions"`
	AbsentSessions  int       `json:"absent_sessions" db:"absent_sessions"`
	LateSessions    int       `json:"late_sessions" db:"late_sessions"`
	ExcusedSessions int       `json:"excused_sessions" db:"excused_sessions"`
	AttendanceRate  float64   `json:"attendance_rate" db:"attendance_rate"`
	DailyStatus     string    `json:"daily_status" db:"daily_status"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// StudentDay identifies the daily summary of a student.
type StudentDay struct {
	StudentID string    `db:"student_id"`
	Date      core.Date `db:"date"`
}

// SubjectStats sums a student's session attendance in one subject.
type SubjectStats struct {
	SubjectID      string  `json:"subject_id" db:"subject_id"`
	SubjectName    string  `json:"subject_name" db:"subject_name"`
	Total          int     `json:"total" db:"total"`
	Present        int     `json:"present" db:"present"`
	Absent         int     `json:"absent" db:"absent"`
	Late           int     `json:"late" db:"late"`
	Excused        int     `json:"excused" db:"excused"`
	AttendanceRate float64 `json:"attendance_rate" db:"-"`
}

type Stats struct {
	StudentID      string         `json:"student_id"`
	Period         string         `json:"period"`
	From           core.Date      `json:"from"`
	To             core.Date      `json:"to"`
	Days           map[string]int `json:"days"` // by daily status
	TotalDays      int            `json:"total_days"`
	TotalSessions  int            `json:"total_sessions"`
	Present        int            `json:"present"`
	Absent         int            `json:"absent"`
	Late           int            `json:"late"`
	Excused        int            `json:"excused"`
	AttendanceRate float64        `json:"attendance_rate"`
	AbsenceRate    float64        `json:"absence_rate"`
	Subjects       []SubjectStats `json:"subjects"`
}

// Sheet is the attendance sheet of a session: its roster and the records taken so far.
type Sheet struct {
	Session Session             `json:"session"`
	Roster  []string            `json:"roster"`
	Records []SessionAttendance `json:"records"`
}

// inputs

type Record struct {
	StudentID   string      `json:"student_id" validate:"required,uuid"`
	Status      string      `json:"status" validate:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	ArrivalTime *core.Clock `json:"arrival_time"`
	Notes       string      `json:"notes" validate:"omitempty,max=500"`
}

type TakeAttendance struct {
	Records []Record `json:"records" validate:"dive"`
}

func (ta *TakeAttendance) Validate(validate *validator.Validate) error {
	seen := make(map[string]bool, len(ta.Records))
	for i := range ta.Records {
		ta.Records[i].Notes = core.CleanString(ta.Records[i].Notes)
		if seen[ta.Records[i].StudentID] {
			return core.NewFieldError("records", "each student may only appear once")
		}
		seen[ta.Records[i].StudentID] = true
	}
	return validate.Struct(ta)
}

type Justification struct {
	Justification string `json:"justification" validate:"required,max=1000"`
}

func (j *Justification) Validate(validate *validator.Validate) error {
	j.Justification = core.CleanString(j.Justification)
	return validate.Struct(j)
}

type Lesson struct {
	LessonTitle      string `json:"lesson_title" validate:"omitempty,max=200"`
	LessonObjectives string `json:"lesson_objectives"`
	LessonContent    string `json:"lesson_content"`
	LessonSummary    string `json:"lesson_summary"`
	TeacherNotes     string `json:"teacher_notes"`
	HomeworkGiven    string `json:"homework_given"`
}

func (l *Lesson) Validate(validate *validator.Validate) error {
	l.LessonTitle = core.CleanString(l.LessonTitle)
	return validate.Struct(l)
}

type Generate struct {
	From core.Date `json:"from"`
	To   core.Date `json:"to"`
}

// filters

type SessionFilter struct {
	ClassRoomID     string    `query:"classroom_id"`
	TeacherID       string    `query:"teacher_id"`
	SubjectID       string    `query:"subject_id"`
	Status          string    `query:"status"`
	DateFrom        core.Date `query:"date_from"`
	DateTo          core.Date `query:"date_to"` // inclusive
	TimetableSlotID string    `query:"-"`
	IDs             []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type AttendanceFilter struct {
	SessionID string    `query:"session_id"`
	StudentID string    `query:"student_id"`
	Status    string    `query:"status"`
	DateFrom  core.Date `query:"date_from"`
	DateTo    core.Date `query:"date_to"` // inclusive
	IDs       []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type SummaryFilter struct {
	StudentID   string    `query:"student_id"`
	DailyStatus string    `query:"daily_status"`
	DateFrom    core.Date `query:"date_from"`
	DateTo      core.Date `query:"date_to"` // inclusive
	IDs         []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}
