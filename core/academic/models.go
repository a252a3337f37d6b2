package academic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

// Grade types
const (
	GradeHomework      = "HOMEWORK"
	GradeTest          = "TEST"
	GradeExam          = "EXAM"
	GradeProject       = "PROJECT"
	GradeParticipation = "PARTICIPATION"
)

var GradeTypes = []string{GradeHomework, GradeTest, GradeExam, GradeProject, GradeParticipation}

type AcademicYear struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	StartDate core.Date `json:"start_date" db:"start_date"`
	EndDate   core.Date `json:"end_date" db:"end_date"`
	IsCurrent bool      `json:"is_current" db:"is_current"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Period struct {
	ID             string    `json:"id" db:"id"`
	AcademicYearID string    `json:"academic_year_id" db:"academic_year_id"`
	Name           string    `json:"name" db:"name"`
	StartDate      core.Date `json:"start_date" db:"start_date"`
	EndDate        core.Date `json:"end_date" db:"end_date"`
	IsCurrent      bool      `json:"is_current" db:"is_current"`
}

type Subject struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Code        string  `json:"code" db:"code"`
	Description string  `json:"description" db:"description"`
	Coefficient float64 `json:"coefficient" db:"coefficient"`
	Color       string  `json:"color" db:"color"`
}

type ClassRoom struct {
	ID             string      `json:"id" db:"id"`
	Name           string      `json:"name" db:"name"`
	Level          string      `json:"level" db:"level"`
	AcademicYearID string      `json:"academic_year_id" db:"academic_year_id"`
	HeadTeacherID  null.String `json:"head_teacher_id" db:"head_teacher_id"`
	Capacity       int         `json:"capacity" db:"capacity"`
	Room           string      `json:"room" db:"room"`
	EnrolledCount  int         `json:"enrolled_count" db:"enrolled_count"` // active enrollments
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

func (c ClassRoom) IsFull() bool {
	return c.EnrolledCount >= c.Capacity
}

func (c ClassRoom) MarshalJSON() ([]byte, error) {
	type alias ClassRoom
	return json.Marshal(struct {
		alias
		IsFull bool `json:"is_full"`
	}{alias(c), c.IsFull()})
}

type TeacherAssignment struct {
	ID             string `json:"id" db:"id"`
	TeacherID      string `json:"teacher_id" db:"teacher_id"`
	ClassRoomID    string `json:"classroom_id" db:"classroom_id"`
	SubjectID      string `json:"subject_id" db:"subject_id"`
	AcademicYearID string `json:"academic_year_id" db:"academic_year_id"`
	HoursPerWeek   int    `json:"hours_per_week" db:"hours_per_week"`
}

type Enrollment struct {
	ID             string    `json:"id" db:"id"`
	StudentID      string    `json:"student_id" db:"student_id"`
	ClassRoomID    string    `json:"classroom_id" db:"classroom_id"`
	AcademicYearID string    `json:"academic_year_id" db:"academic_year_id"`
	EnrollmentDate core.Date `json:"enrollment_date" db:"enrollment_date"`
	WithdrawalDate core.Date `json:"withdrawal_date" db:"withdrawal_date"`
	IsActive       bool      `json:"is_active" db:"is_active"`
}

type TimetableSlot struct {
	ID          string      `json:"id" db:"id"`
	ClassRoomID string      `json:"classroom_id" db:"classroom_id"`
	SubjectID   string      `json:"subject_id" db:"subject_id"`
	TeacherID   string      `json:"teacher_id" db:"teacher_id"`
	Weekday     int         `json:"weekday" db:"weekday"` // 1=Monday..7=Sunday
	StartTime   core.Clock  `json:"start_time" db:"start_time"`
	EndTime     core.Clock  `json:"end_time" db:"end_time"`
	Room        string      `json:"room" db:"room"`
	PeriodID    null.String `json:"period_id" db:"period_id"`
}

// Overlaps reports whether both slots share part of the same weekday.
func (s TimetableSlot) Overlaps(other TimetableSlot) bool {
	return s.Weekday == other.Weekday && s.StartTime < other.EndTime && other.StartTime < s.EndTime
}

type Grade struct {
	ID          string      `json:"id" db:"id"`
	StudentID   string      `json:"student_id" db:"student_id"`
	SubjectID   string      `json:"subject_id" db:"subject_id"`
	TeacherID   string      `json:"teacher_id" db:"teacher_id"`
	ClassRoomID string      `json:"classroom_id" db:"classroom_id"`
	PeriodID    null.String `json:"period_id" db:"period_id"`
	Name        string      `json:"name" db:"name"`
	Type        string      `json:"type" db:"type"`
	Score       float64     `json:"score" db:"score"`
	MaxScore    float64     `json:"max_score" db:"max_score"`
	Coefficient float64     `json:"coefficient" db:"coefficient"`
	Date        core.Date   `json:"date" db:"date"`
	Comments    string      `json:"comments" db:"comments"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

func (g Grade) Percentage() float64 {
	if g.MaxScore == 0 {
		return 0
	}
	return g.Score / g.MaxScore * 100
}

func (g Grade) WeightedScore() float64 {
	return g.Score * g.Coefficient
}

func (g Grade) MarshalJSON() ([]byte, error) {
	type alias Grade
	return json.Marshal(struct {
		alias
		Percentage    float64 `json:"percentage"`
		WeightedScore float64 `json:"weighted_score"`
	}{alias(g), core.Round(g.Percentage(), 2), core.Round(g.WeightedScore(), 2)})
}

// SubjectAverage is the weighted average of a student's grades in one subject.
type SubjectAverage struct {
	SubjectID   string  `json:"subject_id"`
	SubjectName string  `json:"subject_name"`
	Coefficient float64 `json:"coefficient"`
	GradeCount  int     `json:"grade_count"`
	Average     float64 `json:"average"` // percentage
}

type Averages struct {
	StudentID string           `json:"student_id"`
	PeriodID  string           `json:"period_id"`
	Subjects  []SubjectAverage `json:"subjects"`
	Overall   float64          `json:"overall"`
}

// inputs

type NewAcademicYear struct {
	Name      string    `json:"name" validate:"required,max=20"`
	StartDate core.Date `json:"start_date"`
	EndDate   core.Date `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

func (ny *NewAcademicYear) Validate(validate *validator.Validate) error {
	ny.Name = core.CleanString(ny.Name)
	return validate.Struct(ny)
}

type NewPeriod struct {
	AcademicYearID string    `json:"academic_year_id" validate:"required,uuid"`
	Name           string    `json:"name" validate:"required,max=50"`
	StartDate      core.Date `json:"start_date"`
	EndDate        core.Date `json:"end_date"`
	IsCurrent      bool      `json:"is_current"`
}

func (np *NewPeriod) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	return validate.Struct(np)
}

type NewSubject struct {
	Name        string  `json:"name" validate:"required,max=100"`
	Code        string  `json:"code" validate:"required,max=10,code"`
	Description string  `json:"description"`
	Coefficient float64 `json:"coefficient" validate:"gte=0,lte=10"`
	Color       string  `json:"color" validate:"omitempty,hexcolor"`
}

func (ns *NewSubject) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Code = strings.ToUpper(core.CleanString(ns.Code))
	ns.Description = core.CleanString(ns.Description)
	if ns.Coefficient == 0 {
		ns.Coefficient = 1
	}
	if ns.Color == "" {
		ns.Color = "#3B82F6"
	}
	return validate.Struct(ns)
}

type NewClassRoom struct {
	Name           string `json:"name" validate:"required,max=50"`
	Level          string `json:"level" validate:"required,max=20"`
	AcademicYearID string `json:"academic_year_id" validate:"required,uuid"`
	HeadTeacherID  string `json:"head_teacher_id" validate:"omitempty,uuid"`
	Capacity       int    `json:"capacity" validate:"gte=0,lte=200"`
	Room           string `json:"room" validate:"omitempty,max=20"`
}

func (nc *NewClassRoom) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Level = core.CleanString(nc.Level)
	nc.Room = core.CleanString(nc.Room)
	return validate.Struct(nc)
}

type NewAssignment struct {
	TeacherID    string `json:"teacher_id" validate:"required,uuid"`
	ClassRoomID  string `json:"classroom_id" validate:"required,uuid"`
	SubjectID    string `json:"subject_id" validate:"required,uuid"`
	HoursPerWeek int    `json:"hours_per_week" validate:"gte=0,lte=40"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	return validate.Struct(na)
}

type NewEnrollment struct {
	StudentID      string    `json:"student_id" validate:"required,uuid"`
	ClassRoomID    string    `json:"classroom_id" validate:"required,uuid"`
	EnrollmentDate core.Date `json:"enrollment_date"`
}

func (ne *NewEnrollment) Validate(validate *validator.Validate) error {
	return validate.Struct(ne)
}

type NewTimetableSlot struct {
	ClassRoomID string     `json:"classroom_id" validate:"required,uuid"`
	SubjectID   string     `json:"subject_id" validate:"required,uuid"`
	TeacherID   string     `json:"teacher_id" validate:"required,uuid"`
	Weekday     int        `json:"weekday" validate:"required,weekday"`
	StartTime   core.Clock `json:"start_time"`
	EndTime     core.Clock `json:"end_time" validate:"required"`
	Room        string     `json:"room" validate:"omitempty,max=20"`
	PeriodID    string     `json:"period_id" validate:"omitempty,uuid"`
}

func (ns *NewTimetableSlot) Validate(validate *validator.Validate) error {
	ns.Room = core.CleanString(ns.Room)
	return validate.Struct(ns)
}

type NewGrade struct {
	StudentID   string    `json:"student_id" validate:"required,uuid"`
	SubjectID   string    `json:"subject_id" validate:"required,uuid"`
	ClassRoomID string    `json:"classroom_id" validate:"omitempty,uuid"`
	PeriodID    string    `json:"period_id" validate:"omitempty,uuid"`
	Name        string    `json:"name" validate:"required,max=100"`
	Type        string    `json:"type" validate:"required,oneof=HOMEWORK TEST EXAM PROJECT PARTICIPATION"`
	Score       float64   `json:"score" validate:"gte=0"`
	MaxScore    float64   `json:"max_score" validate:"gt=0"`
	Coefficient float64   `json:"coefficient" validate:"gte=0,lte=10"`
	Date        core.Date `json:"date"`
	Comments    string    `json:"comments"`
}

func (ng *NewGrade) Validate(validate *validator.Validate) error {
	ng.Name = core.CleanString(ng.Name)
	ng.Comments = core.CleanString(ng.Comments)
	if ng.MaxScore == 0 {
		ng.MaxScore = 20
	}
	if ng.Coefficient == 0 {
		ng.Coefficient = 1
	}
	return validate.Struct(ng)
}

type UpdateGrade struct {
	Name     string   `json:"name" validate:"omitempty,max=100"`
	Score    *float64 `json:"score" validate:"omitempty,gte=0"`
	Comments *string  `json:"comments"`
}

func (ug *UpdateGrade) Validate(validate *validator.Validate) error {
	ug.Name = core.CleanString(ug.Name)
	return validate.Struct(ug)
}

// filters

type YearFilter struct {
	IsCurrent *bool    `query:"is_current"`
	IDs       []string `query:"-"`
}

type PeriodFilter struct {
	AcademicYearID string    `query:"academic_year_id"`
	IsCurrent      *bool     `query:"is_current"`
	Date           core.Date `query:"date"` // periods containing this date
	IDs            []string  `query:"-"`
}

type SubjectFilter struct {
	Search string   `query:"search"`
	Code   string   `query:"-"`
	IDs    []string `query:"-"`
}

type ClassRoomFilter struct {
	Search         string   `query:"search"`
	Level          string   `query:"level"`
	AcademicYearID string   `query:"academic_year_id"`
	Name           string   `query:"-"`
	IDs            []string `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type AssignmentFilter struct {
	TeacherID      string   `query:"teacher_id"`
	ClassRoomID    string   `query:"classroom_id"`
	SubjectID      string   `query:"subject_id"`
	AcademicYearID string   `query:"academic_year_id"`
	IDs            []string `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type EnrollmentFilter struct {
	StudentID      string   `query:"student_id"`
	ClassRoomID    string   `query:"classroom_id"`
	AcademicYearID string   `query:"academic_year_id"`
	IsActive       *bool    `query:"is_active"`
	IDs            []string `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type SlotFilter struct {
	ClassRoomID string   `query:"classroom_id"`
	TeacherID   string   `query:"teacher_id"`
	SubjectID   string   `query:"subject_id"`
	Weekday     int      `query:"weekday"`
	IDs         []string `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type GradeFilter struct {
	StudentID   string    `query:"student_id"`
	SubjectID   string    `query:"subject_id"`
	ClassRoomID string    `query:"classroom_id"`
	PeriodID    string    `query:"period_id"`
	Type        string    `query:"type"`
	DateFrom    core.Date `query:"date_from"`
	DateTo      core.Date `query:"date_to"` // inclusive
	IDs         []string  `query:"-"`

	Scope rbac.Scope `query:"-"`
}
