package school

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

// Parent relationships
const (
	RelationshipFather   = "FATHER"
	RelationshipMother   = "MOTHER"
	RelationshipGuardian = "GUARDIAN"
	RelationshipOther    = "OTHER"
)

var Relationships = []string{RelationshipFather, RelationshipMother, RelationshipGuardian, RelationshipOther}

// Person holds the account fields shown alongside every profile.
type Person struct {
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Email     string `json:"email" db:"email"`
	Phone     string `json:"phone" db:"phone"`
}

func (p Person) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type Student struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	Matricule      string      `json:"matricule" db:"matricule"`
	DateOfBirth    core.Date   `json:"date_of_birth" db:"date_of_birth"`
	EnrollmentDate core.Date   `json:"enrollment_date" db:"enrollment_date"`
	CurrentClassID null.String `json:"current_class_id" db:"current_class_id"`
	IsGraduated    bool        `json:"is_graduated" db:"is_graduated"`
	GraduationDate core.Date   `json:"graduation_date" db:"graduation_date"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	ParentIDs      []string    `json:"parent_ids" db:"-"`
	Person
}

type Parent struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Profession   string    `json:"profession" db:"profession"`
	Workplace    string    `json:"workplace" db:"workplace"`
	Relationship string    `json:"relationship" db:"relationship"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ChildIDs     []string  `json:"child_ids" db:"-"`
	Person
}

type Teacher struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	EmployeeID       string    `json:"employee_id" db:"employee_id"`
	HireDate         core.Date `json:"hire_date" db:"hire_date"`
	Specialization   string    `json:"specialization" db:"specialization"`
	IsHeadTeacher    bool      `json:"is_head_teacher" db:"is_head_teacher"`
	IsActiveEmployee bool      `json:"is_active_employee" db:"is_active_employee"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	Person
}

type NewStudent struct {
	UserID         string    `json:"user_id" validate:"required,uuid"`
	DateOfBirth    core.Date `json:"date_of_birth"`
	EnrollmentDate core.Date `json:"enrollment_date"`
	ParentIDs      []string  `json:"parent_ids" validate:"omitempty,dive,uuid"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	if err := validate.Struct(ns); err != nil {
		return err
	}
	if !ns.DateOfBirth.IsZero() && !ns.EnrollmentDate.IsZero() && !ns.DateOfBirth.Before(ns.EnrollmentDate) {
		return core.NewFieldError("date_of_birth", "date of birth must be before the enrollment date")
	}
	return nil
}

type NewParent struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	Profession   string `json:"profession" validate:"omitempty,max=100"`
	Workplace    string `json:"workplace" validate:"omitempty,max=200"`
	Relationship string `json:"relationship" validate:"omitempty,oneof=FATHER MOTHER GUARDIAN OTHER"`
}

func (np *NewParent) Validate(validate *validator.Validate) error {
	np.Profession = core.CleanString(np.Profession)
	np.Workplace = core.CleanString(np.Workplace)
	if np.Relationship == "" {
		np.Relationship = RelationshipGuardian
	}
	return validate.Struct(np)
}

type NewTeacher struct {
	UserID         string    `json:"user_id" validate:"required,uuid"`
	HireDate       core.Date `json:"hire_date"`
	Specialization string    `json:"specialization" validate:"omitempty,max=100"`
	IsHeadTeacher  bool      `json:"is_head_teacher"`
}

func (nt *NewTeacher) Validate(validate *validator.Validate) error {
	nt.Specialization = core.CleanString(nt.Specialization)
	return validate.Struct(nt)
}

type StudentFilter struct {
	Search      string   `query:"search"`
	ClassRoomID string   `query:"classroom_id"`
	IsGraduated *bool    `query:"is_graduated"`
	ParentID    string   `query:"parent_id"`
	IDs         []string `query:"-"`
	UserID      string   `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type ParentFilter struct {
	Search    string   `query:"search"`
	StudentID string   `query:"student_id"`
	IDs       []string `query:"-"`
	UserID    string   `query:"-"`

	Scope rbac.Scope `query:"-"`
}

type TeacherFilter struct {
	Search           string   `query:"search"`
	IsActiveEmployee *bool    `query:"is_active_employee"`
	IDs              []string `query:"-"`
	UserID           string   `query:"-"`

	Scope rbac.Scope `query:"-"`
}
