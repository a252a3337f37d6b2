// Package rbac decides which rows of each resource a user may see.
//
// Every list and detail query of the domain services is narrowed by the Scope
// returned by Principal.Scope; repositories translate a Scope into a query predicate.
package rbac

import (
	"github.com/eschool-app/eschool/core/user"
)

type Resource string

const (
	Students     Resource = "students"
	Parents      Resource = "parents"
	Teachers     Resource = "teachers"
	ClassRooms   Resource = "classrooms"
	Enrollments  Resource = "enrollments"
	Grades       Resource = "grades"
	Timetable    Resource = "timetable"
	Sessions     Resource = "sessions"
	Attendance   Resource = "attendance"
	Invoices     Resource = "invoices"
	Payments     Resource = "payments"
	Expenses     Resource = "expenses"
	ActivityLogs Resource = "activity_logs"
)

type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	// ScopeTeacher: rows reachable through the teacher's assignments or owned by the teacher.
	ScopeTeacher
	// ScopeStudents: rows owned by, or reachable through, the listed students.
	ScopeStudents
	// ScopeParent: the parent's own profile.
	ScopeParent
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeAll:
		return "all"
	case ScopeTeacher:
		return "teacher"
	case ScopeStudents:
		return "students"
	case ScopeParent:
		return "parent"
	default:
		return "none"
	}
}

type Scope struct {
	Kind       ScopeKind
	TeacherID  string
	StudentIDs []string
	ParentID   string
}

func None() Scope { return Scope{Kind: ScopeNone} }
func All() Scope  { return Scope{Kind: ScopeAll} }

func TeacherScope(teacherID string) Scope {
	if teacherID == "" {
		return None()
	}
	return Scope{Kind: ScopeTeacher, TeacherID: teacherID}
}

// StudentsScope matches no rows when ids is empty.
func StudentsScope(ids ...string) Scope {
	return Scope{Kind: ScopeStudents, StudentIDs: ids}
}

func ParentScope(parentID string) Scope {
	if parentID == "" {
		return None()
	}
	return Scope{Kind: ScopeParent, ParentID: parentID}
}

// Empty reports whether the scope cannot match any row.
func (s Scope) Empty() bool {
	switch s.Kind {
	case ScopeNone:
		return true
	case ScopeStudents:
		return len(s.StudentIDs) == 0
	default:
		return false
	}
}

// HasStudent reports whether a ScopeStudents scope lists the student.
func (s Scope) HasStudent(studentID string) bool {
	for _, id := range s.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// Principal is the requesting user with the profile IDs the visibility rules depend on.
type Principal struct {
	UserID    string
	Role      string
	StudentID string
	ParentID  string
	TeacherID string
	ChildIDs  []string // student IDs of a parent's children
}

func (p Principal) IsAdmin() bool {
	return p.Role == user.RoleAdmin || p.Role == user.RoleSuperAdmin
}

func (p Principal) IsFinance() bool {
	return p.Role == user.RoleFinance
}

func (p Principal) self() Scope {
	if p.StudentID == "" {
		return None()
	}
	return StudentsScope(p.StudentID)
}

func (p Principal) children() Scope {
	if p.ParentID == "" {
		return None()
	}
	return StudentsScope(p.ChildIDs...)
}

// Scope returns the rows of res the principal may see.
func (p Principal) Scope(res Resource) Scope {
	if p.IsAdmin() {
		return All()
	}

	switch res {
	case Invoices, Payments, Expenses:
		if p.IsFinance() {
			return All()
		}
		if res == Expenses {
			return None()
		}
	case Students:
		if p.IsFinance() {
			return All()
		}
	case ActivityLogs:
		return None()
	}

	switch p.Role {
	case user.RoleTeacher:
		switch res {
		case Invoices, Payments:
			return None()
		default:
			return TeacherScope(p.TeacherID)
		}
	case user.RoleStudent:
		return p.self()
	case user.RoleParent:
		if res == Parents {
			return ParentScope(p.ParentID)
		}
		return p.children()
	}
	return None()
}

// CanSeeStudent reports whether a ScopeAll or ScopeStudents scope includes the student.
// ScopeTeacher needs a roster lookup and is not resolved here.
func (s Scope) CanSeeStudent(studentID string) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeStudents:
		return s.HasStudent(studentID)
	default:
		return false
	}
}
