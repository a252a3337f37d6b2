package sqlxrepos

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/eschool-app/eschool/core/rbac"
)

const (
	// classrooms a teacher is assigned to; one arg: teacher ID
	teacherClassRoomsQuery = "SELECT classroom_id FROM teacher_assignment WHERE teacher_id = ?"

	// students actively enrolled in the classrooms of a teacher; one arg: teacher ID
	teacherStudentsQuery = "SELECT e.student_id FROM enrollment e" +
		" JOIN teacher_assignment ta ON ta.classroom_id = e.classroom_id" +
		" WHERE ta.teacher_id = ? AND e.is_active AND e.withdrawal_date IS NULL"

	// classrooms the students are actively enrolled in; one arg: student IDs array
	studentsClassRoomsQuery = "SELECT classroom_id FROM enrollment" +
		" WHERE student_id = ANY(?) AND is_active AND withdrawal_date IS NULL"
)

var matchNothing = sq.Expr("FALSE")

func inTeacherClassRooms(col, teacherID string) sq.Sqlizer {
	return sq.Expr(col+" IN ("+teacherClassRoomsQuery+")", teacherID)
}

func inTeacherStudents(col, teacherID string) sq.Sqlizer {
	return sq.Expr(col+" IN ("+teacherStudentsQuery+")", teacherID)
}

func inStudentsClassRooms(col string, studentIDs []string) sq.Sqlizer {
	return sq.Expr(col+" IN ("+studentsClassRoomsQuery+")", pq.Array(studentIDs))
}

type (
	teacherPredicate  func(teacherID string) sq.Sqlizer
	studentsPredicate func(studentIDs []string) sq.Sqlizer
)

// scoped narrows a query to the rows a scope may see. A nil predicate matches nothing.
func scoped(qb sq.SelectBuilder, s rbac.Scope, teacher teacherPredicate, students studentsPredicate) sq.SelectBuilder {
	switch {
	case s.Kind == rbac.ScopeAll:
		return qb
	case s.Empty():
		return qb.Where(matchNothing)
	case s.Kind == rbac.ScopeTeacher && teacher != nil:
		return qb.Where(teacher(s.TeacherID))
	case s.Kind == rbac.ScopeStudents && students != nil:
		return qb.Where(students(s.StudentIDs))
	}
	return qb.Where(matchNothing)
}

// byStudent: rows of the teacher's students, or of the listed students.
func byStudent(qb sq.SelectBuilder, s rbac.Scope, studentCol string) sq.SelectBuilder {
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return inTeacherStudents(studentCol, teacherID) },
		func(ids []string) sq.Sqlizer { return anyOf(studentCol, ids) })
}

// byTeacher: rows owned by the teacher, or taught in the listed students' classrooms.
func byTeacher(qb sq.SelectBuilder, s rbac.Scope, teacherCol, classroomCol string) sq.SelectBuilder {
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return sq.Eq{teacherCol: teacherID} },
		func(ids []string) sq.Sqlizer { return inStudentsClassRooms(classroomCol, ids) })
}

func scopeStudents(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	return byStudent(qb, s, "s.id")
}

func scopeParents(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	if s.Kind == rbac.ScopeParent {
		return qb.Where(sq.Eq{"p.id": s.ParentID})
	}
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer {
			return sq.Expr("p.id IN (SELECT parent_id FROM student_parent WHERE student_id IN ("+teacherStudentsQuery+"))", teacherID)
		},
		func(ids []string) sq.Sqlizer {
			return sq.Expr("p.id IN (SELECT parent_id FROM student_parent WHERE student_id = ANY(?))", pq.Array(ids))
		})
}

func scopeTeachers(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return sq.Eq{"t.id": teacherID} },
		func(ids []string) sq.Sqlizer {
			return sq.Expr("t.id IN (SELECT teacher_id FROM teacher_assignment WHERE classroom_id IN ("+studentsClassRoomsQuery+"))", pq.Array(ids))
		})
}

func scopeClassRooms(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return inTeacherClassRooms("c.id", teacherID) },
		func(ids []string) sq.Sqlizer { return inStudentsClassRooms("c.id", ids) })
}

// withdrawn enrollments are only visible to admins
func scopeEnrollments(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	if s.Kind == rbac.ScopeTeacher || s.Kind == rbac.ScopeStudents {
		qb = qb.Where("e.withdrawal_date IS NULL")
	}
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return inTeacherClassRooms("e.classroom_id", teacherID) },
		func(ids []string) sq.Sqlizer { return anyOf("e.student_id", ids) })
}

func scopeGrades(qb sq.SelectBuilder, s rbac.Scope) sq.SelectBuilder {
	return scoped(qb, s,
		func(teacherID string) sq.Sqlizer { return sq.Eq{"g.teacher_id": teacherID} },
		func(ids []string) sq.Sqlizer { return anyOf("g.student_id", ids) })
}

// students and parents only see invoices; teachers nothing
func scopeInvoices(qb sq.SelectBuilder, s rbac.Scope, studentCol string) sq.SelectBuilder {
	return scoped(qb, s, nil, func(ids []string) sq.Sqlizer { return anyOf(studentCol, ids) })
}
