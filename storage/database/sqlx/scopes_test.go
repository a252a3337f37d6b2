package sqlxrepos

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

func TestScopeStudents(t *testing.T) {
	qb := psql.Select("s.id").From("student s")

	tests := []struct {
		name     string
		scope    rbac.Scope
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "all",
			scope:   rbac.All(),
			wantSQL: "SELECT s.id FROM student s",
		},
		{
			name:    "none",
			scope:   rbac.None(),
			wantSQL: "SELECT s.id FROM student s WHERE FALSE",
		},
		{
			name:    "no students",
			scope:   rbac.StudentsScope(),
			wantSQL: "SELECT s.id FROM student s WHERE FALSE",
		},
		{
			name:     "students",
			scope:    rbac.StudentsScope("s1", "s2"),
			wantSQL:  "SELECT s.id FROM student s WHERE s.id = ANY($1)",
			wantArgs: []interface{}{pq.Array([]string{"s1", "s2"})},
		},
		{
			name:  "teacher",
			scope: rbac.TeacherScope("t1"),
			wantSQL: "SELECT s.id FROM student s WHERE s.id IN (SELECT e.student_id FROM enrollment e" +
				" JOIN teacher_assignment ta ON ta.classroom_id = e.classroom_id" +
				" WHERE ta.teacher_id = $1 AND e.is_active AND e.withdrawal_date IS NULL)",
			wantArgs: []interface{}{"t1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, args, err := scopeStudents(qb, tc.scope).ToSql()
			require.Nil(t, err)
			assert.Equal(t, tc.wantSQL, query)
			if tc.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.wantArgs, args)
			}
		})
	}
}

func TestScopeParents(t *testing.T) {
	qb := psql.Select("p.id").From("parent p")

	query, args, err := scopeParents(qb, rbac.ParentScope("p1")).ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT p.id FROM parent p WHERE p.id = $1", query)
	assert.Equal(t, []interface{}{"p1"}, args)

	query, _, err = scopeParents(qb, rbac.StudentsScope("s1")).ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT p.id FROM parent p WHERE p.id IN (SELECT parent_id FROM student_parent WHERE student_id = ANY($1))", query)
}

func TestScopeEnrollments(t *testing.T) {
	qb := psql.Select("e.id").From("enrollment e")

	query, args, err := scopeEnrollments(qb, rbac.TeacherScope("t1")).ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT e.id FROM enrollment e WHERE e.withdrawal_date IS NULL"+
		" AND e.classroom_id IN (SELECT classroom_id FROM teacher_assignment WHERE teacher_id = $1)", query)
	assert.Equal(t, []interface{}{"t1"}, args)

	// admins see withdrawn enrollments too
	query, _, err = scopeEnrollments(qb, rbac.All()).ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT e.id FROM enrollment e", query)
}

func TestScopeInvoices(t *testing.T) {
	qb := psql.Select("i.id").From("invoice i")

	query, _, err := scopeInvoices(qb, rbac.TeacherScope("t1"), "i.student_id").ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT i.id FROM invoice i WHERE FALSE", query)

	query, _, err = scopeInvoices(qb, rbac.StudentsScope("s1"), "i.student_id").ToSql()
	require.Nil(t, err)
	assert.Equal(t, "SELECT i.id FROM invoice i WHERE i.student_id = ANY($1)", query)
}

func TestOrderBy(t *testing.T) {
	allowed := map[string]string{"last_name": "u.last_name", "created_at": "s.created_at"}

	tests := []struct {
		name     string
		ordering []core.DBOrdering
		want     []string
	}{
		{"fallback only", nil, []string{"s.created_at DESC"}},
		{"camel case", []core.DBOrdering{{Field: "lastName", Ascending: true}}, []string{"u.last_name ASC", "s.created_at DESC"}},
		{"snake case", []core.DBOrdering{{Field: "last_name", Ascending: false}}, []string{"u.last_name DESC", "s.created_at DESC"}},
		{"several", []core.DBOrdering{{Field: "createdAt"}, {Field: "last_name", Ascending: true}}, []string{"s.created_at DESC", "u.last_name ASC", "s.created_at DESC"}},
		{"unknown ignored", []core.DBOrdering{{Field: "password", Ascending: true}}, []string{"s.created_at DESC"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, orderBy(tc.ordering, allowed, "s.created_at DESC"))
		})
	}
}
