package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core/user"
)

func TestPrincipal_Scope(t *testing.T) {
	teacher := Principal{UserID: "u1", Role: user.RoleTeacher, TeacherID: "t1"}
	student := Principal{UserID: "u2", Role: user.RoleStudent, StudentID: "s1"}
	parent := Principal{UserID: "u3", Role: user.RoleParent, ParentID: "p1", ChildIDs: []string{"s1", "s2"}}
	admin := Principal{UserID: "u4", Role: user.RoleAdmin}
	superAdmin := Principal{UserID: "u5", Role: user.RoleSuperAdmin}
	finance := Principal{UserID: "u6", Role: user.RoleFinance}
	orphanTeacher := Principal{UserID: "u7", Role: user.RoleTeacher}
	childlessParent := Principal{UserID: "u8", Role: user.RoleParent, ParentID: "p2"}
	unknown := Principal{UserID: "u9", Role: "LOL"}

	tests := []struct {
		name string
		p    Principal
		res  Resource
		want Scope
	}{
		// grades
		{name: "teacher grades", p: teacher, res: Grades, want: TeacherScope("t1")},
		{name: "student grades", p: student, res: Grades, want: StudentsScope("s1")},
		{name: "parent grades", p: parent, res: Grades, want: StudentsScope("s1", "s2")},
		{name: "admin grades", p: admin, res: Grades, want: All()},
		{name: "super admin grades", p: superAdmin, res: Grades, want: All()},
		{name: "finance grades", p: finance, res: Grades, want: None()},
		{name: "unknown role grades", p: unknown, res: Grades, want: None()},

		// people
		{name: "teacher students", p: teacher, res: Students, want: TeacherScope("t1")},
		{name: "student students", p: student, res: Students, want: StudentsScope("s1")},
		{name: "parent students", p: parent, res: Students, want: StudentsScope("s1", "s2")},
		{name: "finance students", p: finance, res: Students, want: All()},
		{name: "parent parents", p: parent, res: Parents, want: ParentScope("p1")},
		{name: "student parents", p: student, res: Parents, want: StudentsScope("s1")},
		{name: "teacher parents", p: teacher, res: Parents, want: TeacherScope("t1")},
		{name: "teacher teachers", p: teacher, res: Teachers, want: TeacherScope("t1")},
		{name: "parent teachers", p: parent, res: Teachers, want: StudentsScope("s1", "s2")},

		// finance
		{name: "teacher invoices", p: teacher, res: Invoices, want: None()},
		{name: "student invoices", p: student, res: Invoices, want: StudentsScope("s1")},
		{name: "parent payments", p: parent, res: Payments, want: StudentsScope("s1", "s2")},
		{name: "finance invoices", p: finance, res: Invoices, want: All()},
		{name: "finance expenses", p: finance, res: Expenses, want: All()},
		{name: "teacher expenses", p: teacher, res: Expenses, want: None()},
		{name: "parent expenses", p: parent, res: Expenses, want: None()},

		// activity
		{name: "admin activity", p: admin, res: ActivityLogs, want: All()},
		{name: "finance activity", p: finance, res: ActivityLogs, want: None()},
		{name: "teacher activity", p: teacher, res: ActivityLogs, want: None()},

		// missing profiles
		{name: "teacher without profile", p: orphanTeacher, res: Sessions, want: None()},
		{name: "parent without children", p: childlessParent, res: Attendance, want: StudentsScope()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Scope(tt.res))
		})
	}
}

func TestScope_Empty(t *testing.T) {
	assert.True(t, None().Empty())
	assert.True(t, StudentsScope().Empty())
	assert.False(t, StudentsScope("s1").Empty())
	assert.False(t, All().Empty())
	assert.False(t, TeacherScope("t1").Empty())
	assert.True(t, TeacherScope("").Empty())
}

func TestScope_CanSeeStudent(t *testing.T) {
	assert.True(t, All().CanSeeStudent("s1"))
	assert.True(t, StudentsScope("s1", "s2").CanSeeStudent("s2"))
	assert.False(t, StudentsScope("s1").CanSeeStudent("s2"))
	assert.False(t, None().CanSeeStudent("s1"))
	assert.False(t, TeacherScope("t1").CanSeeStudent("s1"))
}

func TestAllows(t *testing.T) {
	tests := []struct {
		role  string
		group []string
		want  bool
	}{
		{role: user.RoleTeacher, group: TeacherAccess, want: true},
		{role: user.RoleStudent, group: TeacherAccess, want: false},
		{role: user.RoleFinance, group: TeacherAccess, want: false},
		{role: user.RoleFinance, group: StaffAccess, want: true},
		{role: user.RoleParent, group: StaffAccess, want: false},
		{role: user.RoleAdmin, group: ParentAccess, want: true},
		{role: user.RoleFinance, group: FinanceAccess, want: true},
		{role: user.RoleTeacher, group: AdminAccess, want: false},
		{role: user.RoleSuperAdmin, group: []string{user.RoleStudent}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, Allows(tt.role, tt.group))
		})
	}
}

type finderFunc func(ctx context.Context, userID string) (Profiles, error)

func (f finderFunc) FindProfiles(ctx context.Context, userID string) (Profiles, error) {
	return f(ctx, userID)
}

func TestResolver_Resolve(t *testing.T) {
	var calls int
	finder := finderFunc(func(_ context.Context, userID string) (Profiles, error) {
		calls++
		switch userID {
		case "broken":
			return Profiles{}, errors.New("boom")
		case "multi":
			// a user holding several profiles only gets the one matching their role
			return Profiles{StudentID: "s9", ParentID: "p9", TeacherID: "t9", ChildIDs: []string{"s1"}}, nil
		}
		return Profiles{}, nil
	})
	r := NewResolver(finder)
	ctx := context.Background()

	p, err := r.Resolve(ctx, "multi", user.RoleParent)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "multi", Role: user.RoleParent, ParentID: "p9", ChildIDs: []string{"s1"}}, p)

	p, err = r.Resolve(ctx, "multi", user.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "multi", Role: user.RoleTeacher, TeacherID: "t9"}, p)

	_, err = r.Resolve(ctx, "broken", user.RoleStudent)
	assert.Error(t, err)

	calls = 0
	p, err = r.Resolve(ctx, "admin", user.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "admin", Role: user.RoleAdmin}, p)
	assert.Zero(t, calls, "admins do not need a profile lookup")
}
