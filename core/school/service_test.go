package school_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/school"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var admin = rbac.Principal{UserID: "admin", Role: user.RoleAdmin}

func TestService_CreateStudent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	year := time.Now().Year()

	parent := env.CreateParent(t, "Kofi", "Mensah")
	s1 := env.CreateStudent(t, "Ama", "Mensah", parent.ID)
	s2 := env.CreateStudent(t, "Kwame", "Mensah")

	assert.Equal(t, fmt.Sprintf("STU%d0001", year), s1.Matricule)
	assert.Equal(t, fmt.Sprintf("STU%d0002", year), s2.Matricule)
	assert.Equal(t, "Ama Mensah", s1.FullName())
	assert.Equal(t, []string{parent.ID}, s1.ParentIDs)

	teacher := env.CreateTeacher(t, "Ada", "Lovelace")
	assert.Equal(t, fmt.Sprintf("TEA%d0001", year), teacher.EmployeeID)
	assert.True(t, teacher.IsActiveEmployee)

	tests := []struct {
		name    string
		userID  string
		wantMsg string
	}{
		{"wrong role", env.CreateUser(t, user.RoleTeacher, "Not", "Student").ID, school.ErrWrongRole.Error()},
		{"profile exists", s1.UserID, school.ErrProfileExists.Error()},
		{"unknown user", "00000000-0000-0000-0000-000000000000", user.ErrNotFound.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.School.CreateStudent(ctx, school.NewStudent{UserID: tt.userID})
			verr, ok := errors.Cause(err).(*core.ValidationError)
			require.True(t, ok, err)
			assert.Equal(t, "user_id", verr.Fields[0].Field)
			assert.Contains(t, verr.Fields[0].Error, tt.wantMsg)
		})
	}
}

func TestService_parents(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	parent := env.CreateParent(t, "Kofi", "Mensah")
	child := env.CreateStudent(t, "Ama", "Mensah")
	other := env.CreateStudent(t, "Yaw", "Boateng")

	require.NoError(t, env.School.LinkParent(ctx, child.ID, parent.ID))
	parents, err := env.School.ParentsOf(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent.ID, parents[0].ID)
	assert.Equal(t, parent.Email, parents[0].Email)

	p := env.Principal(t, env.UserOf(t, parent.UserID))
	assert.Equal(t, []string{child.ID}, p.ChildIDs)

	t.Run("parents see their children", func(t *testing.T) {
		students, err := env.School.QueryStudents(ctx, p, school.StudentFilter{}, nil)
		require.NoError(t, err)
		require.Len(t, students, 1)
		assert.Equal(t, child.ID, students[0].ID)

		_, err = env.School.GetStudent(ctx, p, other.ID)
		assert.Equal(t, school.ErrStudentNotFound, err)
	})

	t.Run("parents see their own profile", func(t *testing.T) {
		someone := env.CreateParent(t, "Esi", "Boateng")
		found, err := env.School.QueryParents(ctx, p, school.ParentFilter{}, nil)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, parent.ID, found[0].ID)

		_, err = env.School.GetParent(ctx, p, someone.ID)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("unlink", func(t *testing.T) {
		require.NoError(t, env.School.UnlinkParent(ctx, child.ID, parent.ID))
		p := env.Principal(t, env.UserOf(t, parent.UserID))
		students, err := env.School.QueryStudents(ctx, p, school.StudentFilter{}, nil)
		require.NoError(t, err)
		assert.Empty(t, students)
	})

	t.Run("link to unknown parent", func(t *testing.T) {
		err := env.School.LinkParent(ctx, child.ID, "00000000-0000-0000-0000-000000000000")
		assert.Equal(t, school.ErrParentNotFound, err)
	})
}

func TestService_visibility(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	class := env.CreateClass(t, 2)
	outsider := env.CreateStudent(t, "Yaw", "Boateng")

	tests := []struct {
		name string
		p    rbac.Principal
		want []string
	}{
		{"admin", admin, []string{class.Students[0].ID, class.Students[1].ID, outsider.ID}},
		{"finance", rbac.Principal{UserID: "fin", Role: user.RoleFinance}, []string{class.Students[0].ID, class.Students[1].ID, outsider.ID}},
		{"teacher", env.Principal(t, env.UserOf(t, class.Teacher.UserID)), []string{class.Students[0].ID, class.Students[1].ID}},
		{"student", env.Principal(t, env.UserOf(t, outsider.UserID)), []string{outsider.ID}},
		{"teacher without profile", rbac.Principal{UserID: "t", Role: user.RoleTeacher}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			students, err := env.School.QueryStudents(ctx, tt.p, school.StudentFilter{}, nil)
			require.NoError(t, err)
			ids := make([]string, 0, len(students))
			for _, s := range students {
				ids = append(ids, s.ID)
			}
			if tt.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestService_Graduate(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	class := env.CreateClass(t, 1)
	s, err := env.School.Graduate(ctx, class.Students[0].ID, core.MustParseDate("2024-07-01"))
	require.NoError(t, err)
	assert.True(t, s.IsGraduated)
	assert.Equal(t, "2024-07-01", s.GraduationDate.String())
	assert.False(t, s.CurrentClassID.Valid)

	isGraduated := true
	graduates, err := env.School.QueryStudents(ctx, admin, school.StudentFilter{IsGraduated: &isGraduated}, nil)
	require.NoError(t, err)
	assert.Len(t, graduates, 1)
}
