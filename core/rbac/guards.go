package rbac

import (
	"github.com/eschool-app/eschool/core/user"
)

// Role groups guarding the API routes.
var (
	TeacherAccess = []string{user.RoleTeacher, user.RoleAdmin, user.RoleSuperAdmin}
	StudentAccess = []string{user.RoleStudent, user.RoleAdmin, user.RoleSuperAdmin}
	ParentAccess  = []string{user.RoleParent, user.RoleAdmin, user.RoleSuperAdmin}
	AdminAccess   = []string{user.RoleAdmin, user.RoleSuperAdmin}
	FinanceAccess = []string{user.RoleFinance, user.RoleAdmin, user.RoleSuperAdmin}
	StaffAccess   = []string{user.RoleTeacher, user.RoleAdmin, user.RoleSuperAdmin, user.RoleFinance}
)

// Allows reports whether role belongs to group. SUPER_ADMIN is always allowed.
func Allows(role string, group []string) bool {
	if role == user.RoleSuperAdmin {
		return true
	}
	for _, r := range group {
		if r == role {
			return true
		}
	}
	return false
}
