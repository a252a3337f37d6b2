package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestCheckPassword(t *testing.T) {
	LoadCommonPasswords(nopLogger{})

	tests := []struct {
		name  string
		pwd   string
		attrs []string
		want  string
	}{
		{name: "too short", pwd: "Ab1!", want: pwdMinLenTag},
		{name: "whitespace", pwd: "Abcd 1234!", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", want: pwdNotAllNumTag},
		{name: "no upper", pwd: "abcd1234!", want: pwdComplexityTag},
		{name: "no special", pwd: "Abcd12345", want: pwdComplexityTag},
		{name: "similar to email", pwd: "Jane.Doe@test1", attrs: []string{"Jane", "Doe", "jane.doe@test.cd"}, want: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd", want: pwdNoCommonTag},
		{name: "valid", pwd: "Sup3r$ecret!", attrs: []string{"Jane", "Doe", "jane@test.cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkPassword(tt.pwd, tt.attrs...))
		})
	}
}

func TestRolePriority(t *testing.T) {
	assert.Greater(t, RolePriority(RoleSuperAdmin), RolePriority(RoleAdmin))
	assert.Greater(t, RolePriority(RoleAdmin), RolePriority(RoleFinance))
	assert.Greater(t, RolePriority(RoleTeacher), RolePriority(RoleParent))
	assert.Greater(t, RolePriority(RoleParent), RolePriority(RoleStudent))
	assert.Zero(t, RolePriority("LOL"))
}
