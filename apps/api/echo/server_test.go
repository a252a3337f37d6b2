package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core/attendance"
	"github.com/eschool-app/eschool/core/finance"
	"github.com/eschool-app/eschool/core/user"
	"github.com/eschool-app/eschool/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func setup(t *testing.T) (*testutil.Env, *Server) {
	t.Helper()
	env := testutil.NewEnv(t)
	srv := NewServer(ServerDeps{
		Conf:             env.Conf,
		Logger:           env.Logger,
		Validate:         env.Validate,
		Translator:       env.Translator,
		DisableReqLogs:   true,
		UserSvc:          env.User,
		SchoolSvc:        env.School,
		AcademicSvc:      env.Academic,
		AttendanceSvc:    env.Attendance,
		FinanceSvc:       env.Finance,
		CommunicationSvc: env.Communication,
		Recorder:         env.Recorder,
	})
	return env, srv
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func getToken(t *testing.T, env *testutil.Env, usr user.User) string {
	t.Helper()
	a := newAuthenticator(env.Conf, env.User)
	token, err := a.token(a.claims(usr))
	require.NoError(t, err)
	return token
}

func marshal(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	require.NoError(t, err)
	assert.True(t, ok, "data = %s; wantData %s", rec.Body.String(), tt.wantData)
}

func runHTTPTests(t *testing.T, srv *Server, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func TestServer_home(t *testing.T) {
	env, srv := setup(t)
	req, rec := newAuthRequest(http.MethodGet, "/", "")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the "+env.Conf.AppName+" API!", rec.Body.String())
}

func TestServer_unknownRoutes(t *testing.T) {
	env, srv := setup(t)
	token := getToken(t, env, env.CreateUser(t, user.RoleAdmin, "Ad", "Min"))
	notFound := marshal(t, httpErr{Error: "Not Found"})

	runHTTPTests(t, srv, []httpTest{
		{name: "anonymous", path: "/v1/lol", wantCode: http.StatusNotFound, wantData: notFound},
		{name: "authenticated", path: "/v1/lol", token: token, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "outside v1", path: "/lol", wantCode: http.StatusNotFound, wantData: notFound},
	})
}

func Test_userApi_login(t *testing.T) {
	env, srv := setup(t)
	ctx := context.Background()

	usr := env.CreateUser(t, user.RoleTeacher, "Ada", "Lovelace")
	gone := env.CreateUser(t, user.RoleParent, "Gone", "Parent")
	isActive := false
	_, err := env.User.Update(ctx, gone.ID, user.UpdateUser{
		FirstName: gone.FirstName,
		LastName:  gone.LastName,
		Email:     gone.Email,
		Role:      gone.Role,
		IsActive:  &isActive,
	})
	require.NoError(t, err)

	login := func(email, pwd string) []byte {
		return marshal(t, LoginRequest{Email: email, Password: pwd})
	}
	runHTTPTests(t, srv, []httpTest{
		{
			name: "wrong password", method: http.MethodPost, path: "/v1/users/login", body: login(usr.Email, "nope"),
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "unknown email", method: http.MethodPost, path: "/v1/users/login", body: login("ghost@test.eschool", testutil.Password),
			wantCode: http.StatusBadRequest, wantData: marshal(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/login", body: login(gone.Email, testutil.Password),
			wantCode: http.StatusForbidden, wantData: marshal(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "missing password", method: http.MethodPost, path: "/v1/users/login", body: []byte(`{"email":"` + usr.Email + `"}`),
			wantCode: http.StatusBadRequest,
		},
	})

	t.Run("success", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/login", "", login(usr.Email, testutil.Password))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)

		req, rec = newAuthRequest(http.MethodGet, "/v1/users/me/profile", resp.Token)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var profile ProfileResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
		assert.Equal(t, usr.ID, profile.User.ID)
	})
}

func Test_userApi_refreshToken(t *testing.T) {
	env, srv := setup(t)
	ctx := context.Background()
	a := newAuthenticator(env.Conf, env.User)

	usr := env.CreateUser(t, user.RoleTeacher, "Ada", "Lovelace")
	sign := func(usr user.User, origIat int64) string {
		token, err := a.token(a.claims(usr, origIat))
		require.NoError(t, err)
		return token
	}

	t.Run("within the refresh window", func(t *testing.T) {
		origIat := time.Now().Add(-time.Hour).Unix()
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", sign(usr, origIat))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims := new(Claims)
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) { return a.key, nil })
		require.NoError(t, err)
		assert.Equal(t, usr.ID, claims.Subject)
		assert.Equal(t, origIat, claims.OrigIssuedAt, "the original issue time is carried over")
	})

	gone := env.CreateUser(t, user.RoleParent, "Gone", "Parent")
	goneToken := sign(gone, time.Now().Unix())
	isActive := false
	_, err := env.User.Update(ctx, gone.ID, user.UpdateUser{
		FirstName: gone.FirstName,
		LastName:  gone.LastName,
		Email:     gone.Email,
		Role:      gone.Role,
		IsActive:  &isActive,
	})
	require.NoError(t, err)

	expired := time.Now().Add(-env.Conf.Server.JWTRefreshExpirationDelta - time.Hour).Unix()
	runHTTPTests(t, srv, []httpTest{
		{
			name: "refresh window has passed", method: http.MethodPost, path: "/v1/users/token-refresh", token: sign(usr, expired),
			wantCode: http.StatusForbidden, wantData: marshal(t, httpErr{Error: "refresh has expired"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/v1/users/token-refresh", token: goneToken,
			wantCode: http.StatusForbidden, wantData: marshal(t, httpErr{Error: "account deactivated"}),
		},
		{name: "anonymous", method: http.MethodPost, path: "/v1/users/token-refresh", wantCode: http.StatusUnauthorized},
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	env, srv := setup(t)

	usr := env.CreateUser(t, user.RoleTeacher, "Ada", "Lovelace")
	requestReset := func(email string) []byte {
		return marshal(t, PasswordResetRequest{Email: email})
	}

	t.Run("unknown emails look the same", func(t *testing.T) {
		env.Mail.Reset()
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/password-reset", "", requestReset("ghost@test.eschool"))
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Empty(t, env.Mail.Messages())
	})

	env.Mail.Reset()
	req, rec := newAuthRequest(http.MethodPost, "/v1/users/password-reset", "", requestReset(usr.Email))
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	messages := env.Mail.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "password_reset", messages[0].TemplateName)
	data, ok := messages[0].TemplateData.(map[string]string)
	require.True(t, ok)

	confirm := func(uid, token string) []byte {
		return marshal(t, user.ResetUserPassword{Token: token, UID: uid, Password: "N3w-Pa55word!", PasswordConfirm: "N3w-Pa55word!"})
	}
	runHTTPTests(t, srv, []httpTest{
		{
			name: "tampered token", method: http.MethodPost, path: "/v1/users/password-reset-confirm", body: confirm(data["UID"], data["Token"]+"x"),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"token":"invalid token"}`),
		},
		{
			name: "unknown uid", method: http.MethodPost, path: "/v1/users/password-reset-confirm", body: confirm("bm9ib2R5", data["Token"]),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"token":"invalid token"}`),
		},
		{
			name: "confirm", method: http.MethodPost, path: "/v1/users/password-reset-confirm", body: confirm(data["UID"], data["Token"]),
			wantCode: http.StatusOK,
		},
		{
			name: "token is single use", method: http.MethodPost, path: "/v1/users/password-reset-confirm", body: confirm(data["UID"], data["Token"]),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"token":"invalid token"}`),
		},
	})

	refreshed := env.UserOf(t, usr.ID)
	assert.NoError(t, refreshed.CheckPassword("N3w-Pa55word!"))
}

func TestServer_guards(t *testing.T) {
	env, srv := setup(t)

	class := env.CreateClass(t, 1)
	studentToken := getToken(t, env, env.UserOf(t, class.Students[0].UserID))
	teacherToken := getToken(t, env, env.UserOf(t, class.Teacher.UserID))
	financeToken := getToken(t, env, env.CreateUser(t, user.RoleFinance, "Fin", "Ance"))
	forbidden := marshal(t, httpErr{Error: "permission denied"})

	runHTTPTests(t, srv, []httpTest{
		{name: "auth required", path: "/v1/students", wantCode: http.StatusUnauthorized, wantData: marshal(t, errMissingToken)},
		{name: "bad token", path: "/v1/students", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
		{
			name: "admin required", method: http.MethodPost, path: "/v1/students", token: studentToken, body: []byte(`{}`),
			wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{name: "users are admin only", path: "/v1/users", token: teacherToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "expenses are finance only", path: "/v1/expenses", token: teacherToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "activity logs are admin only", path: "/v1/activity", token: financeToken, wantCode: http.StatusForbidden},
		{name: "teachers see no invoices", path: "/v1/invoices", token: teacherToken, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{name: "finance sees the expenses", path: "/v1/expenses", token: financeToken, wantCode: http.StatusOK, wantData: []byte(`[]`)},
		{
			name: "finance cannot take attendance", method: http.MethodPost, path: "/v1/sessions/whatever/attendance", token: financeToken,
			body: []byte(`{"records":[]}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
	})
}

func TestServer_scopedStudents(t *testing.T) {
	env, srv := setup(t)

	class := env.CreateClass(t, 2)
	outsider := env.CreateStudent(t, "Yaw", "Boateng")

	query := func(t *testing.T, token string) []string {
		req, rec := newAuthRequest(http.MethodGet, "/v1/students", token)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var students []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &students))
		ids := make([]string, 0, len(students))
		for _, s := range students {
			ids = append(ids, s.ID)
		}
		return ids
	}

	teacherToken := getToken(t, env, env.UserOf(t, class.Teacher.UserID))
	assert.ElementsMatch(t, []string{class.Students[0].ID, class.Students[1].ID}, query(t, teacherToken))

	outsiderToken := getToken(t, env, env.UserOf(t, outsider.UserID))
	assert.Equal(t, []string{outsider.ID}, query(t, outsiderToken))

	req, rec := newAuthRequest(http.MethodGet, "/v1/students/"+class.Students[0].ID, outsiderToken)
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_scopedTeachers(t *testing.T) {
	env, srv := setup(t)

	class := env.CreateClass(t, 1)
	other := env.CreateTeacher(t, "Kofi", "Annan")
	studentToken := getToken(t, env, env.UserOf(t, class.Students[0].UserID))

	req, rec := newAuthRequest(http.MethodGet, "/v1/teachers", studentToken)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var teachers []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &teachers))
	require.Len(t, teachers, 1)
	assert.Equal(t, class.Teacher.ID, teachers[0].ID)

	runHTTPTests(t, srv, []httpTest{
		{name: "own class teacher", path: "/v1/teachers/" + class.Teacher.ID, token: studentToken, wantCode: http.StatusOK},
		{name: "other teacher", path: "/v1/teachers/" + other.ID, token: studentToken, wantCode: http.StatusNotFound},
	})
}

func TestServer_attendance(t *testing.T) {
	env, srv := setup(t)
	ctx := context.Background()
	today := testutil.Today()

	class := env.CreateClass(t, 2)
	s1, s2 := class.Students[0], class.Students[1]
	parent := env.CreateParent(t, "Grace", "Hopper")
	require.NoError(t, env.School.LinkParent(ctx, s2.ID, parent.ID))
	session := env.CreateSession(t, class.ClassRoom.ID, class.Subject.ID, class.Teacher.ID, today)
	path := fmt.Sprintf("/v1/sessions/%s/attendance", session.ID)

	teacherToken := getToken(t, env, env.UserOf(t, class.Teacher.UserID))
	stranger := env.CreateTeacher(t, "Alan", "Turing")
	body := marshal(t, attendance.TakeAttendance{Records: []attendance.Record{
		{StudentID: s1.ID, Status: attendance.Present},
		{StudentID: s2.ID, Status: attendance.Absent},
	}})

	runHTTPTests(t, srv, []httpTest{
		{
			name: "students cannot take attendance", method: http.MethodPost, path: path, body: body,
			token: getToken(t, env, env.UserOf(t, s1.UserID)), wantCode: http.StatusForbidden,
		},
		{
			name: "teachers only see their own sessions", method: http.MethodPost, path: path, body: body,
			token: getToken(t, env, env.UserOf(t, stranger.UserID)), wantCode: http.StatusNotFound,
		},
		{
			name: "invalid status", method: http.MethodPost, path: path, token: teacherToken,
			body:     []byte(`{"records":[{"student_id":"` + s1.ID + `","status":"ASLEEP"}]}`),
			wantCode: http.StatusBadRequest,
		},
		{name: "take", method: http.MethodPost, path: path, body: body, token: teacherToken, wantCode: http.StatusOK},
	})

	t.Run("parents see their children's summaries", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attendance/daily?date_from="+today.String(), getToken(t, env, env.UserOf(t, parent.UserID)))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sums []attendance.DailySummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
		require.Len(t, sums, 1)
		assert.Equal(t, s2.ID, sums[0].StudentID)
		assert.Equal(t, attendance.FullyAbsent, sums[0].DailyStatus)
		assert.Equal(t, float64(0), sums[0].AttendanceRate)
	})

	t.Run("teachers see the class summaries", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/attendance/daily", teacherToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sums []attendance.DailySummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sums))
		assert.Len(t, sums, 2)
	})
}

func TestServer_financeReport(t *testing.T) {
	env, srv := setup(t)
	today := testutil.Today()
	financeToken := getToken(t, env, env.CreateUser(t, user.RoleFinance, "Fin", "Ance"))

	runHTTPTests(t, srv, []httpTest{
		{name: "bad date", path: "/v1/finance/daily-report?date=yesterday", token: financeToken, wantCode: http.StatusBadRequest},
		{
			name: "teachers cannot read it", path: "/v1/finance/daily-report",
			token: getToken(t, env, env.CreateUser(t, user.RoleTeacher, "Ada", "Lovelace")), wantCode: http.StatusForbidden,
		},
	})

	req, rec := newAuthRequest(http.MethodGet, "/v1/finance/daily-report?date="+today.String(), financeToken)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report finance.DailyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, today.String(), report.Date.String())
	assert.Equal(t, env.Conf.School.Currency, report.Currency)
	assert.Zero(t, report.Payments.Count)
	assert.Zero(t, report.NetBalance)
}
