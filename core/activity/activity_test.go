package activity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
	"github.com/eschool-app/eschool/core/user"
)

type memRepo struct {
	mu   sync.Mutex
	logs []ActivityLog
	err  error
}

func (r *memRepo) CreateLog(ctx context.Context, l ActivityLog, exec ...core.DBExecutor) (ActivityLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return ActivityLog{}, r.err
	}
	r.logs = append(r.logs, l)
	return l, nil
}

func (r *memRepo) QueryLogs(ctx context.Context, filter Filter, ordering []core.DBOrdering) ([]ActivityLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivityLog{}, r.logs...), nil
}

type errLogger struct {
	errors []string
}

func (l *errLogger) Debug(msg string, args ...interface{}) {}
func (l *errLogger) Info(msg string, args ...interface{})  {}
func (l *errLogger) Warn(msg string, args ...interface{})  {}
func (l *errLogger) Error(msg string, args ...interface{}) { l.errors = append(l.errors, msg) }
func (l *errLogger) Fatal(msg string, args ...interface{}) {}

func TestRecorder_Record(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo, &errLogger{})

	ctx := WithClient(context.Background(), "10.0.0.7", "curl/8.0")
	r.Record(ctx, "user-1", Entry{
		ActionType:  PaymentRecord,
		Description: "payment recorded",
		ContentType: "payment",
		ObjectID:    "p-1",
		NewValues:   map[string]int{"amount": 5000},
	})
	r.Record(context.Background(), "", Entry{Description: "system job"})

	require.Len(t, repo.logs, 2)
	l := repo.logs[0]
	assert.Equal(t, "user-1", l.UserID.String)
	assert.Equal(t, PaymentRecord, l.ActionType)
	assert.Equal(t, "10.0.0.7", l.IPAddress)
	assert.Equal(t, "curl/8.0", l.UserAgent)
	assert.JSONEq(t, `{"amount":5000}`, string(l.NewValues.JSON))
	assert.False(t, l.OldValues.Valid)
	assert.False(t, l.Timestamp.IsZero())

	system := repo.logs[1]
	assert.False(t, system.UserID.Valid)
	assert.Equal(t, Other, system.ActionType)
	assert.Empty(t, system.IPAddress)
}

func TestRecorder_Record_failure(t *testing.T) {
	logger := &errLogger{}
	r := NewRecorder(&memRepo{err: errors.New("db down")}, logger)

	assert.NotPanics(t, func() { r.Record(context.Background(), "user-1", Entry{ActionType: UserLogin}) })
	require.Len(t, logger.errors, 1)
	assert.Contains(t, logger.errors[0], "db down")
}

func TestRecorder_Query(t *testing.T) {
	repo := &memRepo{}
	r := NewRecorder(repo, &errLogger{})
	r.Record(context.Background(), "user-1", Entry{ActionType: UserLogin})

	tests := []struct {
		role    string
		wantErr error
	}{
		{user.RoleSuperAdmin, nil},
		{user.RoleAdmin, nil},
		{user.RoleFinance, core.ErrForbidden},
		{user.RoleTeacher, core.ErrForbidden},
		{user.RoleStudent, core.ErrForbidden},
		{user.RoleParent, core.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			logs, err := r.Query(context.Background(), rbac.Principal{UserID: "u", Role: tt.role}, Filter{}, nil)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, logs, 1)
		})
	}
}
