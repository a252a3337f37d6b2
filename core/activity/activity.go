package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/volatiletech/null/v8"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/rbac"
)

// Action types
const (
	UserLogin      = "USER_LOGIN"
	UserCreate     = "USER_CREATE"
	UserUpdate     = "USER_UPDATE"
	UserDelete     = "USER_DELETE"
	GradeCreate    = "GRADE_CREATE"
	GradeUpdate    = "GRADE_UPDATE"
	AttendanceTake = "ATTENDANCE_TAKE"
	SessionStatus  = "SESSION_STATUS"
	InvoiceCreate  = "INVOICE_CREATE"
	PaymentRecord  = "PAYMENT_RECORD"
	ExpenseApprove = "EXPENSE_APPROVE"
	Other          = "OTHER"
)

var nowFunc = time.Now // mockable

type (
	ActivityLog struct {
		ID          string      `json:"id" db:"id"`
		UserID      null.String `json:"user_id" db:"user_id"`
		ActionType  string      `json:"action_type" db:"action_type"`
		Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
		Description string      `json:"description" db:"description"`
		ContentType string      `json:"content_type" db:"content_type"`
		ObjectID    string      `json:"object_id" db:"object_id"`
		ObjectRepr  string      `json:"object_repr" db:"object_repr"`
		OldValues   null.JSON   `json:"old_values" db:"old_values"`
		NewValues   null.JSON   `json:"new_values" db:"new_values"`
		IPAddress   string      `json:"ip_address" db:"ip_address"`
		UserAgent   string      `json:"user_agent" db:"user_agent"`
	}

	// Entry describes an action to record.
	Entry struct {
		ActionType  string
		Description string
		ContentType string
		ObjectID    string
		ObjectRepr  string
		OldValues   interface{}
		NewValues   interface{}
	}

	Filter struct {
		UserID     string    `query:"user_id"`
		ActionType string    `query:"action_type"`
		From       core.Date `query:"from"`
		To         core.Date `query:"to"` // inclusive
		IDs        []string  `query:"-"`
	}

	Repository interface {
		CreateLog(ctx context.Context, l ActivityLog, exec ...core.DBExecutor) (ActivityLog, error)
		QueryLogs(ctx context.Context, filter Filter, ordering []core.DBOrdering) ([]ActivityLog, error)
	}
)

type clientKey struct{}

type client struct {
	ip, userAgent string
}

// WithClient returns a copy of ctx carrying the caller's IP address and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: ip, userAgent: userAgent})
}

func clientFrom(ctx context.Context) client {
	c, _ := ctx.Value(clientKey{}).(client)
	return c
}

// Recorder stores the audit log entries.
// Failing to record an entry never fails the action; the error is logged instead.
type Recorder struct {
	repo   Repository
	logger core.Logger
}

func NewRecorder(repo Repository, logger core.Logger) *Recorder {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, userID string, e Entry) {
	if e.ActionType == "" {
		e.ActionType = Other
	}
	c := clientFrom(ctx)
	l := ActivityLog{
		UserID:      null.NewString(userID, userID != ""),
		ActionType:  e.ActionType,
		Timestamp:   nowFunc().UTC(),
		Description: e.Description,
		ContentType: e.ContentType,
		ObjectID:    e.ObjectID,
		ObjectRepr:  e.ObjectRepr,
		OldValues:   toJSON(e.OldValues),
		NewValues:   toJSON(e.NewValues),
		IPAddress:   c.ip,
		UserAgent:   c.userAgent,
	}
	if _, err := r.repo.CreateLog(ctx, l); err != nil {
		r.logger.Error(fmt.Sprintf("activity.Record: %v", err), err)
	}
}

// Query lists the audit log; only admins may read it.
func (r *Recorder) Query(ctx context.Context, p rbac.Principal, filter Filter, ordering []core.DBOrdering) ([]ActivityLog, error) {
	if p.Scope(rbac.ActivityLogs).Empty() {
		return nil, core.ErrForbidden
	}
	return r.repo.QueryLogs(ctx, filter, ordering)
}

func toJSON(v interface{}) null.JSON {
	if v == nil {
		return null.JSON{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return null.JSON{}
	}
	return null.JSONFrom(b)
}
