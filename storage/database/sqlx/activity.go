package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/activity"
)

const activityColumns = `id, user_id, action_type, timestamp, description, content_type, object_id, object_repr, old_values, new_values, ip_address, user_agent`

var activityOrderings = map[string]string{
	"timestamp":   "timestamp",
	"action_type": "action_type",
}

type activityRepository struct {
	base
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db core.DBExecutor) *activityRepository {
	return &activityRepository{base{db: db}}
}

func (repo activityRepository) CreateLog(ctx context.Context, l activity.ActivityLog, exec ...core.DBExecutor) (activity.ActivityLog, error) {
	l.ID = newID()
	qb := psql.Insert("activity_log").
		Columns("id", "user_id", "action_type", "timestamp", "description", "content_type", "object_id", "object_repr",
			"old_values", "new_values", "ip_address", "user_agent").
		Values(l.ID, l.UserID, l.ActionType, l.Timestamp, l.Description, l.ContentType, l.ObjectID, l.ObjectRepr,
			l.OldValues, l.NewValues, l.IPAddress, l.UserAgent)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return activity.ActivityLog{}, errors.Wrap(err, "inserting activity log")
	}
	return l, nil
}

func (repo activityRepository) QueryLogs(ctx context.Context, filter activity.Filter, ordering []core.DBOrdering) ([]activity.ActivityLog, error) {
	qb := psql.Select(activityColumns).From("activity_log").
		OrderBy(orderBy(ordering, activityOrderings, "timestamp DESC")...)
	if filter.UserID != "" {
		qb = qb.Where(sq.Eq{"user_id::text": filter.UserID})
	}
	if filter.ActionType != "" {
		qb = qb.Where(sq.Eq{"action_type": filter.ActionType})
	}
	if !filter.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"timestamp": filter.From.Time})
	}
	if !filter.To.IsZero() {
		qb = qb.Where(sq.Lt{"timestamp": filter.To.AddDays(1).Time})
	}
	if len(filter.IDs) > 0 {
		qb = qb.Where(anyOf("id::text", filter.IDs))
	}

	logs := make([]activity.ActivityLog, 0)
	if err := repo.selectAll(ctx, repo.db, &logs, qb); err != nil {
		return nil, errors.Wrap(err, "querying activity logs")
	}
	return logs, nil
}
