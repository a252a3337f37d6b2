package dummydb

import (
	"context"
	"sort"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/activity"
)

type activityRepository struct {
	db *DB
}

var _ activity.Repository = (*activityRepository)(nil) // interface compliance check

func NewActivityRepository(db *DB) *activityRepository {
	return &activityRepository{db: db}
}

func (repo *activityRepository) CreateLog(ctx context.Context, l activity.ActivityLog, exec ...core.DBExecutor) (activity.ActivityLog, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	l.ID = newID()
	stored := l
	repo.db.logs[l.ID] = &stored
	return l, nil
}

func (repo *activityRepository) QueryLogs(ctx context.Context, filter activity.Filter, ordering []core.DBOrdering) ([]activity.ActivityLog, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	logs := make([]activity.ActivityLog, 0)
	for _, l := range repo.db.logs {
		if (filter.UserID != "" && l.UserID.String != filter.UserID) ||
			(filter.ActionType != "" && l.ActionType != filter.ActionType) ||
			!inRange(core.DateOf(l.Timestamp), filter.From, filter.To) ||
			!inIDs(filter.IDs, l.ID) {
			continue
		}
		logs = append(logs, *l)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Timestamp.After(logs[j].Timestamp) })
	return logs, nil
}
