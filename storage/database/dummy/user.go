package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) emailTaken(email, excludedID string) bool {
	for _, u := range repo.db.users {
		if strings.EqualFold(u.Email, email) && u.ID != excludedID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email, excludedID string) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if repo.emailTaken(email, excludedID) {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.emailTaken(usr.Email, "") {
		return user.User{}, user.ErrEmailExists
	}
	usr.ID = newID()
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	switch {
	case filter.ID != "":
		if usr, ok := repo.db.users[filter.ID]; ok {
			return *usr, nil
		}
	case filter.Email != "":
		for _, usr := range repo.db.users {
			if usr.Email == filter.Email {
				return *usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if filter != nil {
			if !matchSearch(filter.Search, usr.FirstName, usr.LastName, usr.Email) ||
				(len(filter.Roles) > 0 && !core.ContainsString(filter.Roles, usr.Role)) ||
				(filter.IsActive != nil && usr.IsActive != *filter.IsActive) ||
				!inIDs(filter.IDs, usr.ID) ||
				!inRange(core.DateOf(usr.CreatedAt), filter.CreatedFrom, filter.CreatedTo) {
				continue
			}
		}
		users = append(users, *usr)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].Email < users[j].Email
	})
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	if repo.emailTaken(usr.Email, usr.ID) {
		return user.User{}, user.ErrEmailExists
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) DeleteUsers(ctx context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, id := range ids {
		delete(repo.db.users, id)
	}
	return nil
}
