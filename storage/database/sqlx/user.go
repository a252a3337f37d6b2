package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/user"
)

const userColumns = `id, first_name, last_name, email, phone, role, is_active, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"first_name": "first_name",
	"last_name":  "last_name",
	"email":      "email",
	"role":       "role",
	"created_at": "created_at",
	"last_login": "last_login",
}

type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DBExecutor) *userRepository {
	return &userRepository{base{db: db}}
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email, excludedID string) error {
	qb := psql.Select("COUNT(*)").From(`"user"`).Where(sq.Eq{"email": email})
	if excludedID != "" {
		qb = qb.Where(sq.NotEq{"id": excludedID})
	}
	var count int
	if err := repo.getOne(ctx, repo.db, &count, qb); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if count > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = newID()
	qb := psql.Insert(`"user"`).
		Columns("id", "first_name", "last_name", "email", "phone", "role", "is_active", "password_hash", "created_at", "updated_at", "last_login").
		Values(usr.ID, usr.FirstName, usr.LastName, usr.Email, usr.Phone, usr.Role, usr.IsActive, usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt, usr.LastLogin)
	if _, err := repo.exec(ctx, repo.getExec(exec), qb); err != nil {
		return user.User{}, trapUniqueErr(err, user.ErrEmailExists, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	qb := psql.Select(userColumns).From(`"user"`).Limit(1)
	switch {
	case filter.ID != "":
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Email != "":
		qb = qb.Where(sq.Eq{"email": filter.Email})
	default:
		return user.User{}, user.ErrNotFound
	}

	var usr user.User
	if err := repo.getOne(ctx, repo.getExec(exec), &usr, qb); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	qb := psql.Select(userColumns).From(`"user"`).
		OrderBy(orderBy(ordering, userOrderings, "created_at DESC")...)

	if filter != nil {
		if filter.Search != "" {
			qb = qb.Where(ilike(filter.Search, "first_name", "last_name", "email"))
		}
		if len(filter.Roles) > 0 {
			qb = qb.Where(anyOf("role", filter.Roles))
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.Time})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.Lt{"created_at": filter.CreatedTo.AddDays(1).Time})
		}
		if len(filter.IDs) > 0 {
			qb = qb.Where(anyOf("id::text", filter.IDs))
		}
	}

	users := make([]user.User, 0)
	if err := repo.selectAll(ctx, repo.db, &users, qb); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	qb := psql.Update(`"user"`).
		SetMap(map[string]interface{}{
			"first_name":    usr.FirstName,
			"last_name":     usr.LastName,
			"email":         usr.Email,
			"phone":         usr.Phone,
			"role":          usr.Role,
			"is_active":     usr.IsActive,
			"password_hash": usr.PasswordHash,
			"updated_at":    usr.UpdatedAt,
			"last_login":    usr.LastLogin,
		}).
		Where(sq.Eq{"id": usr.ID})
	n, err := repo.exec(ctx, repo.getExec(exec), qb)
	if err != nil {
		return user.User{}, trapUniqueErr(err, user.ErrEmailExists, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsers(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := repo.exec(ctx, repo.db, psql.Delete(`"user"`).Where(anyOf("id::text", ids))); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
