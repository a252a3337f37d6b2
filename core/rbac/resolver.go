package rbac

import (
	"context"

	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core/user"
)

// Profiles holds the profile IDs linked to a user account.
type Profiles struct {
	StudentID string
	ParentID  string
	TeacherID string
	ChildIDs  []string
}

// ProfileFinder looks up the profiles of a user account.
type ProfileFinder interface {
	FindProfiles(ctx context.Context, userID string) (Profiles, error)
}

type Resolver struct {
	finder ProfileFinder
}

func NewResolver(finder ProfileFinder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve builds the Principal of an authenticated user.
// Only the profile matching the user's role is kept.
func (r *Resolver) Resolve(ctx context.Context, userID, role string) (Principal, error) {
	p := Principal{UserID: userID, Role: role}
	switch role {
	case user.RoleStudent, user.RoleParent, user.RoleTeacher:
	default:
		return p, nil
	}

	profiles, err := r.finder.FindProfiles(ctx, userID)
	if err != nil {
		return Principal{}, errors.Wrap(err, "finding profiles")
	}
	switch role {
	case user.RoleStudent:
		p.StudentID = profiles.StudentID
	case user.RoleParent:
		p.ParentID = profiles.ParentID
		if p.ParentID != "" {
			p.ChildIDs = profiles.ChildIDs
		}
	case user.RoleTeacher:
		p.TeacherID = profiles.TeacherID
	}
	return p, nil
}
