package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/eschool-app/eschool/core"
	"github.com/eschool-app/eschool/core/user"
)

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(first, last, email, role, pwd string) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role)
	if !core.ContainsString(user.AllRoles, role) {
		return fmt.Errorf("%q: unknown role", role)
	}

	usr, err := cli.svcs.User.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		_, err = cli.svcs.User.Create(ctx, user.NewUser{
			FirstName: core.CleanString(first),
			LastName:  core.CleanString(last),
			Email:     email,
			Role:      role,
			Password:  pwd,
		})
		return err
	}

	active := true
	_, err = cli.svcs.User.Update(ctx, usr.ID, user.UpdateUser{
		FirstName: core.CleanString(first),
		LastName:  core.CleanString(last),
		Email:     usr.Email,
		Phone:     usr.Phone,
		IsActive:  &active,
		Role:      role,
		Password:  pwd,
	})
	return err
}
