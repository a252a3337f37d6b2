package main

import (
	"context"
)

func (cli *commandLine) resetPassword(email, pwd string) error {
	ctx := context.Background()
	usr, err := cli.svcs.User.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	_, err = cli.svcs.User.SetPassword(ctx, usr, pwd)
	return err
}
