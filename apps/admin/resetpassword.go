package main

import (
	"context"

	"github.com/trezcool/shuttle/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	data := user.SetUserPassword{Username: uname, Password: pwd}
	if err := data.Validate(cli.validate); err != nil {
		return err
	}
	_, err := cli.usrSvc.SetPassword(ctx, data)
	return err
}
