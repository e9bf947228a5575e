package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shuttle/core/user"
)

// addUser creates an active login account
func (cli *commandLine) addUser(ctx context.Context, nu user.NewUser) error {
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s account %s\n", usr.Role, usr.ID)
	return nil
}
