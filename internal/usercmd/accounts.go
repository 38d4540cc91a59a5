package usercmd

import (
	"context"

	"github.com/ragnarhq/ragnar-init/internal/usermgr"
)

// Accounts reads the account databases through usermgr and mutates them
// with the system tools, so distribution hooks (nscd, selinux labels) run.
type Accounts struct {
	Files  *usermgr.Manager
	Runner *Runner
}

func (a *Accounts) GroupByGID(ctx context.Context, gid int) (*usermgr.GroupEntry, error) {
	return a.Files.GroupByGID(ctx, gid)
}

func (a *Accounts) UserByName(ctx context.Context, name string) (*usermgr.PasswdEntry, error) {
	return a.Files.UserByName(ctx, name)
}

func (a *Accounts) AddGroup(ctx context.Context, name string, gid int) error {
	return a.Runner.GroupAdd(ctx, name, gid)
}

func (a *Accounts) AddUser(ctx context.Context, req usermgr.CreateUserRequest) error {
	if err := a.Runner.UserAdd(ctx, req.Username, req.UID, req.GID, req.Home, req.Shell); err != nil {
		return err
	}
	if req.PasswordHash == "" {
		return nil
	}
	return a.Runner.SetPasswordHash(ctx, req.Username, req.PasswordHash)
}

func (a *Accounts) ModifyUser(ctx context.Context, name string, uid, gid int) error {
	return a.Runner.UserMod(ctx, name, uid, gid)
}

func (a *Accounts) PasswordHash(ctx context.Context, name string) (string, error) {
	return a.Files.PasswordHash(ctx, name)
}

func (a *Accounts) SetPasswordHash(ctx context.Context, name, hash string) error {
	return a.Runner.SetPasswordHash(ctx, name, hash)
}
