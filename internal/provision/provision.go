package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/ragnarhq/ragnar-init/internal/auth"
	"github.com/ragnarhq/ragnar-init/internal/hostfs"
	"github.com/ragnarhq/ragnar-init/internal/logger"
	"github.com/ragnarhq/ragnar-init/internal/usermgr"
)

const (
	RootHome     = "/root"
	DefaultShell = "/bin/sh"

	homeMode os.FileMode = 0755
	dataMode os.FileMode = 0775
)

var errUnsafeDir = errors.New("refusing to manage the filesystem root")

// Accounts is the account database the provisioner works against.
// Lookups return usermgr.ErrGroupNotFound / ErrUserNotFound when absent.
type Accounts interface {
	GroupByGID(ctx context.Context, gid int) (*usermgr.GroupEntry, error)
	UserByName(ctx context.Context, name string) (*usermgr.PasswdEntry, error)
	AddGroup(ctx context.Context, name string, gid int) error
	AddUser(ctx context.Context, req usermgr.CreateUserRequest) error
	ModifyUser(ctx context.Context, name string, uid, gid int) error
	PasswordHash(ctx context.Context, name string) (string, error)
	SetPasswordHash(ctx context.Context, name, hash string) error
}

// Request is the identity asked for by the container environment.
type Request struct {
	UID      int
	GID      int
	User     string
	Group    string
	Password string
	DataDir  string
}

// Identity is the resolved account the children run as.
type Identity struct {
	UID   int    `yaml:"uid"`
	GID   int    `yaml:"gid"`
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Home  string `yaml:"home"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%d):%s(%d)", id.User, id.UID, id.Group, id.GID)
}

// IsRoot reports whether the identity is the superuser.
func (id Identity) IsRoot() bool { return id.UID == 0 }

// ProvisionError wraps any failure while resolving the identity.
type ProvisionError struct {
	Step string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision: %s: %v", e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

func fail(step string, err error) error {
	return &ProvisionError{Step: step, Err: err}
}

type Provisioner struct {
	Accounts Accounts
	FS       *hostfs.FS
}

func New(accounts Accounts, fs *hostfs.FS) *Provisioner {
	return &Provisioner{Accounts: accounts, FS: fs}
}

// Provision makes sure the requested account exists and owns its home and
// the data directory. Side effects of a failed run are not rolled back.
func (p *Provisioner) Provision(ctx context.Context, req Request) (Identity, error) {
	var id Identity
	if req.UID == 0 {
		// The superuser always exists; PGID is not consulted.
		// /root keeps its image-defined mode and ownership.
		id = Identity{UID: 0, GID: 0, User: "root", Group: "root", Home: RootHome}
		logger.Info("running as %s", id)
	} else {
		group, err := p.resolveGroup(ctx, req)
		if err != nil {
			return Identity{}, err
		}
		home, managed, err := p.resolveUser(ctx, req, group)
		if err != nil {
			return Identity{}, err
		}
		id = Identity{UID: req.UID, GID: req.GID, User: req.User, Group: group, Home: home}
		logger.Info("provisioned %s home=%s", id, id.Home)

		if managed {
			err = p.own(id.Home, homeMode, id)
		} else {
			err = p.ownTop(id.Home, homeMode, id)
		}
		if err != nil {
			return Identity{}, fail("home "+id.Home, err)
		}
	}

	if req.DataDir != "" {
		if err := p.own(req.DataDir, dataMode, id); err != nil {
			return Identity{}, fail("data dir "+req.DataDir, err)
		}
	}
	return id, nil
}

func (p *Provisioner) resolveGroup(ctx context.Context, req Request) (string, error) {
	g, err := p.Accounts.GroupByGID(ctx, req.GID)
	switch {
	case err == nil:
		if g.Name != req.Group {
			logger.Info("reusing group %s for gid %d", g.Name, req.GID)
		}
		return g.Name, nil
	case !errors.Is(err, usermgr.ErrGroupNotFound):
		return "", fail("group lookup", err)
	}
	if err := p.Accounts.AddGroup(ctx, req.Group, req.GID); err != nil {
		return "", fail("create group "+req.Group, err)
	}
	logger.Info("created group %s gid=%d", req.Group, req.GID)
	return req.Group, nil
}

// resolveUser returns the home directory of the (possibly new) account and
// whether it is ours to manage recursively: a home created by this run or
// one under /home. Any other existing home only has its top directory
// adjusted.
func (p *Provisioner) resolveUser(ctx context.Context, req Request, group string) (string, bool, error) {
	u, err := p.Accounts.UserByName(ctx, req.User)
	if err == nil {
		if u.UID != req.UID || u.GID != req.GID {
			if err := p.Accounts.ModifyUser(ctx, req.User, req.UID, req.GID); err != nil {
				return "", false, fail("modify user "+req.User, err)
			}
			logger.Info("updated user %s uid %d->%d gid %d->%d", req.User, u.UID, req.UID, u.GID, req.GID)
		}
		if err := p.syncPassword(ctx, req); err != nil {
			return "", false, err
		}
		if u.Home == "" {
			return path.Join("/home", req.User), true, nil
		}
		home := path.Clean(u.Home)
		return home, strings.HasPrefix(home, "/home/"), nil
	}
	if !errors.Is(err, usermgr.ErrUserNotFound) {
		return "", false, fail("user lookup", err)
	}

	hash, err := passwordHash(req.Password)
	if err != nil {
		return "", false, fail("password", err)
	}
	home := path.Join("/home", req.User)
	if err := p.Accounts.AddUser(ctx, usermgr.CreateUserRequest{
		Username:     req.User,
		UID:          req.UID,
		GID:          req.GID,
		PasswordHash: hash,
		Home:         home,
		Shell:        DefaultShell,
	}); err != nil {
		return "", false, fail("create user "+req.User, err)
	}
	logger.Info("created user %s uid=%d group=%s", req.User, req.UID, group)
	return home, true, nil
}

// syncPassword rewrites the stored hash of an existing account when
// USER_PASSWORD no longer matches it.
func (p *Provisioner) syncPassword(ctx context.Context, req Request) error {
	if req.Password == "" {
		return nil
	}
	current, err := p.Accounts.PasswordHash(ctx, req.User)
	if err != nil {
		return fail("password lookup", err)
	}
	if auth.IsHashed(req.Password) {
		if current == req.Password {
			return nil
		}
	} else if ok, _ := auth.VerifyPassword(current, req.Password); ok {
		return nil
	}

	hash, err := passwordHash(req.Password)
	if err != nil {
		return fail("password", err)
	}
	if err := p.Accounts.SetPasswordHash(ctx, req.User, hash); err != nil {
		return fail("set password "+req.User, err)
	}
	logger.Info("updated password of %s", req.User)
	return nil
}

// passwordHash accepts an already hashed password as is.
func passwordHash(pw string) (string, error) {
	if pw == "" {
		return "", nil
	}
	if auth.IsHashed(pw) {
		return pw, nil
	}
	return auth.HashPassword(pw)
}

// own creates dir if needed, forces mode and chowns it recursively.
func (p *Provisioner) own(dir string, mode os.FileMode, id Identity) error {
	if path.Clean(dir) == "/" {
		return errUnsafeDir
	}
	if _, err := p.FS.EnsureDir(dir, mode); err != nil {
		return err
	}
	return p.FS.ChownTree(dir, id.UID, id.GID)
}

// ownTop chowns only dir itself; its mode is set only when it is created.
func (p *Provisioner) ownTop(dir string, mode os.FileMode, id Identity) error {
	if path.Clean(dir) == "/" {
		return errUnsafeDir
	}
	if _, err := p.FS.MkdirIfMissing(dir, mode); err != nil {
		return err
	}
	return p.FS.Lchown(dir, id.UID, id.GID)
}
