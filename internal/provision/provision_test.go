package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragnarhq/ragnar-init/internal/auth"
	"github.com/ragnarhq/ragnar-init/internal/hostfs"
	"github.com/ragnarhq/ragnar-init/internal/usermgr"
)

// fakeAccounts is an in-memory account database that records mutations.
type fakeAccounts struct {
	groups map[int]string
	users  map[string]*usermgr.PasswdEntry
	hashes map[string]string
	calls  []string
	added  []usermgr.CreateUserRequest
	err    error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{groups: map[int]string{}, users: map[string]*usermgr.PasswdEntry{}, hashes: map[string]string{}}
}

func (f *fakeAccounts) GroupByGID(_ context.Context, gid int) (*usermgr.GroupEntry, error) {
	f.calls = append(f.calls, "GroupByGID")
	name, ok := f.groups[gid]
	if !ok {
		return nil, usermgr.ErrGroupNotFound
	}
	return &usermgr.GroupEntry{Name: name, GID: gid}, nil
}

func (f *fakeAccounts) UserByName(_ context.Context, name string) (*usermgr.PasswdEntry, error) {
	f.calls = append(f.calls, "UserByName")
	u, ok := f.users[name]
	if !ok {
		return nil, usermgr.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeAccounts) AddGroup(_ context.Context, name string, gid int) error {
	f.calls = append(f.calls, "AddGroup")
	if f.err != nil {
		return f.err
	}
	f.groups[gid] = name
	return nil
}

func (f *fakeAccounts) AddUser(_ context.Context, req usermgr.CreateUserRequest) error {
	f.calls = append(f.calls, "AddUser")
	f.added = append(f.added, req)
	f.users[req.Username] = &usermgr.PasswdEntry{Name: req.Username, UID: req.UID, GID: req.GID, Home: req.Home, Shell: req.Shell}
	return nil
}

func (f *fakeAccounts) ModifyUser(_ context.Context, name string, uid, gid int) error {
	f.calls = append(f.calls, "ModifyUser")
	f.users[name].UID = uid
	f.users[name].GID = gid
	return nil
}

func (f *fakeAccounts) PasswordHash(_ context.Context, name string) (string, error) {
	return f.hashes[name], nil
}

func (f *fakeAccounts) SetPasswordHash(_ context.Context, name, hash string) error {
	f.calls = append(f.calls, "SetPasswordHash")
	f.hashes[name] = hash
	return nil
}

func (f *fakeAccounts) mutations() []string {
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "Add") || strings.HasPrefix(c, "Modify") || strings.HasPrefix(c, "Set") {
			out = append(out, c)
		}
	}
	return out
}

type chownCall struct {
	path     string
	uid, gid int
}

func newTestFS(t *testing.T) (*hostfs.FS, *[]chownCall) {
	t.Helper()
	fs := hostfs.New(t.TempDir())
	var calls []chownCall
	fs.Chown = func(path string, uid, gid int) error {
		calls = append(calls, chownCall{path, uid, gid})
		return nil
	}
	return fs, &calls
}

func TestProvisionRoot(t *testing.T) {
	accounts := newFakeAccounts()
	fs, chowns := newTestFS(t)

	id, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 0, GID: 4242, User: "ragnar", Group: "ragnar", DataDir: "/app/data",
	})
	require.NoError(t, err)
	assert.Equal(t, Identity{UID: 0, GID: 0, User: "root", Group: "root", Home: "/root"}, id)
	assert.True(t, id.IsRoot())
	assert.Empty(t, accounts.calls, "no account lookups for the superuser")

	for _, c := range *chowns {
		assert.Equal(t, 0, c.uid)
		assert.Equal(t, 0, c.gid)
	}
}

func TestProvisionCreatesGroupAndUser(t *testing.T) {
	accounts := newFakeAccounts()
	fs, chowns := newTestFS(t)

	id, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", DataDir: "/app/data",
	})
	require.NoError(t, err)
	assert.Equal(t, Identity{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", Home: "/home/ragnar"}, id)
	assert.Equal(t, []string{"AddGroup", "AddUser"}, accounts.mutations())

	require.Len(t, accounts.added, 1)
	assert.Equal(t, "/bin/sh", accounts.added[0].Shell)
	assert.Equal(t, "", accounts.added[0].PasswordHash)

	home, _ := fs.Path("/home/ragnar")
	data, _ := fs.Path("/app/data")
	for dir, mode := range map[string]os.FileMode{home: 0755, data: 0775} {
		st, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, st.IsDir())
		assert.Equal(t, mode, st.Mode().Perm(), dir)
	}
	assert.Contains(t, *chowns, chownCall{home, 1000, 1000})
	assert.Contains(t, *chowns, chownCall{data, 1000, 1000})
}

func TestProvisionReusesExistingGroup(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.groups[100] = "users"
	fs, _ := newTestFS(t)

	id, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 1000, GID: 100, User: "ragnar", Group: "ragnar",
	})
	require.NoError(t, err)
	assert.Equal(t, "users", id.Group)
	assert.Equal(t, []string{"AddUser"}, accounts.mutations())
}

func TestProvisionModifiesExistingUser(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.groups[1000] = "ragnar"
	accounts.users["ragnar"] = &usermgr.PasswdEntry{Name: "ragnar", UID: 1000, GID: 1000, Home: "/home/ragnar"}
	fs, chowns := newTestFS(t)
	_, err := fs.EnsureDir("/home/ragnar/.cache", 0700)
	require.NoError(t, err)

	id, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 1500, GID: 1000, User: "ragnar", Group: "ragnar",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ModifyUser"}, accounts.mutations(), "modified in place, never recreated")
	assert.Equal(t, 1500, accounts.users["ragnar"].UID)
	assert.Equal(t, "/home/ragnar", id.Home)

	cache, _ := fs.Path("/home/ragnar/.cache")
	assert.Contains(t, *chowns, chownCall{cache, 1500, 1000}, "homes under /home are chowned recursively")
}

func TestProvisionForeignHomeTopOnly(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.groups[1000] = "ragnar"
	accounts.users["ragnar"] = &usermgr.PasswdEntry{Name: "ragnar", UID: 1000, GID: 1000, Home: "/srv/ragnar"}
	fs, chowns := newTestFS(t)
	home, err := fs.EnsureDir("/srv/ragnar/shared", 0700)
	require.NoError(t, err)
	home = filepath.Dir(home)
	require.NoError(t, os.Chmod(home, 0750))

	id, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar",
	})
	require.NoError(t, err)
	assert.Equal(t, "/srv/ragnar", id.Home, "existing home is kept")
	assert.Equal(t, []chownCall{{home, 1000, 1000}}, *chowns)

	st, err := os.Stat(home)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), st.Mode().Perm())
}

func TestProvisionRefusesRootHome(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.groups[65534] = "nogroup"
	accounts.users["nobody"] = &usermgr.PasswdEntry{Name: "nobody", UID: 65534, GID: 65534, Home: "/", Shell: "/sbin/nologin"}
	fs, chowns := newTestFS(t)
	st, err := os.Stat(fs.Root)
	require.NoError(t, err)
	mode := st.Mode().Perm()

	_, err = New(accounts, fs).Provision(context.Background(), Request{
		UID: 1000, GID: 65534, User: "nobody", Group: "nogroup",
	})
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.ErrorIs(t, err, errUnsafeDir)
	assert.Empty(t, *chowns)

	st, err = os.Stat(fs.Root)
	require.NoError(t, err)
	assert.Equal(t, mode, st.Mode().Perm())
}

func TestProvisionRefusesRootDataDir(t *testing.T) {
	fs, chowns := newTestFS(t)
	_, err := New(newFakeAccounts(), fs).Provision(context.Background(), Request{UID: 0, DataDir: "/"})
	assert.ErrorIs(t, err, errUnsafeDir)
	assert.Empty(t, *chowns)
}

func TestProvisionSyncsPasswordOfExistingUser(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	accounts := newFakeAccounts()
	accounts.groups[1000] = "ragnar"
	accounts.users["ragnar"] = &usermgr.PasswdEntry{Name: "ragnar", UID: 1000, GID: 1000, Home: "/home/ragnar"}
	accounts.hashes["ragnar"] = hash
	fs, _ := newTestFS(t)
	p := New(accounts, fs)
	req := Request{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", Password: "hunter2"}

	_, err = p.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, accounts.mutations(), "matching password is left alone")

	req.Password = "correct horse"
	_, err = p.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"SetPasswordHash"}, accounts.mutations())
	ok, err := auth.VerifyPassword(accounts.hashes["ragnar"], "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	accounts.calls = nil
	req.Password = "$6$salt$prehashed"
	_, err = p.Provision(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "$6$salt$prehashed", accounts.hashes["ragnar"], "pre-hashed value stored verbatim")
}

func TestProvisionUnchangedUserIsLeftAlone(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.groups[1000] = "ragnar"
	accounts.users["ragnar"] = &usermgr.PasswdEntry{Name: "ragnar", UID: 1000, GID: 1000, Home: "/home/ragnar"}
	fs, _ := newTestFS(t)

	_, err := New(accounts, fs).Provision(context.Background(), Request{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar"})
	require.NoError(t, err)
	assert.Empty(t, accounts.mutations())
}

func TestProvisionHashesPassword(t *testing.T) {
	accounts := newFakeAccounts()
	fs, _ := newTestFS(t)

	_, err := New(accounts, fs).Provision(context.Background(), Request{
		UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", Password: "hunter2",
	})
	require.NoError(t, err)
	require.Len(t, accounts.added, 1)
	assert.True(t, strings.HasPrefix(accounts.added[0].PasswordHash, "$6$"))
}

func TestProvisionError(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.err = errors.New("groupadd: exit status 9")
	fs, chowns := newTestFS(t)

	_, err := New(accounts, fs).Provision(context.Background(), Request{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar"})
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "create group ragnar", perr.Step)
	assert.ErrorIs(t, err, accounts.err)
	assert.Empty(t, *chowns)
}

// TestProvisionFileBackend runs the full scenario against real account
// files: an image without a user for uid 1000.
func TestProvisionFileBackend(t *testing.T) {
	fs, chowns := newTestFS(t)
	etc, err := fs.EnsureDir("/etc", 0755)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(etc, "passwd"), []byte("root:x:0:0:root:/root:/bin/sh\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(etc, "group"), []byte("root:x:0:\n"), 0644))

	id, err := New(usermgr.New(fs), fs).Provision(context.Background(), Request{
		UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", DataDir: "/app/data",
	})
	require.NoError(t, err)
	assert.Equal(t, "/home/ragnar", id.Home)

	passwd, err := os.ReadFile(filepath.Join(etc, "passwd"))
	require.NoError(t, err)
	assert.Contains(t, string(passwd), "ragnar:x:1000:1000::/home/ragnar:/bin/sh\n")
	group, err := os.ReadFile(filepath.Join(etc, "group"))
	require.NoError(t, err)
	assert.Contains(t, string(group), "ragnar:x:1000:\n")

	data, _ := fs.Path("/app/data")
	assert.Contains(t, *chowns, chownCall{data, 1000, 1000})
}
