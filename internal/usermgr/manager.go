package usermgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ragnarhq/ragnar-init/internal/hostfs"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")
)

// Manager edits the account databases directly. It satisfies the
// account backend used by provisioning when no shadow-utils are wanted.
type Manager struct {
	FS *hostfs.FS

	now func() time.Time
}

func New(fs *hostfs.FS) *Manager {
	return &Manager{FS: fs, now: time.Now}
}

func (m *Manager) loadPasswd() (*PasswdFile, error) {
	b, err := m.FS.ReadFile(hostfs.EtcPasswd)
	if err != nil {
		return nil, err
	}
	return ParsePasswd(b)
}

func (m *Manager) loadGroup() (*GroupFile, error) {
	b, err := m.FS.ReadFile(hostfs.EtcGroup)
	if err != nil {
		return nil, err
	}
	return ParseGroup(b)
}

// loadShadow tolerates a missing shadow file; some slim images ship without one.
func (m *Manager) loadShadow() (*ShadowFile, error) {
	b, err := m.FS.ReadFile(hostfs.EtcShadow)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return ParseShadow(b)
}

func (m *Manager) GroupByGID(_ context.Context, gid int) (*GroupEntry, error) {
	gr, err := m.loadGroup()
	if err != nil {
		return nil, err
	}
	g := gr.FindByGID(gid)
	if g == nil {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

func (m *Manager) UserByName(_ context.Context, name string) (*PasswdEntry, error) {
	pw, err := m.loadPasswd()
	if err != nil {
		return nil, err
	}
	pe := pw.Find(name)
	if pe == nil {
		return nil, ErrUserNotFound
	}
	return pe, nil
}

func (m *Manager) AddGroup(_ context.Context, name string, gid int) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid group name %q", name)
	}
	gr, err := m.loadGroup()
	if err != nil {
		return err
	}
	if err := gr.Add(GroupEntry{Name: name, Passwd: "x", GID: gid, Members: []string{}}); err != nil {
		return err
	}
	return m.FS.WriteFileAtomic(hostfs.EtcGroup, gr.Bytes(), m.perm(hostfs.EtcGroup, 0644))
}

func (m *Manager) AddUser(_ context.Context, req CreateUserRequest) error {
	if !ValidName(req.Username) {
		return fmt.Errorf("invalid username %q", req.Username)
	}
	pw, err := m.loadPasswd()
	if err != nil {
		return err
	}
	sh, err := m.loadShadow()
	if err != nil {
		return err
	}
	shell := req.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	if err := pw.Add(PasswdEntry{Name: req.Username, Passwd: "x", UID: req.UID, GID: req.GID, Home: req.Home, Shell: shell}); err != nil {
		return err
	}
	hash := req.PasswordHash
	if hash == "" {
		hash = "!"
	}
	if existing := sh.Find(req.Username); existing != nil {
		// Stale shadow line from an earlier, half-finished provisioning.
		existing.Hash = hash
	} else if err := sh.Add(m.newShadowEntry(req.Username, hash)); err != nil {
		return err
	}
	if err := m.FS.WriteFileAtomic(hostfs.EtcPasswd, pw.Bytes(), m.perm(hostfs.EtcPasswd, 0644)); err != nil {
		return err
	}
	return m.FS.WriteFileAtomic(hostfs.EtcShadow, sh.Bytes(), m.perm(hostfs.EtcShadow, 0600))
}

// ModifyUser changes the uid and primary gid of an existing account in place.
func (m *Manager) ModifyUser(_ context.Context, name string, uid, gid int) error {
	pw, err := m.loadPasswd()
	if err != nil {
		return err
	}
	pe := pw.Find(name)
	if pe == nil {
		return ErrUserNotFound
	}
	if pe.UID == uid && pe.GID == gid {
		return nil
	}
	pe.UID = uid
	pe.GID = gid
	return m.FS.WriteFileAtomic(hostfs.EtcPasswd, pw.Bytes(), m.perm(hostfs.EtcPasswd, 0644))
}

// PasswordHash returns the shadow hash of name, "" if it has no shadow entry.
func (m *Manager) PasswordHash(_ context.Context, name string) (string, error) {
	sh, err := m.loadShadow()
	if err != nil {
		return "", err
	}
	if e := sh.Find(name); e != nil {
		return e.Hash, nil
	}
	return "", nil
}

// SetPasswordHash replaces the shadow hash of an existing account, adding a
// shadow entry if there is none.
func (m *Manager) SetPasswordHash(_ context.Context, name, hash string) error {
	pw, err := m.loadPasswd()
	if err != nil {
		return err
	}
	if pw.Find(name) == nil {
		return ErrUserNotFound
	}
	sh, err := m.loadShadow()
	if err != nil {
		return err
	}
	if e := sh.Find(name); e != nil {
		e.Hash = hash
		e.LastChange = m.lastChange()
	} else if err := sh.Add(m.newShadowEntry(name, hash)); err != nil {
		return err
	}
	return m.FS.WriteFileAtomic(hostfs.EtcShadow, sh.Bytes(), m.perm(hostfs.EtcShadow, 0600))
}

func (m *Manager) newShadowEntry(name, hash string) ShadowEntry {
	return ShadowEntry{
		Name:       name,
		Hash:       hash,
		LastChange: m.lastChange(),
		Min:        "0",
		Max:        "99999",
		Warn:       "7",
	}
}

// lastChange is today in days since the epoch.
func (m *Manager) lastChange() string {
	return strconv.FormatInt(m.clock().Unix()/86400, 10)
}

func (m *Manager) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// perm keeps the existing mode of an account file, e.g. 0640 for a
// Debian /etc/shadow owned by group shadow.
func (m *Manager) perm(abs string, def os.FileMode) os.FileMode {
	p, err := m.FS.Path(abs)
	if err != nil {
		return def
	}
	st, err := os.Stat(p)
	if err != nil {
		return def
	}
	return st.Mode().Perm()
}
