package hostfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

var ErrInvalidPath = errors.New("invalid host path")

// FS maps absolute container paths onto Root.
type FS struct {
	Root string

	// Chown is used for ownership changes; nil means os.Lchown.
	Chown func(path string, uid, gid int) error
}

// New returns an FS rooted at root ("" means "/").
func New(root string) *FS {
	if strings.TrimSpace(root) == "" {
		root = "/"
	}
	return &FS{Root: filepath.Clean(root)}
}

// Path maps an absolute path (e.g. /home/ragnar) under Root.
func (f *FS) Path(abs string) (string, error) {
	if abs == "" || !strings.HasPrefix(abs, "/") {
		return "", ErrInvalidPath
	}
	clean := filepath.Clean(abs)
	root := f.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, strings.TrimPrefix(clean, "/")), nil
}

// EnsureDir creates abs (and parents) under Root and forces its mode.
func (f *FS) EnsureDir(abs string, perm os.FileMode) (string, error) {
	p, err := f.Path(abs)
	if err != nil {
		return "", err
	}
	m := muFor(p)
	m.Lock()
	defer m.Unlock()
	if err := os.MkdirAll(p, perm); err != nil {
		return "", err
	}
	// MkdirAll is subject to umask and leaves existing dirs alone.
	if err := os.Chmod(p, perm); err != nil {
		return "", err
	}
	return p, nil
}

// MkdirIfMissing creates abs with perm if it does not exist; an existing
// directory keeps its mode.
func (f *FS) MkdirIfMissing(abs string, perm os.FileMode) (string, error) {
	p, err := f.Path(abs)
	if err != nil {
		return "", err
	}
	if st, err := os.Stat(p); err == nil {
		if !st.IsDir() {
			return "", &fs.PathError{Op: "mkdir", Path: p, Err: syscall.ENOTDIR}
		}
		return p, nil
	}
	return f.EnsureDir(abs, perm)
}

// Lchown changes ownership of abs itself.
func (f *FS) Lchown(abs string, uid, gid int) error {
	p, err := f.Path(abs)
	if err != nil {
		return err
	}
	if err := f.chown()(p, uid, gid); err != nil {
		return &fs.PathError{Op: "chown", Path: p, Err: err}
	}
	return nil
}

func (f *FS) chown() func(string, int, int) error {
	if f.Chown != nil {
		return f.Chown
	}
	return os.Lchown
}

// ChownTree changes ownership of abs and everything below it.
// Symlinks are changed themselves, never followed.
func (f *FS) ChownTree(abs string, uid, gid int) error {
	p, err := f.Path(abs)
	if err != nil {
		return err
	}
	chown := f.chown()
	return filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := chown(path, uid, gid); err != nil {
			return &fs.PathError{Op: "chown", Path: path, Err: err}
		}
		return nil
	})
}
