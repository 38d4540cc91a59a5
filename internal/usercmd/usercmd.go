package usercmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner invokes the shadow-utils account tools.
type Runner struct {
	Timeout time.Duration
	// Root is passed as --root when it is not "/".
	Root string

	// Command builds the process to run; nil means exec.CommandContext.
	Command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New(root string) *Runner {
	return &Runner{Timeout: 10 * time.Second, Root: root}
}

func (r *Runner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if r.Command != nil {
		return r.Command(ctx, name, args...)
	}
	return exec.CommandContext(ctx, name, args...)
}

func (r *Runner) rootArgs() []string {
	if r.Root == "" || r.Root == "/" {
		return nil
	}
	return []string{"--root", r.Root}
}

func (r *Runner) run(ctx context.Context, stdin []byte, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	args = append(r.rootArgs(), args...)
	cmd := r.command(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		s := strings.TrimSpace(stderr.String())
		if s == "" {
			return fmt.Errorf("%s %v: %w", name, args, err)
		}
		return fmt.Errorf("%s %v: %s", name, args, s)
	}
	return nil
}

func (r *Runner) GroupAdd(ctx context.Context, name string, gid int) error {
	return r.run(ctx, nil, "groupadd", "-g", strconv.Itoa(gid), name)
}

// UserAdd creates an account without a home directory; ownership of the
// home is handled by the caller. -o permits a uid shared with another account.
func (r *Runner) UserAdd(ctx context.Context, name string, uid, gid int, home, shell string) error {
	args := []string{"-o", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), "-M"}
	if home != "" {
		args = append(args, "-d", home)
	}
	if shell != "" {
		args = append(args, "-s", shell)
	}
	args = append(args, name)
	return r.run(ctx, nil, "useradd", args...)
}

func (r *Runner) UserMod(ctx context.Context, name string, uid, gid int) error {
	return r.run(ctx, nil, "usermod", "-o", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), name)
}

// SetPasswordHash stores an already hashed password; chpasswd -e reads
// "user:hash" lines from stdin.
func (r *Runner) SetPasswordHash(ctx context.Context, name, hash string) error {
	line := fmt.Sprintf("%s:%s\n", name, hash)
	return r.run(ctx, []byte(line), "chpasswd", "-e")
}
