package supervisor

import (
	"bytes"
	"context"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTYChild(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	ptmx.Close()
	tty.Close()

	var out bytes.Buffer
	app := sh("app", `[ -t 1 ] && echo tty || echo notty`)
	app.TTY = true
	s := newTestSupervisor(sh("serving", "sleep 30"), app)
	s.Stdout = &out

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, out.String(), "tty\r\n")
	assert.NotContains(t, out.String(), "notty")
}
