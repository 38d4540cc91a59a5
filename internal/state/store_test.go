package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "state.yaml")
	s := NewStore(path)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	code := 143
	require.NoError(t, s.Update(func(st *Status) {
		st.PID = 1
		st.Identity = Identity{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", Home: "/home/ragnar"}
		st.Children = []Child{
			{Name: "ollama", PID: 12, State: "Exited", ExitCode: &code},
			{Name: "ragnar", PID: 13, State: "Running"},
		}
	}))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ragnar", got.Identity.User)
	require.Len(t, got.Children, 2)
	require.NotNil(t, got.Children[0].ExitCode)
	assert.Equal(t, 143, *got.Children[0].ExitCode)
	assert.Nil(t, got.Children[1].ExitCode)
	assert.True(t, s.now().Equal(got.UpdatedAt), got.UpdatedAt)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "state: Running")
	assert.NotContains(t, string(raw), "stop_reason")
}

func TestStoreMemoryOnly(t *testing.T) {
	s := NewStore("")
	require.NoError(t, s.Update(func(st *Status) { st.StopReason = "signal" }))
	assert.Equal(t, "signal", s.Get().StopReason)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore("")
	require.NoError(t, s.Update(func(st *Status) { st.Children = []Child{{Name: "a"}} }))
	got := s.Get()
	got.Children[0].Name = "b"
	assert.Equal(t, "a", s.Get().Children[0].Name)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
