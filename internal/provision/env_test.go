package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironment(t *testing.T) {
	base := []string{"PATH=/usr/bin:/bin", "HOME=/root", "TERM=xterm", "USER=root"}
	id := Identity{UID: 1000, GID: 1000, User: "ragnar", Group: "ragnar", Home: "/home/ragnar"}

	env := Environment(id, "/app/.venv/bin", base)

	assert.Equal(t, []string{
		"TERM=xterm",
		"HOME=/home/ragnar",
		"USER=ragnar",
		"LOGNAME=ragnar",
		"XDG_CONFIG_HOME=/home/ragnar/.config",
		"XDG_DATA_HOME=/home/ragnar/.local/share",
		"XDG_CACHE_HOME=/home/ragnar/.cache",
		"PATH=/app/.venv/bin:/usr/bin:/bin",
	}, env)
	assert.Equal(t, "HOME=/root", base[1], "base is not modified")
}

func TestEnvironmentWithoutPath(t *testing.T) {
	env := Environment(Identity{User: "root", Home: "/root"}, "", nil)
	assert.Contains(t, env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
}

func TestMerge(t *testing.T) {
	env := Merge([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, env)
	assert.Equal(t, []string{"A=1"}, Merge([]string{"A=1"}, nil))
}
