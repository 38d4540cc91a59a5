package provision

import (
	"path"
	"sort"
	"strings"
)

// Environment builds the environment for children running as id. base is
// typically os.Environ(); it is copied, never modified. Keys set here
// replace any existing entry rather than being appended twice.
func Environment(id Identity, binDir string, base []string) []string {
	basePath := lookup(base, "PATH")
	if basePath == "" {
		basePath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	pathVal := basePath
	if binDir != "" {
		pathVal = binDir + ":" + basePath
	}

	set := []struct{ key, val string }{
		{"HOME", id.Home},
		{"USER", id.User},
		{"LOGNAME", id.User},
		{"XDG_CONFIG_HOME", path.Join(id.Home, ".config")},
		{"XDG_DATA_HOME", path.Join(id.Home, ".local/share")},
		{"XDG_CACHE_HOME", path.Join(id.Home, ".cache")},
		{"PATH", pathVal},
	}
	override := make(map[string]bool, len(set))
	for _, kv := range set {
		override[kv.key] = true
	}

	env := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if override[k] {
			continue
		}
		env = append(env, kv)
	}
	for _, kv := range set {
		env = append(env, kv.key+"="+kv.val)
	}
	return env
}

// Merge returns env with extra applied on top, replacing existing keys.
func Merge(env []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return env
	}
	out := make([]string, 0, len(env)+len(extra))
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

func lookup(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(env[i], "="); ok && k == key {
			return v
		}
	}
	return ""
}
