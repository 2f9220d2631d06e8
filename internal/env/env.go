package env

import (
	"os"
	"sort"
	"strings"
)

// Fixed variable names the backend reads at startup.
const (
	RclonePathKey = "CLOUDSYNC_RCLONE_PATH"
	PortKey       = "CLOUDSYNC_PORT"
)

type Vars map[string]string

// Env composes a child process environment from a base (normally the OS
// environment), optional extra "K=V" entries and forced overrides.
type Env struct {
	base  Vars
	extra Vars
}

func New() *Env { return &Env{extra: make(Vars)} }

// FromOS snapshots os.Environ as the base.
func FromOS() *Env {
	e := New()
	e.base = Parse(os.Environ())
	return e
}

// WithBase replaces the base; used by tests to avoid depending on the host env.
func (e *Env) WithBase(kvs []string) *Env {
	e.base = Parse(kvs)
	return e
}

// Add applies "K=V" entries on top of the base. Malformed entries are skipped.
func (e *Env) Add(kvs []string) *Env {
	for k, v := range Parse(kvs) {
		e.extra[k] = v
	}
	return e
}

// Build returns the environment as a sorted "K=V" slice. Extra values may
// reference other variables as ${NAME}. References resolve in one pass
// against the base plus the unexpanded extras, and a variable naming itself
// (PATH=/opt/bin:${PATH}) sees the base value. Overrides are applied last and
// are never expanded, so a path containing "${" survives untouched.
func (e *Env) Build(overrides Vars) []string {
	view := make(Vars, len(e.base)+len(e.extra))
	for k, v := range e.base {
		view[k] = v
	}
	for k, v := range e.extra {
		view[k] = v
	}
	m := make(Vars, len(view)+len(overrides))
	for k, v := range view {
		m[k] = v
	}
	for k, v := range e.extra {
		m[k] = expand(v, func(name string) string {
			if name == k {
				return e.base[name]
			}
			return view[name]
		})
	}
	for k, v := range overrides {
		if k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Parse converts "K=V" entries to a map; later entries win.
func Parse(kvs []string) Vars {
	m := make(Vars, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// Lookup finds key in a "K=V" slice.
func Lookup(kvs []string, key string) (string, bool) {
	prefix := key + "="
	for i := len(kvs) - 1; i >= 0; i-- {
		if strings.HasPrefix(kvs[i], prefix) {
			return kvs[i][len(prefix):], true
		}
	}
	return "", false
}

func expand(s string, lookup func(string) string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, lookup)
}
