// Package tenant decides which tenant ids the relay serves.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Reason explains a Validate decision.
type Reason string

const (
	ReasonOK        Reason = "ok"
	ReasonMissing   Reason = "missing"
	ReasonMalformed Reason = "malformed"
	ReasonUnknown   Reason = "unknown"
)

const (
	SourceEnv  = "env"
	SourceFile = "file"
	SourceOpen = "open"
)

// Options configures an Allowlist. Tenants and Path are mutually exclusive.
type Options struct {
	Tenants []string
	Path    string
	// DevOpen admits any well-formed tenant while the list is empty.
	DevOpen bool
	// Refresh re-reads Path at most this often. Zero disables reloads.
	Refresh time.Duration
	Now     func() time.Time
}

// Info describes the active list.
type Info struct {
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Count     int       `json:"count"`
	Tenants   []string  `json:"tenants"`
	LoadedAt  time.Time `json:"loaded_at"`
	LastError string    `json:"last_error,omitempty"`
}

type Allowlist struct {
	opts Options

	mu        sync.RWMutex
	set       map[uuid.UUID]struct{}
	version   int
	loadedAt  time.Time
	lastError string
}

func New(opts Options) (*Allowlist, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Path != "" && len(nonEmpty(opts.Tenants)) > 0 {
		return nil, fmt.Errorf("tenant allowlist: set either a list or a path, not both")
	}
	a := &Allowlist{opts: opts, set: map[uuid.UUID]struct{}{}}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the configured source. On error the previous list stays active.
func (a *Allowlist) Reload() error {
	raw := a.opts.Tenants
	if a.opts.Path != "" {
		data, err := os.ReadFile(a.opts.Path)
		if err != nil {
			return a.fail(fmt.Errorf("read tenant allowlist %q: %w", a.opts.Path, err))
		}
		raw, err = parseFile(a.opts.Path, data)
		if err != nil {
			return a.fail(err)
		}
	}

	set, err := parseIDs(raw)
	if err != nil {
		return a.fail(err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.version == 0 || !sameSet(a.set, set) {
		a.version++
	}
	a.set = set
	a.loadedAt = a.opts.Now()
	a.lastError = ""
	return nil
}

// Validate parses raw and reports whether the tenant is served.
func (a *Allowlist) Validate(raw string) (uuid.UUID, Reason) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ReasonMissing
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ReasonMalformed
	}
	if !a.Allowed(id) {
		return id, ReasonUnknown
	}
	return id, ReasonOK
}

// Allowed reports whether id is on the list, reloading first when due.
func (a *Allowlist) Allowed(id uuid.UUID) bool {
	a.maybeReload()

	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.set) == 0 {
		return a.opts.DevOpen
	}
	_, ok := a.set[id]
	return ok
}

func (a *Allowlist) Info() Info {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tenants := make([]string, 0, len(a.set))
	for id := range a.set {
		tenants = append(tenants, id.String())
	}
	sort.Strings(tenants)

	source := SourceEnv
	switch {
	case a.opts.Path != "":
		source = SourceFile
	case len(a.set) == 0 && a.opts.DevOpen:
		source = SourceOpen
	}
	return Info{
		Source:    source,
		Version:   a.version,
		Count:     len(a.set),
		Tenants:   tenants,
		LoadedAt:  a.loadedAt,
		LastError: a.lastError,
	}
}

func (a *Allowlist) maybeReload() {
	if a.opts.Path == "" || a.opts.Refresh <= 0 {
		return
	}
	a.mu.RLock()
	due := a.opts.Now().Sub(a.loadedAt) >= a.opts.Refresh
	a.mu.RUnlock()
	if due {
		_ = a.Reload()
	}
}

func (a *Allowlist) fail(err error) error {
	a.mu.Lock()
	a.lastError = err.Error()
	// The next reload waits a full refresh window.
	a.loadedAt = a.opts.Now()
	a.mu.Unlock()
	return err
}

type tenantsDoc struct {
	Tenants []string `json:"tenants" yaml:"tenants"`
}

func parseFile(path string, data []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if strings.HasPrefix(trimmed, "[") {
			var list []string
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, fmt.Errorf("parse tenant allowlist %q: %w", path, err)
			}
			return list, nil
		}
		var doc tenantsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse tenant allowlist %q: %w", path, err)
		}
		return doc.Tenants, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc tenantsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tenant allowlist %q: %w", path, err)
	}
	return doc.Tenants, nil
}

func parseIDs(raw []string) (map[uuid.UUID]struct{}, error) {
	set := make(map[uuid.UUID]struct{}, len(raw))
	for _, entry := range nonEmpty(raw) {
		id, err := uuid.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("tenant allowlist entry %q is not a uuid", entry)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sameSet(a, b map[uuid.UUID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
