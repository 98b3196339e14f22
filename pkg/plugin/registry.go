package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	xerrors "hostpanel/internal/errors"
)

// State is the durable slice of a registry entry: the enabled flag and the
// configuration blob. Field schemas are never persisted; they are re-derived
// from the loaded plugin on every read.
type State struct {
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config"`
}

// StateStore persists one State per plugin id.
type StateStore interface {
	Get(ctx context.Context, id string) (State, bool, error)
	Save(ctx context.Context, id string, state State) error
}

// LoadFailure records why one plugin was refused admission during a rebuild.
type LoadFailure struct {
	Source string
	Err    error
}

// Entry is the public view of one catalogued plugin.
type Entry struct {
	Manifest Manifest `json:"manifest"`
	Enabled  bool     `json:"enabled"`
}

type entry struct {
	instance *Instance
	enabled  bool
	config   map[string]any
}

// catalog is an immutable snapshot. Writers build a replacement and swap the
// registry pointer; readers never observe a partially rebuilt state.
type catalog struct {
	entries  map[string]*entry
	order    []string
	failures []LoadFailure
}

// Config describes how a Registry discovers plugins and persists state.
type Config struct {
	// Dirs are the roots scanned for plugin directories on reload.
	Dirs []string
	// Store persists enabled flags and configuration blobs.
	Store StateStore
}

// RegistryOption modifies the behaviour of a Registry instance.
type RegistryOption func(*Registry)

// WithLoader overrides the default disk loader implementation.
func WithLoader(loader Loader) RegistryOption {
	return func(r *Registry) {
		if loader != nil {
			r.loader = loader
		}
	}
}

// WithBuiltins registers compiled-in plugin candidates that are validated and
// admitted on every reload alongside the plugins discovered on disk.
func WithBuiltins(candidates ...any) RegistryOption {
	return func(r *Registry) {
		r.builtins = append(r.builtins, candidates...)
	}
}

// WithLogger sets the logger used for per-plugin load reporting.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// Registry is the process-wide catalog of validated plugins. It is the sole
// path by which the rest of the system discovers plugin instances.
type Registry struct {
	dirs     []string
	store    StateStore
	loader   Loader
	builtins []any
	log      *slog.Logger

	mu      sync.Mutex // serialises catalog writers
	current atomic.Pointer[catalog]
	reload  singleflight.Group
}

// New constructs an empty registry. Call Reload to populate it.
func New(cfg Config, opts ...RegistryOption) (*Registry, error) {
	if cfg.Store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "registry requires a state store")
	}
	r := &Registry{
		dirs:   cfg.Dirs,
		store:  cfg.Store,
		loader: DiskLoader{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&catalog{entries: map[string]*entry{}})
	return r, nil
}

// Reload re-runs discovery and validation over the configured plugin roots
// and atomically replaces the catalog. Plugins that disappeared from disk are
// dropped; plugins that fail validation are reported and excluded. Concurrent
// calls are coalesced into a single rebuild.
func (r *Registry) Reload(ctx context.Context) ([]LoadFailure, error) {
	v, err, _ := r.reload.Do("reload", func() (any, error) {
		cat, err := r.build(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.current.Store(cat)
		r.mu.Unlock()
		return cat.failures, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]LoadFailure), nil
}

func (r *Registry) build(ctx context.Context) (*catalog, error) {
	cat := &catalog{entries: map[string]*entry{}}

	for _, candidate := range r.builtins {
		inst, err := Validate(candidate, "builtin")
		if err != nil {
			cat.failures = append(cat.failures, LoadFailure{Source: "builtin", Err: err})
			continue
		}
		r.admit(cat, inst, "builtin")
	}

	for _, root := range r.dirs {
		listing, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan plugin root "+root)
		}
		for _, dirEntry := range listing {
			if !dirEntry.IsDir() {
				continue
			}
			dir := filepath.Join(root, dirEntry.Name())
			inst, err := r.loader.Load(dir)
			if err != nil {
				cat.failures = append(cat.failures, LoadFailure{Source: dir, Err: err})
				r.log.Warn("plugin rejected", "dir", dir, "error", err)
				continue
			}
			r.admit(cat, inst, dir)
		}
	}

	// Hydrate persisted enabled flags and configuration. A storage failure
	// aborts the whole rebuild so callers keep the previous catalog.
	for _, id := range cat.order {
		e := cat.entries[id]
		st, found, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load state for plugin "+id)
		}
		if found {
			e.enabled = st.Enabled
			e.config = cloneConfig(st.Config)
		}
		if err := configure(e.instance, e.config); err != nil {
			delete(cat.entries, id)
			cat.failures = append(cat.failures, LoadFailure{Source: id, Err: err})
			r.log.Warn("plugin rejected its configuration", "plugin", id, "error", err)
		}
	}
	cat.order = cat.order[:0]
	for id := range cat.entries {
		cat.order = append(cat.order, id)
	}
	sort.Strings(cat.order)
	return cat, nil
}

func (r *Registry) admit(cat *catalog, inst *Instance, source string) {
	id := inst.Manifest.ID
	if _, exists := cat.entries[id]; exists {
		cat.failures = append(cat.failures, LoadFailure{
			Source: source,
			Err:    xerrors.Newf(xerrors.CodeConflict, "duplicate plugin id %q", id),
		})
		return
	}
	cat.entries[id] = &entry{instance: inst}
	cat.order = append(cat.order, id)
}

func configure(inst *Instance, cfg map[string]any) error {
	c, ok := inst.Value().(Configurable)
	if !ok || cfg == nil {
		return nil
	}
	if err := c.Configure(cloneConfig(cfg)); err != nil {
		return xerrors.Wrap(xerrors.CodePluginFault, err, "configure plugin "+inst.Manifest.ID)
	}
	return nil
}

// All returns every catalogued plugin with its enabled flag, disabled ones
// included. Plugins that failed validation never entered the catalog.
func (r *Registry) All() []Entry {
	cat := r.current.Load()
	out := make([]Entry, 0, len(cat.order))
	for _, id := range cat.order {
		e := cat.entries[id]
		out = append(out, Entry{Manifest: e.instance.Manifest, Enabled: e.enabled})
	}
	return out
}

// Failures reports the per-plugin failures recorded by the last rebuild.
func (r *Registry) Failures() []LoadFailure {
	cat := r.current.Load()
	out := make([]LoadFailure, len(cat.failures))
	copy(out, cat.failures)
	return out
}

// ByID returns the entry for a plugin regardless of its enabled state.
func (r *Registry) ByID(id string) (Entry, bool) {
	e, ok := r.current.Load().entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Manifest: e.instance.Manifest, Enabled: e.enabled}, true
}

// InstanceOf returns the live instance for a plugin regardless of enabled
// state, for settings/issue introspection in admin surfaces.
func (r *Registry) InstanceOf(id string) (*Instance, bool) {
	e, ok := r.current.Load().entries[id]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// Gateways returns every enabled gateway plugin.
func (r *Registry) Gateways() []GatewayPlugin {
	cat := r.current.Load()
	var out []GatewayPlugin
	for _, id := range cat.order {
		e := cat.entries[id]
		if e.enabled && e.instance.Gateway != nil {
			out = append(out, e.instance.Gateway)
		}
	}
	return out
}

// Services returns every enabled service plugin.
func (r *Registry) Services() []ServicePlugin {
	cat := r.current.Load()
	var out []ServicePlugin
	for _, id := range cat.order {
		e := cat.entries[id]
		if e.enabled && e.instance.Service != nil {
			out = append(out, e.instance.Service)
		}
	}
	return out
}

// Gateway returns the enabled gateway with the given id, or nil when the id
// is unknown, disabled, or names a plugin of another kind.
func (r *Registry) Gateway(id string) GatewayPlugin {
	e, ok := r.current.Load().entries[id]
	if !ok || !e.enabled {
		return nil
	}
	return e.instance.Gateway
}

// Service returns the enabled service plugin with the given id, or nil when
// the id is unknown, disabled, or names a plugin of another kind.
func (r *Registry) Service(id string) ServicePlugin {
	e, ok := r.current.Load().entries[id]
	if !ok || !e.enabled {
		return nil
	}
	return e.instance.Service
}

// Enable marks a plugin enabled. Enabling an already enabled plugin is a
// no-op success.
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, true)
}

// Disable hides a plugin from the typed getters without touching its stored
// configuration.
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cat := r.current.Load()
	e, ok := cat.entries[id]
	if !ok {
		return xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id)
	}
	if e.enabled == enabled {
		return nil
	}
	if err := r.store.Save(ctx, id, State{Enabled: enabled, Config: e.config}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist enabled flag for "+id)
	}
	r.current.Store(cat.withEntry(id, &entry{instance: e.instance, enabled: enabled, config: e.config}))
	return nil
}

// Config returns the stored configuration blob with secret settings masked
// per the plugin's settings schema.
func (r *Registry) Config(ctx context.Context, id string) (map[string]any, error) {
	e, ok := r.current.Load().entries[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id)
	}
	if e.config == nil {
		return nil, nil
	}
	return MaskSecrets(e.instance.Value(), e.config), nil
}

// UpdateConfig merges a partial configuration into the stored blob,
// reconfigures the live instance, persists the result, and returns it with
// secrets masked. Merge is last-write-wins per key; keys absent from the
// partial update are kept. A configuration the plugin refuses is neither
// persisted nor published, mirroring the reload-time admission check.
func (r *Registry) UpdateConfig(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cat := r.current.Load()
	e, ok := cat.entries[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "plugin %s is not registered", id)
	}
	merged := cloneConfig(e.config)
	if merged == nil {
		merged = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		merged[k] = v
	}
	if err := configure(e.instance, merged); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, id, State{Enabled: e.enabled, Config: merged}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "persist config for "+id)
	}
	next := &entry{instance: e.instance, enabled: e.enabled, config: merged}
	r.current.Store(cat.withEntry(id, next))
	return MaskSecrets(e.instance.Value(), merged), nil
}

// withEntry returns a copy of the catalog with one entry replaced.
func (c *catalog) withEntry(id string, e *entry) *catalog {
	next := &catalog{
		entries:  make(map[string]*entry, len(c.entries)),
		order:    c.order,
		failures: c.failures,
	}
	for k, v := range c.entries {
		next.entries[k] = v
	}
	next.entries[id] = e
	return next
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
