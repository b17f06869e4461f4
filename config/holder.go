// Package config provides configuration loading and hot reload.
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce coalesces the bursts of events editors emit for one save.
const watchDebounce = 100 * time.Millisecond

// Holder keeps the current configuration of one file and swaps it on
// reload. Listeners registered with OnChange see every accepted config.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	digest   [sha256.Size]byte
	onChange []func(*Config)

	path   string
	logger zerolog.Logger

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it. Watching starts with
// WatchFile or WatchSignals.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, digest, err := loadDigest(absPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		config: cfg,
		digest: digest,
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

func loadDigest(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}

// Path returns the absolute path of the config file.
func (h *Holder) Path() string { return h.path }

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload reads the file again and notifies listeners. An invalid file keeps
// the current configuration and returns the error.
func (h *Holder) Reload() error {
	_, err := h.reload(true)
	return err
}

// reload swaps in the file's configuration. Unless force is set, a file
// whose bytes did not change is ignored.
func (h *Holder) reload(force bool) (bool, error) {
	cfg, digest, err := loadDigest(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		return false, fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	if !force && digest == h.digest {
		h.mu.Unlock()
		return false, nil
	}
	old := h.config
	h.config = cfg
	h.digest = digest
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(old, cfg)
	for _, fn := range listeners {
		fn(cfg)
	}
	return true, nil
}

// OnChange registers fn to run after every accepted reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile reloads whenever the file's content changes on disk. The
// directory is watched so atomic saves (rename over the file) are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop(watcher)

	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP received")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(watcher *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if changed, err := h.reload(false); err == nil && changed {
				h.logger.Info().Str("path", h.path).Msg("config reloaded from file change")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Changes lists the spec names a reload added, removed or modified.
type Changes struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether no spec changed.
func (c Changes) Empty() bool {
	return len(c.Added)+len(c.Removed)+len(c.Modified) == 0
}

// DiffSpecs compares the specs of two configurations by name.
func DiffSpecs(old, new *Config) Changes {
	var c Changes
	for _, name := range sortedKeys(new.Specs) {
		prev, ok := old.Specs[name]
		switch {
		case !ok:
			c.Added = append(c.Added, name)
		case !reflect.DeepEqual(prev, new.Specs[name]):
			c.Modified = append(c.Modified, name)
		}
	}
	for _, name := range sortedKeys(old.Specs) {
		if _, ok := new.Specs[name]; !ok {
			c.Removed = append(c.Removed, name)
		}
	}
	return c
}

func (h *Holder) logChanges(old, new *Config) {
	if c := DiffSpecs(old, new); !c.Empty() {
		h.logger.Info().
			Strs("added", c.Added).
			Strs("removed", c.Removed).
			Strs("modified", c.Modified).
			Msg("specs changed")
	}
	if !reflect.DeepEqual(old.Sessions, new.Sessions) || !reflect.DeepEqual(old.Schemas, new.Schemas) {
		h.logger.Info().
			Int("sessions", len(new.Sessions)).
			Int("schemas", len(new.Schemas)).
			Msg("sessions or schemas changed")
	}
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().Str("old", old.Logging.Level).Str("new", new.Logging.Level).Msg("log level changed")
	}

	restart := map[string]bool{
		"cache.driver":    old.Cache.Driver != new.Cache.Driver,
		"cache.dsn":       old.Cache.DSN != new.Cache.DSN,
		"logging.format":  old.Logging.Format != new.Logging.Format,
		"metrics.enabled": old.Metrics.Enabled != new.Metrics.Enabled,
	}
	for _, field := range NonReloadableFields() {
		if restart[field] {
			h.logger.Warn().Str("field", field).Msg("change takes effect after restart")
		}
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"specs",
		"schemas",
		"sessions",
		"cache.ttl",
		"cache.stale_if_error",
		"logging.level",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"cache.driver",
		"cache.dsn",
		"logging.format",
		"metrics.enabled",
	}
}
