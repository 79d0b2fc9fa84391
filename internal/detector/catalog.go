package detector

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ReloadStats contains statistics about catalog reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Catalog provides hot-reload capable signature pattern management.
// It maintains the compiled-in catalog and optionally watches an external
// YAML file for runtime updates. Reads are lock-free using atomic.Value.
type Catalog struct {
	embedded     []*Pattern   // Compiled-in catalog (immutable)
	current      atomic.Value // []*Pattern - atomic swap for lock-free reads
	externalPath string       // Path to external override file
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations
	stats        ReloadStats
	closed       bool
}

// NewCatalog creates a signature catalog.
// If externalPath is empty, only the compiled-in patterns are used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
func NewCatalog(externalPath string, hotReload bool) (*Catalog, error) {
	c := &Catalog{
		embedded:     BuiltinPatterns(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	c.current.Store(c.embedded)

	if externalPath != "" {
		if err := c.loadExternal(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to load external signature catalog, using builtin patterns")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Loaded external signature catalog")
		}

		if hotReload {
			if err := c.startWatcher(); err != nil {
				log.Warn().
					Err(err).
					Str("path", externalPath).
					Msg("Failed to start file watcher, hot-reload disabled")
			} else {
				log.Info().
					Str("path", externalPath).
					Msg("Hot-reload enabled for signature catalog")
			}
		}
	}

	return c, nil
}

// DefaultCatalog returns a catalog using only the compiled-in patterns
// (no external file, no hot-reload).
func DefaultCatalog() *Catalog {
	c := &Catalog{
		embedded: BuiltinPatterns(),
		stopCh:   make(chan struct{}),
	}
	c.current.Store(c.embedded)
	return c
}

// Patterns returns the current pattern set.
// This is a lock-free O(1) operation safe for concurrent use.
func (c *Catalog) Patterns() []*Pattern {
	return c.current.Load().([]*Pattern)
}

// Reload manually reloads patterns from the external file.
// On failure, the previous patterns remain in use.
func (c *Catalog) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.externalPath == "" {
		return fmt.Errorf("no external catalog path configured")
	}
	return c.loadExternalLocked()
}

// Stats returns the current reload statistics.
func (c *Catalog) Stats() ReloadStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher and cleans up resources.
// Safe to call multiple times.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()

	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func (c *Catalog) loadExternal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadExternalLocked()
}

// loadExternalLocked loads patterns from the external file.
// Must be called with c.mu held.
func (c *Catalog) loadExternalLocked() error {
	data, err := os.ReadFile(c.externalPath)
	if err != nil {
		c.stats.LastError = err
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	external, err := parseCatalog(data)
	if err != nil {
		c.stats.LastError = err
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}

	// External entries override builtin patterns by id; new ids append.
	merged := c.mergeWithEmbedded(external)
	c.current.Store(merged)

	c.stats.LastReloadTime = time.Now()
	c.stats.ReloadCount++
	c.stats.LastError = nil

	log.Info().
		Int64("reload_count", c.stats.ReloadCount).
		Int("patterns", len(merged)).
		Msg("Signature catalog hot-reloaded successfully")
	return nil
}

// catalogFile is the YAML schema of an external signature catalog.
type catalogFile struct {
	Patterns []catalogPattern `yaml:"patterns"`
}

type catalogPattern struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Strategy   string   `yaml:"strategy"`
	Confidence float64  `yaml:"confidence"`
	Indicators []string `yaml:"indicators"`
}

// parseCatalog parses YAML data and validates every pattern.
func parseCatalog(data []byte) ([]*Pattern, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("catalog must define at least one pattern")
	}

	patterns := make([]*Pattern, 0, len(file.Patterns))
	for i, p := range file.Patterns {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("pattern %d: id and name are required", i)
		}
		kind, err := parseKind(p.Kind)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.ID, err)
		}
		strategy, err := parseStrategy(p.Strategy)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.ID, err)
		}
		if p.Confidence <= 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("pattern %q: confidence %v outside (0, 1]", p.ID, p.Confidence)
		}
		if len(p.Indicators) == 0 {
			return nil, fmt.Errorf("pattern %q: no indicators", p.ID)
		}
		indicators, err := compileIndicators(p.Indicators)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.ID, err)
		}
		patterns = append(patterns, &Pattern{
			ID:             p.ID,
			Name:           p.Name,
			Kind:           kind,
			Strategy:       strategy,
			BaseConfidence: p.Confidence,
			Indicators:     indicators,
		})
	}
	return patterns, nil
}

// mergeWithEmbedded combines external patterns with the builtin catalog.
// External patterns replace builtin ones with the same id; the rest append.
func (c *Catalog) mergeWithEmbedded(external []*Pattern) []*Pattern {
	overrides := make(map[string]*Pattern, len(external))
	for _, p := range external {
		overrides[p.ID] = p
	}

	merged := make([]*Pattern, 0, len(c.embedded)+len(external))
	for _, p := range c.embedded {
		if override, ok := overrides[p.ID]; ok {
			merged = append(merged, override)
			delete(overrides, p.ID)
		} else {
			merged = append(merged, p)
		}
	}
	for _, p := range external {
		if _, pending := overrides[p.ID]; pending {
			merged = append(merged, p)
			delete(overrides, p.ID)
		}
	}
	return merged
}

// startWatcher starts the file watcher for hot-reload.
func (c *Catalog) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(c.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	c.watcher = watcher
	c.wg.Add(1)
	go c.watchFile()
	return nil
}

// watchFile watches for file changes and triggers reloads.
func (c *Catalog) watchFile() {
	defer c.wg.Done()

	// Debounce timer to coalesce rapid file changes
	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			// Only reload on write or create events
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Signature catalog file changed")

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := c.Reload(); err != nil {
						log.Warn().
							Err(err).
							Str("path", c.externalPath).
							Msg("Hot-reload failed, keeping previous catalog")
					}
					debouncing = false
				})
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-c.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
