package userscript

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/pagehook/internal/metrics"
	"github.com/Rorqualx/pagehook/internal/types"
)

// maxScriptsFileSize bounds the scripts file read from disk.
const maxScriptsFileSize = 8 * 1024 * 1024

// File is the on-disk layout of the scripts file.
type File struct {
	Scripts []Record `yaml:"scripts"`
}

// ReloadStats describes scripts file reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	ScriptCount    int       `json:"scriptCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager holds the configured script list. Reads are lock-free; the list is
// replaced wholesale on reload so a reader always sees a consistent set.
type Manager struct {
	current atomic.Value // []Script
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex // serialises reloads and Close
	stats   ReloadStats
	closed  bool
}

// NewManager creates a Manager. With an empty path the manager serves the
// given static scripts only. A file that fails to load is logged and the
// static scripts are served until a later reload succeeds.
func NewManager(path string, hotReload bool, static ...Script) (*Manager, error) {
	m := &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
	m.current.Store(append([]Script(nil), static...))
	metrics.UpdateScriptsLoaded(len(static))

	if path == "" {
		return m, nil
	}

	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Msg("Failed to load scripts file, continuing without it")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to watch scripts file, hot-reload disabled")
		} else {
			log.Info().Str("path", path).Msg("Hot-reload enabled for scripts file")
		}
	}

	return m, nil
}

// Scripts returns the current scripts in configured order.
// The returned slice must not be modified.
func (m *Manager) Scripts() []Script {
	return m.current.Load().([]Script)
}

// Reload re-reads the scripts file. On failure the previous list stays in use.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return fmt.Errorf("%w: no scripts file configured", types.ErrScriptsNotReloaded)
	}

	scripts, err := loadFile(m.path)
	if err != nil {
		m.stats.LastError = err
		return err
	}

	m.current.Store(scripts)
	metrics.UpdateScriptsLoaded(len(scripts))
	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.ScriptCount = len(scripts)
	m.stats.LastError = nil

	log.Info().
		Int("scripts", len(scripts)).
		Int64("reload_count", m.stats.ReloadCount).
		Msg("Scripts file loaded")
	return nil
}

// Stats returns reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Parse decodes a scripts file.
func Parse(data []byte) ([]Script, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	for i, r := range f.Scripts {
		if r.Source == "" {
			return nil, fmt.Errorf("scripts[%d]: source is required", i)
		}
	}
	return FromRecords(f.Scripts), nil
}

func loadFile(path string) ([]Script, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scripts file: %w", err)
	}
	if info.Size() > maxScriptsFileSize {
		return nil, fmt.Errorf("scripts file exceeds %d bytes", maxScriptsFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts file: %w", err)
	}

	scripts, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scripts file: %w", err)
	}
	return scripts, nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	m.watcher = watcher
	m.wg.Add(1)
	go m.watch()
	return nil
}

// watch reloads on write/create events, coalescing bursts of events.
func (m *Manager) watch() {
	defer m.wg.Done()

	const debounceDelay = 100 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Scripts file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				if err := m.Reload(); err != nil {
					log.Warn().
						Err(err).
						Str("path", m.path).
						Msg("Hot-reload failed, keeping previous scripts")
				}
			})

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Scripts file watcher error")

		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
