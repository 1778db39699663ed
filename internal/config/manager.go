package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the freshly loaded config after a reload
type ChangeHandler func(cfg *Config)

// Manager watches the config file and hot-reloads tunable thresholds.
// Reloads that fail validation are discarded; the last good config stays
// in effect.
type Manager struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	current  *Config
	stopCh   chan struct{}
	mu       sync.RWMutex

	// Polling fallback for filesystems where fsnotify is unreliable
	pollInterval time.Duration
	lastMod      time.Time
}

// NewManager creates a config manager around an already loaded config
func NewManager(path string, initial *Config, logger *zap.Logger) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Manager{
		path:         path,
		logger:       logger,
		watcher:      watcher,
		current:      initial,
		stopCh:       make(chan struct{}),
		pollInterval: 30 * time.Second,
	}, nil
}

// Current returns the active configuration snapshot
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after each successful reload
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file for changes
func (m *Manager) Start() error {
	// Watch the directory; editors replace files rather than writing in place
	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return err
	}
	go m.watchLoop()
	return nil
}

// Stop terminates the watcher
func (m *Manager) Stop() {
	close(m.stopCh)
	_ = m.watcher.Close()
}

func (m *Manager) watchLoop() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				m.reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		case <-ticker.C:
			m.reload()
		}
	}
}

func (m *Manager) reload() {
	cfg, err := LoadFile(m.path)
	if err != nil {
		m.logger.Warn("Config reload rejected, keeping previous config",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", zap.String("path", m.path))
	for _, h := range handlers {
		h(cfg)
	}
}
