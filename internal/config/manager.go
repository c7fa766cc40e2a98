package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is invoked with the freshly validated config after a
// successful reload.
type ChangeHandler func(*Config)

// Manager holds the live configuration and hot-reloads it when the config
// file changes. A reload that fails to parse or validate is logged and
// dropped; the previous config stays active.
type Manager struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *Config
	handlers []ChangeHandler
}

// NewManager loads the initial configuration from path and prepares a
// watcher. Call Start to begin watching.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Manager{
		path:    path,
		logger:  logger,
		watcher: w,
		stopCh:  make(chan struct{}),
		current: cfg,
	}, nil
}

// Current returns the live configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file. No-op when the manager was built
// without a file path.
func (m *Manager) Start() error {
	if m.path == "" {
		return nil
	}
	if err := m.watcher.Add(m.path); err != nil {
		return fmt.Errorf("watch config %s: %w", m.path, err)
	}
	go m.watchLoop()
	m.logger.Info("Config hot-reload enabled", zap.String("path", m.path))
	return nil
}

// Stop stops the watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.watcher.Close()
	})
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
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
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.logger.Info("Config reloaded",
		zap.Float64("blend_weight", cfg.Research.BlendWeight),
		zap.Int("max_parallel_workers", cfg.Research.MaxParallelWorkers),
	)
	for _, h := range handlers {
		h(cfg)
	}
}
