package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type Manager struct {
	path string

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewManager() (*Manager, error) {
	log.Infof("Config manager: initializing configuration system...")

	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	config, err := LoadOrDefault()
	if err != nil {
		log.Errorf("Config manager: failed to load initial configuration: %v", err)
		return nil, err
	}
	if err := config.Validate(); err != nil {
		log.Warnf("Config manager: validation warning: %v", err)
	}

	return &Manager{path: configPath, config: config}, nil
}

// NewManagerForFile manages an explicit config file.
func NewManagerForFile(path string) (*Manager, error) {
	config, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{path: path, config: config}, nil
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modification
	return m.config.Clone()
}

// OnChange registers fn to receive every successfully reloaded config.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop(ctx)

	log.Infof("Config manager: watching %s for changes", m.path)
	return nil
}

func (m *Manager) Stop() {
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
}

func (m *Manager) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	configFileName := filepath.Base(m.path)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFileName {
				continue
			}
			// Only react to Write and Create events (ignore Chmod, Remove, etc.)
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				log.Infof("Config manager: file change detected: %s. Reloading config...", event.Name)
				m.reloadConfig()
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("Config watcher error: %v", err)

		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reloadConfig() {
	newConfig, err := LoadFile(m.path)
	if err != nil {
		log.Warnf("Config manager: failed to reload config: %v", err)
		return
	}
	if err := newConfig.Validate(); err != nil {
		log.Warnf("Config manager: invalid config after reload: %v", err)
		return
	}

	m.mu.Lock()
	m.config = newConfig
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.Unlock()

	log.Infof("Config manager: configuration successfully reloaded")
	for _, fn := range listeners {
		fn(m.GetConfig())
	}
}
