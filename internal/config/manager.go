package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "assistant/pkg/logx"
)

// Manager loads the config file and optionally watches it for changes.
//
// Watch() re-parses on write events and publishes the new config to the
// OnChange callback. Parse failures keep the last good config.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	log logx.Logger

	// onChange is invoked from the watch goroutine after a successful re-parse.
	onChange func(cfg *Config)
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetOnChange installs the hot-reload callback used by Watch().
func (m *Manager) SetOnChange(fn func(cfg *Config)) { m.onChange = fn }

func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, format, err := asJSON(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Load parses the file and commits it as the current config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Current returns the last committed config (nil before Load).
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch blocks until ctx is done, reloading the config on file changes.
// Editors often emit several write events per save; changes are debounced.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files via rename, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	base := filepath.Base(m.path)
	var debounce *time.Timer
	reload := func() {
		cfg, err := m.Load()
		if err != nil {
			m.log.Warn("config reload failed; keeping previous config", logx.Err(err))
			return
		}
		m.log.Info("config reloaded", logx.String("path", m.path))
		if m.onChange != nil {
			m.onChange(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = "Asia/Seoul"
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 2
	}
	if cfg.Scheduler.QueueSize <= 0 {
		cfg.Scheduler.QueueSize = 64
	}
	if cfg.Scheduler.MaxInstances <= 0 {
		cfg.Scheduler.MaxInstances = 3
	}
	if strings.TrimSpace(cfg.Scheduler.DefaultTimeout) == "" {
		cfg.Scheduler.DefaultTimeout = "30s"
	}
	if cfg.Notify.RatePerSec <= 0 {
		cfg.Notify.RatePerSec = 3
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
}

// asJSON funnels both supported formats through one strict decode path:
// YAML files are unmarshaled and re-marshaled as JSON so
// DisallowUnknownFields applies to them too. The returned format string
// names the source format for error messages.
func asJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(jsonSafe(v))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml to json: %w", err)
	}
	return j, "yaml", nil
}

// jsonSafe rewrites YAML's map[any]any nodes into map[string]any, which
// encoding/json refuses to marshal otherwise.
func jsonSafe(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[fmt.Sprint(k)] = jsonSafe(val)
		}
		return out
	case map[string]any:
		for k, val := range node {
			node[k] = jsonSafe(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = jsonSafe(val)
		}
		return node
	default:
		return v
	}
}

// ParseDurationOrDefault parses a Go duration string, returning def when the
// value is empty and an error naming the field when it is malformed.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	return d, nil
}
