package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "finflow/pkg/logx"
)

// debounceDelay absorbs the event bursts editors produce on save (truncate,
// write, chmod, rename) so a reload sees the finished file.
const debounceDelay = 250 * time.Millisecond

// Manager loads the daemon config, hands out the current snapshot, and
// pushes validated updates to subscribers when the file changes on disk.
type Manager struct {
	path string

	mu  sync.RWMutex
	cfg *Config
	// lastHash is the content hash of the last committed config, used to
	// skip publishes when a write event carried no effective change.
	lastHash uint64

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the hook Watch runs before committing a changed
// file. A rejected config never replaces the running one.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the config file without committing it.
// Unknown keys and trailing tokens are errors.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Load parses and commits in one step. Used at startup.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

// publish best-effort delivers the latest config to every subscriber. A full
// buffer sheds its oldest entry first; what matters is that the newest
// snapshot arrives, not every intermediate one.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)",
				logx.Int("queue_len", len(ch)),
				logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload re-parses the file and, when the content actually changed and
// passes validation, commits and publishes it. Parse and validation
// failures leave the running config untouched.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded from disk",
		logx.String("path", m.path),
		logx.String("hash", fmt.Sprintf("%x", h)))
}

// Watch follows the config file until ctx ends. The directory (not the
// file) is watched so atomic-rename saves keep working, and a broken
// watcher is recreated with jittered backoff rather than giving up.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	retry := newBackoff(250*time.Millisecond, 5*time.Second)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		timer = time.AfterFunc(debounceDelay, func() { m.reload(ctx) })
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !retry.sleep(ctx) {
				return nil
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			m.log.Warn("config watch add failed", logx.Err(err), logx.String("dir", dir))
			if !retry.sleep(ctx) {
				return nil
			}
			continue
		}

		retry.reset()
		m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		m.watchEvents(ctx, w, file, debounce)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir))
		if !retry.sleep(ctx) {
			return nil
		}
	}
	return nil
}

// watchEvents consumes one watcher until it breaks or ctx ends.
func (m *Manager) watchEvents(ctx context.Context, w *fsnotify.Watcher, file string, debounce func()) {
	const opMask = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Basename comparison is robust across absolute/relative paths.
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&opMask != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events were missed; reload once and keep going.
			if strings.Contains(msg, "overflow") {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				debounce()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			// Some fsnotify backends surface watcher closure as an error.
			if strings.Contains(msg, "closed") {
				return
			}
		}
	}
}

// backoff is a jittered exponential delay for watcher restarts.
type backoff struct {
	cur, base, max time.Duration
	rng            *rand.Rand
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{
		cur:  base,
		base: base,
		max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *backoff) reset() { b.cur = b.base }

// sleep waits the current delay plus jitter, doubling the delay up to max.
// Returns false when ctx ended during the wait.
func (b *backoff) sleep(ctx context.Context) bool {
	wait := b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
	if b.cur < b.max {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
