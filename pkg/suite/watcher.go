package suite

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/testfleet/pkg/observability"
)

// ChangeType describes the kind of file change observed.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
)

const (
	defaultMaxHistory = 100
	defaultDebounce   = 250 * time.Millisecond
)

// Change records a change to a suite file. Path is relative to the
// manifest's base path.
type Change struct {
	Path    string
	Type    ChangeType
	ModTime time.Time
}

// ChangeHandler receives one debounced batch of matching changes.
type ChangeHandler func(batch []Change)

// Subscription binds a pattern to a handler.
type Subscription struct {
	ID      string
	Pattern string
	Handler ChangeHandler
}

// Watcher reports changes to the files a manifest covers. Bursts of events
// (editors often write a file several times) are coalesced into one batch
// per quiet period.
type Watcher struct {
	manifest *Manifest
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *observability.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	recentChanges []Change
	maxHistory    int
}

// NewWatcher watches every directory the manifest's patterns can match in.
func NewWatcher(m *Manifest, debounce time.Duration, logger *observability.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		manifest:      m,
		fsw:           fsw,
		debounce:      debounce,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		maxHistory:    defaultMaxHistory,
	}
	for _, dir := range w.watchDirs() {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchDirs returns the static directory prefix of every pattern plus the
// directory of every file the manifest currently matches.
func (w *Watcher) watchDirs() []string {
	dirs := map[string]bool{w.manifest.BasePath: true}
	for _, pattern := range w.manifest.Patterns() {
		dir := staticDir(pattern)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(w.manifest.BasePath, dir)
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs[dir] = true
		}
		matches, _ := filepath.Glob(filepath.Join(w.manifest.BasePath, filepath.FromSlash(pattern)))
		for _, match := range matches {
			dirs[filepath.Dir(match)] = true
		}
	}
	out := make([]string, 0, len(dirs))
	for dir := range dirs {
		out = append(out, dir)
	}
	return out
}

// staticDir returns the part of pattern before its first glob element.
func staticDir(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	static := make([]string, 0, len(parts))
	for _, part := range parts[:len(parts)-1] {
		if strings.ContainsAny(part, "*?[") {
			break
		}
		static = append(static, part)
	}
	if len(static) == 0 {
		return "."
	}
	return filepath.FromSlash(strings.Join(static, "/"))
}

// Subscribe registers a handler for changes matching a glob pattern. An
// empty pattern matches everything.
func (w *Watcher) Subscribe(pattern string, handler ChangeHandler) string {
	if handler == nil {
		return ""
	}
	id := ulid.Make().String()
	w.mu.Lock()
	w.subscriptions[id] = &Subscription{ID: id, Pattern: strings.TrimSpace(pattern), Handler: handler}
	w.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	delete(w.subscriptions, id)
	w.mu.Unlock()
}

// RecentChanges returns the most recent changes (newest first).
func (w *Watcher) RecentChanges(limit int) []Change {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if limit <= 0 || limit > len(w.recentChanges) {
		limit = len(w.recentChanges)
	}
	out := make([]Change, 0, limit)
	for i := len(w.recentChanges) - 1; i >= len(w.recentChanges)-limit; i-- {
		out = append(out, w.recentChanges[i])
	}
	return out
}

// Run processes filesystem events until ctx ends or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var pending []Change
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			change, ok := w.translate(ev)
			if !ok {
				continue
			}
			pending = append(pending, change)
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("file watch overflow, changes may be missed")
				continue
			}
			w.logger.Warn("file watch error", slog.String("error", err.Error()))
		case <-timer.C:
			w.notify(coalesce(pending))
			pending = nil
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) translate(ev fsnotify.Event) (Change, bool) {
	var typ ChangeType
	switch {
	case ev.Has(fsnotify.Create):
		typ = ChangeCreated
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New directories may hold files a pattern will match.
			_ = w.fsw.Add(ev.Name)
			return Change{}, false
		}
	case ev.Has(fsnotify.Write):
		typ = ChangeModified
	case ev.Has(fsnotify.Remove):
		typ = ChangeDeleted
	case ev.Has(fsnotify.Rename):
		typ = ChangeRenamed
	default:
		return Change{}, false
	}

	rel := w.manifest.relative(ev.Name)
	if !w.covered(rel) {
		return Change{}, false
	}
	change := Change{Path: rel, Type: typ}
	if info, err := os.Stat(ev.Name); err == nil {
		change.ModTime = info.ModTime()
	}
	return change, true
}

func (w *Watcher) covered(rel string) bool {
	if w.manifest.excluded(rel) {
		return false
	}
	for _, pattern := range w.manifest.Patterns() {
		if matchesPattern(pattern, rel) {
			return true
		}
	}
	return false
}

// coalesce keeps the last change per path, in first-seen order.
func coalesce(changes []Change) []Change {
	index := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := index[c.Path]; ok {
			out[i] = c
			continue
		}
		index[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

func (w *Watcher) notify(batch []Change) {
	if len(batch) == 0 {
		return
	}
	w.mu.Lock()
	w.recentChanges = append(w.recentChanges, batch...)
	if len(w.recentChanges) > w.maxHistory {
		w.recentChanges = w.recentChanges[len(w.recentChanges)-w.maxHistory:]
	}
	subs := make([]*Subscription, 0, len(w.subscriptions))
	for _, sub := range w.subscriptions {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		var matched []Change
		for _, c := range batch {
			if matchesPattern(sub.Pattern, c.Path) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			sub.Handler(matched)
		}
	}
}

func matchesPattern(pattern, filePath string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	cleanPath := filepath.ToSlash(strings.TrimSpace(filePath))
	cleanPattern := filepath.ToSlash(pattern)
	if ok, _ := path.Match(cleanPattern, cleanPath); ok {
		return true
	}
	if !strings.Contains(cleanPattern, "/") {
		if ok, _ := path.Match(cleanPattern, path.Base(cleanPath)); ok {
			return true
		}
	}
	return false
}
