package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ajaxzhan/boxdrive/internal/logging"
)

// EventType is the kind of volume change.
type EventType int

const (
	Mounted EventType = iota
	Unmounted
	Renamed
)

func (t EventType) String() string {
	switch t {
	case Mounted:
		return "mounted"
	case Unmounted:
		return "unmounted"
	case Renamed:
		return "renamed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event reports a volume appearing, disappearing or being renamed.
// For Renamed, Path is the old location.
type Event struct {
	Type EventType
	Path string
}

// Watcher watches the directories volumes are mounted under (such as /Volumes
// or /media/<user>) and broadcasts volume events to subscribers.
type Watcher struct {
	watcher *fsnotify.Watcher
	dirs    []string

	mu          sync.RWMutex
	subscribers map[int]func(Event)
	nextID      int
}

// NewWatcher creates a watcher over dirs. Directories that do not exist are skipped.
func NewWatcher(dirs []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create volume watcher: %w", err)
	}

	w := &Watcher{
		watcher:     fw,
		subscribers: make(map[int]func(Event)),
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			logging.Debug("Skipping volume directory", logging.String("dir", dir), logging.Err(err))
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		w.dirs = append(w.dirs, filepath.Clean(dir))
	}
	return w, nil
}

// Dirs returns the directories actually being watched.
func (w *Watcher) Dirs() []string {
	return append([]string(nil), w.dirs...)
}

// Subscribe registers fn for every future event and returns a function that removes it.
func (w *Watcher) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.subscribers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.subscribers, id)
		w.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber in registration order.
func (w *Watcher) Publish(ev Event) {
	w.mu.RLock()
	ids := make([]int, 0, len(w.subscribers))
	for id := range w.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, w.subscribers[id])
	}
	w.mu.RUnlock()

	logging.Debug("Volume event", logging.String("type", ev.Type.String()), logging.String("path", ev.Path))
	for _, fn := range fns {
		fn(ev)
	}
}

// Run forwards filesystem notifications until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fe, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev, ok := translate(fe); ok {
				w.Publish(ev)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Volume watcher error", logging.Err(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func translate(fe fsnotify.Event) (Event, bool) {
	path := filepath.Clean(fe.Name)
	switch {
	case fe.Has(fsnotify.Create):
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return Event{}, false
		}
		return Event{Type: Mounted, Path: path}, true
	case fe.Has(fsnotify.Remove):
		return Event{Type: Unmounted, Path: path}, true
	case fe.Has(fsnotify.Rename):
		return Event{Type: Renamed, Path: path}, true
	}
	return Event{}, false
}
