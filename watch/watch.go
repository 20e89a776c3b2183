// Package watch reports changes to collection files in the JSON data
// directory, whether they come from this server or from an editor.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stevemurr/collection-server/store"
)

// Event describes a collection file after it settled.
type Event struct {
	Collection string
	Records    int
	Err        error // set when the file no longer loads
}

// Watcher watches a data directory and re-reads changed collections through
// the store.
type Watcher struct {
	store    store.Store
	dir      string
	log      *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	// OnChange, if set, receives every event after it is logged.
	OnChange func(Event)
}

// New creates a Watcher for dir. Run must be called to start watching.
func New(s store.Store, dir string, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		store:    s,
		dir:      dir,
		log:      log,
		watcher:  fw,
		debounce: 250 * time.Millisecond,
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	w.log.Info("watching collections", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, ok := store.CollectionName(event.Name)
			if !ok {
				continue
			}
			mu.Lock()
			if t, exists := timers[name]; exists {
				t.Stop()
			}
			timers[name] = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.check(name)
			})
			mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("collection watcher", "error", err)
		}
	}
}

func (w *Watcher) check(name string) {
	ev := Event{Collection: name}
	records, err := w.store.Load(name)
	if err != nil {
		ev.Err = err
		w.log.Warn("collection unreadable", "collection", name, "error", err)
	} else {
		ev.Records = len(records)
		w.log.Info("collection changed", "collection", name, "records", ev.Records)
	}
	if w.OnChange != nil {
		w.OnChange(ev)
	}
}
