package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcherOptions configures a FileWatcher.
type FileWatcherOptions struct {
	// Debounce is how long to wait for more events before reloading.
	// Default: 100ms
	Debounce time.Duration
	Logger   *slog.Logger
}

// FileWatcher merges persona files written by other processes into a
// MemStore. Events for the same persona within the debounce window are
// reloaded once; files this process wrote itself are skipped.
type FileWatcher struct {
	store       *MemStore
	persistence *Persistence
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	logger      *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileWatcher creates a watcher over p's data directory feeding store.
func NewFileWatcher(store *MemStore, p *Persistence, opts FileWatcherOptions) (*FileWatcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatcher{
		store:       store,
		persistence: p,
		watcher:     w,
		debounce:    opts.Debounce,
		logger:      opts.Logger.With("component", "file_watcher", "dir", p.DataDir),
		changes:     make(chan string, 256),
		done:        make(chan struct{}),
	}, nil
}

// Start begins watching. Both goroutines exit on Stop or when ctx is done.
func (w *FileWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.persistence.DataDir); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for pending reloads.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasSuffix(name, ".tmp") {
				continue
			}
			personaID, ok := personaFromFile(name)
			if !ok {
				continue
			}
			select {
			case w.changes <- personaID:
			default:
				w.logger.Warn("change buffer full, dropping event", "persona", personaID)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *FileWatcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for personaID := range pending {
			w.reload(personaID)
		}
		clear(pending)
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case personaID := <-w.changes:
			pending[personaID] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// reload reads a persona file and merges it unless it is our own write.
func (w *FileWatcher) reload(personaID string) {
	data, content, err := w.persistence.LoadPersona(personaID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("reload persona failed", "persona", personaID, "error", err)
		}
		return
	}
	if w.persistence.IsOwnWrite(personaID, content) {
		return
	}
	changes := w.store.MergePersona(OriginDisk, personaID, data)
	if len(changes) > 0 {
		w.logger.Debug("merged external persona changes", "persona", personaID, "changes", len(changes))
	}
}
