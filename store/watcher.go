package store

import (
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher reloads the store when the data file changes underneath us.
// The parent directory is watched, not the file itself, because most
// programs (including our own save) replace the file by rename.
type watcher struct {
	fsw    *fsnotify.Watcher
	store  *Store
	stopCh chan struct{}
	doneCh chan struct{}

	// incremented just before our own rename lands so the resulting
	// event is swallowed instead of triggering a pointless reload
	selfWrites int64
}

const debounce = 250 * time.Millisecond

func newWatcher(s *Store) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &watcher{
		fsw:    fsw,
		store:  s,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run()
	log.Printf("store: watching %s for external changes", s.path)
	return w, nil
}

func (w *watcher) expectSelfWrite() {
	atomic.AddInt64(&w.selfWrites, 1)
}

func (w *watcher) stop() error {
	close(w.stopCh)
	err := w.fsw.Close()
	<-w.doneCh
	return err
}

func (w *watcher) run() {
	defer close(w.doneCh)
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.store.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if atomic.LoadInt64(&w.selfWrites) > 0 {
				atomic.AddInt64(&w.selfWrites, -1)
				continue
			}
			// debounce rapid saves from editors
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerCh:
			log.Printf("store: %s changed on disk, reloading", w.store.path)
			if err := w.store.Reload(); err != nil {
				log.Println("store: reload after external change failed:", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Println("store: watch error:", err)
		}
	}
}
