// Package watch reruns tasks when the files they depend on change.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/farmergreg/rfsnotify"
	"github.com/mahyarmirrashed/assetpipe/internal/globset"
	"github.com/mahyarmirrashed/assetpipe/internal/task"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
	"gopkg.in/fsnotify.v1"
)

// DefaultDebounce is how long a rule waits for a burst of changes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Rule runs Task whenever a path matching Globs changes.
type Rule struct {
	Name  string
	Globs *globset.Set
	Task  *task.Task
}

// Watcher dispatches change events to independent rules. Runs of one rule
// never overlap; changes arriving during a run cause exactly one more run.
// Rules are not synchronized with each other.
type Watcher struct {
	root     string
	debounce time.Duration
	rules    []Rule
}

// New creates a watcher for paths under root.
func New(root string, debounce time.Duration, rules ...Rule) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{root: root, debounce: debounce, rules: rules}
}

// Watch watches dir recursively and blocks until ctx is done.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	watcher, err := rfsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	if err := watcher.AddRecursive(dir); err != nil {
		return eris.Wrapf(err, "failed to watch %s", dir)
	}
	log.Infof("Watching %s", filepath.ToSlash(dir))

	events := make(chan string, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				select {
				case events <- w.relative(event.Name):
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Watcher error: %v", err)
			}
		}
	}()

	return w.Serve(ctx, events)
}

// Serve consumes paths relative to the root, slash separated, and runs the
// matching rules until ctx is done.
func (w *Watcher) Serve(ctx context.Context, events <-chan string) error {
	triggers := make([]chan struct{}, len(w.rules))

	var wg sync.WaitGroup
	for i, r := range w.rules {
		triggers[i] = make(chan struct{}, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, r, triggers[i])
		}()
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.dispatch(p, triggers)
		}
	}
}

func (w *Watcher) dispatch(p string, triggers []chan struct{}) {
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")
	for i, r := range w.rules {
		if !r.Globs.Match(p) {
			continue
		}
		log.WithField("watch", r.Name).Debugf("Changed: %s", p)
		select {
		case triggers[i] <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) loop(ctx context.Context, r Rule, trigger <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
		}

		if !w.settle(ctx, trigger) {
			return
		}
		if err := r.Task.Execute(ctx); err != nil && ctx.Err() == nil {
			log.WithField("watch", r.Name).Error(err)
		}
	}
}

// settle waits until no trigger arrived for the debounce period.
func (w *Watcher) settle(ctx context.Context, trigger <-chan struct{}) bool {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-trigger:
			timer.Reset(w.debounce)
		case <-timer.C:
			return true
		}
	}
}

func (w *Watcher) relative(name string) string {
	root, err := filepath.Abs(w.root)
	if err != nil {
		return filepath.ToSlash(name)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return filepath.ToSlash(name)
	}
	if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(name)
}
