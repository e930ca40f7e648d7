package task

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Func is the body of a task.
type Func func(ctx context.Context) error

// Task is a named unit of work.
type Task struct {
	Name string
	run  Func
}

// New creates a task.
func New(name string, fn Func) *Task {
	return &Task{Name: name, run: fn}
}

// Execute runs the task and logs its timing.
func (t *Task) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	log.Infof("Starting '%s'...", t.Name)

	if err := t.run(ctx); err != nil {
		log.Errorf("'%s' errored after %s", t.Name, time.Since(start).Round(time.Millisecond))
		return eris.Wrapf(err, "task %s failed", t.Name)
	}

	log.Infof("Finished '%s' after %s", t.Name, time.Since(start).Round(time.Millisecond))
	return nil
}

// Series runs tasks one after another and stops at the first error.
func Series(name string, tasks ...*Task) *Task {
	return New(name, func(ctx context.Context) error {
		for _, t := range tasks {
			if err := t.Execute(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Parallel runs tasks concurrently and waits for all of them.
// The first error is returned; the context of the others is cancelled.
func Parallel(name string, tasks ...*Task) *Task {
	return New(name, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, t := range tasks {
			g.Go(func() error {
				return t.Execute(ctx)
			})
		}
		return g.Wait()
	})
}

// List maps task names to tasks.
type List map[string]*Task

// Add registers tasks under their names.
func (l List) Add(tasks ...*Task) List {
	for _, t := range tasks {
		l[t.Name] = t
	}
	return l
}

// Run executes the named task.
func (l List) Run(ctx context.Context, name string) error {
	t, found := l[name]
	if !found {
		return eris.Errorf("Task %s not found", name)
	}
	return t.Execute(ctx)
}

// Names returns the registered task names, sorted.
func (l List) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
