package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) task(name string, err error) *Task {
	return New(name, func(context.Context) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return err
	})
}

func TestSeries(t *testing.T) {
	r := &recorder{}
	s := Series("all", r.task("a", nil), r.task("b", nil), r.task("c", nil))

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, r.calls)
}

func TestSeriesStopsOnError(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	s := Series("all", r.task("a", nil), r.task("b", boom), r.task("c", nil))

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))
	assert.Equal(t, []string{"a", "b"}, r.calls)
}

func TestParallel(t *testing.T) {
	r := &recorder{}
	p := Parallel("all", r.task("a", nil), r.task("b", nil), r.task("c", nil))

	require.NoError(t, p.Execute(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.calls)
}

func TestParallelError(t *testing.T) {
	r := &recorder{}
	p := Parallel("all", r.task("a", nil), r.task("b", errors.New("boom")))

	assert.Error(t, p.Execute(context.Background()))
}

func TestSeriesOfParallel(t *testing.T) {
	r := &recorder{}
	build := Series("build",
		r.task("clean", nil),
		Parallel("assets", r.task("copy", nil), r.task("styles", nil)),
		r.task("done", nil),
	)

	require.NoError(t, build.Execute(context.Background()))
	require.Len(t, r.calls, 4)
	assert.Equal(t, "clean", r.calls[0])
	assert.ElementsMatch(t, []string{"copy", "styles"}, r.calls[1:3])
	assert.Equal(t, "done", r.calls[3])
}

func TestExecuteCancelled(t *testing.T) {
	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, r.task("a", nil).Execute(ctx), context.Canceled)
	assert.Empty(t, r.calls)
}

func TestList(t *testing.T) {
	r := &recorder{}
	l := List{}.Add(r.task("b", nil), r.task("a", nil))

	assert.Equal(t, []string{"a", "b"}, l.Names())
	require.NoError(t, l.Run(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, r.calls)
	assert.Error(t, l.Run(context.Background(), "missing"))
}
