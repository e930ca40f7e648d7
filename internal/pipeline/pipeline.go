package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/globset"
	"github.com/mahyarmirrashed/assetpipe/internal/notify"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// ErrSkip drops a file from the rest of its pipeline without reporting it.
var ErrSkip = eris.New("skip file")

// File is a single source file flowing through a pipeline.
type File struct {
	Path      string // Source file on disk
	Base      string // Directory Rel is relative to
	Rel       string // Slash separated path relative to Base, rewritten by steps
	Contents  []byte
	SourceMap string
}

// SetExt replaces the extension of the output path.
func (f *File) SetExt(ext string) {
	f.Rel = strings.TrimSuffix(f.Rel, path.Ext(f.Rel)) + ext
}

// DestPath returns where f is written under dir.
func (f *File) DestPath(dir string) string {
	return filepath.Join(dir, filepath.FromSlash(f.Rel))
}

// Step transforms one file.
type Step func(ctx context.Context, f *File) error

// Chain composes steps left to right.
func Chain(steps ...Step) Step {
	return func(ctx context.Context, f *File) error {
		for _, step := range steps {
			if err := step(ctx, f); err != nil {
				return err
			}
		}
		return nil
	}
}

// Plumb returns a step that intercepts any failure of step, including panics,
// reports it through the log and the notifier, and lets the batch continue.
// The returned function reports whether the file failed.
func Plumb(name string, n notify.Notifier, step Step) func(ctx context.Context, f *File) bool {
	return func(ctx context.Context, f *File) (failed bool) {
		defer func() {
			if r := recover(); r != nil {
				report(name, n, f, fmt.Errorf("panic: %v", r))
				failed = true
			}
		}()

		err := step(ctx, f)
		if err == nil || eris.Is(err, ErrSkip) {
			return false
		}

		report(name, n, f, err)
		return true
	}
}

func report(name string, n notify.Notifier, f *File, err error) {
	log.WithFields(log.Fields{
		"task": name,
		"file": f.Rel,
	}).Error(err)
	n.Notify(name, "Error: "+err.Error())
}

// Result summarizes a pipeline run.
type Result struct {
	Processed int
	Skipped   int
	Failed    int
}

// Pipeline runs a step over a batch of files under shared plumbing.
type Pipeline struct {
	Name     string
	Notifier notify.Notifier
}

// New creates a pipeline reporting through n.
func New(name string, n notify.Notifier) *Pipeline {
	if n == nil {
		n = notify.Discard{}
	}
	return &Pipeline{Name: name, Notifier: n}
}

// Run applies step to every file. Per-file failures never abort the run;
// cancellation stops it before the next file.
func (p *Pipeline) Run(ctx context.Context, files []*File, step Step) Result {
	var skipped bool
	plumbed := Plumb(p.Name, p.Notifier, func(ctx context.Context, f *File) error {
		err := Chain(step, p.debug)(ctx, f)
		skipped = eris.Is(err, ErrSkip)
		return err
	})

	var res Result
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		skipped = false
		switch {
		case plumbed(ctx, f):
			res.Failed++
		case skipped:
			res.Skipped++
		default:
			res.Processed++
		}
	}

	log.WithField("task", p.Name).Infof("%d items", res.Processed)
	return res
}

func (p *Pipeline) debug(_ context.Context, f *File) error {
	log.WithField("task", p.Name).Debug(filepath.ToSlash(f.Path))
	return nil
}

// Src lists the files of group g, computing Rel against the group base or,
// when unset, the parent of its first glob.
func Src(cfg *config.Config, g config.Group) ([]*File, error) {
	set, err := globset.New(g.Globs())
	if err != nil {
		return nil, err
	}

	rels, err := set.Files(cfg.Root)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(g.Base, "/")
	if base == "" && len(g.Src) > 0 {
		base = globset.Parent(g.Src[0])
	}

	files := make([]*File, 0, len(rels))
	for _, rel := range rels {
		files = append(files, &File{
			Path: cfg.Path(rel),
			Base: cfg.Path(base),
			Rel:  relativeTo(base, rel),
		})
	}
	return files, nil
}

func relativeTo(base, rel string) string {
	if base == "" || base == "." {
		return rel
	}
	if trimmed := strings.TrimPrefix(rel, base+"/"); trimmed != rel {
		return trimmed
	}
	return rel
}

// Read loads the file contents.
func Read(_ context.Context, f *File) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return eris.Wrapf(err, "failed to read %s", f.Path)
	}
	f.Contents = data
	return nil
}

// Dest returns a step writing the file under dir, creating parents as needed.
func Dest(dir string) Step {
	return func(_ context.Context, f *File) error {
		out := f.DestPath(dir)
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return eris.Wrapf(err, "could not create folders for %s", out)
		}
		if err := os.WriteFile(out, f.Contents, 0644); err != nil {
			return eris.Wrapf(err, "failed to write %s", out)
		}
		return nil
	}
}
