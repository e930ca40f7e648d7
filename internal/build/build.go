// Package build defines the asset tasks: clean, copy, templates, styles and
// scripts, and the build pipeline composed from them.
package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mahyarmirrashed/assetpipe/internal/bundle"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/notify"
	"github.com/mahyarmirrashed/assetpipe/internal/pipeline"
	"github.com/mahyarmirrashed/assetpipe/internal/pug"
	"github.com/mahyarmirrashed/assetpipe/internal/style"
	"github.com/mahyarmirrashed/assetpipe/internal/task"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// Task names.
const (
	TaskBuild     = "build"
	TaskClean     = "clean"
	TaskCopy      = "copy"
	TaskTemplates = "templates"
	TaskStyles    = "styles"
	TaskScripts   = "scripts"
)

// Builder owns the long-lived state of the asset tasks for one configuration.
type Builder struct {
	cfg       *config.Config
	notifier  notify.Notifier
	templates *pug.Renderer
	styles    *style.Engine
	bundler   *bundle.Bundler
}

// New creates a builder. Styles are compiled with compiler.
func New(cfg *config.Config, n notify.Notifier, compiler style.Compiler) (*Builder, error) {
	if n == nil {
		n = notify.Discard{}
	}

	engine, err := style.NewEngine(compiler, cfg)
	if err != nil {
		return nil, err
	}

	templates := pug.New(cfg.Path(cfg.Templates.Base), true)
	return &Builder{
		cfg:       cfg,
		notifier:  n,
		templates: templates,
		styles:    engine,
		bundler:   bundle.New(cfg, engine, templates),
	}, nil
}

// Templates returns the renderer used for template sources.
func (b *Builder) Templates() *pug.Renderer {
	return b.templates
}

// Clean removes the output directory. A missing directory is not an error.
func (b *Builder) Clean(_ context.Context) error {
	dest, err := filepath.Abs(b.cfg.Path(b.cfg.Dest))
	if err != nil {
		return eris.Wrap(err, "failed to resolve output directory")
	}
	root, err := filepath.Abs(b.cfg.Root)
	if err != nil {
		return eris.Wrap(err, "failed to resolve project root")
	}
	if dest == root || dest == filepath.Dir(dest) {
		return eris.Errorf("refusing to remove %s", dest)
	}

	log.WithField("task", TaskClean).Debugf("Removing %s", dest)
	if err := os.RemoveAll(dest); err != nil {
		return eris.Wrapf(err, "failed to remove %s", dest)
	}
	return nil
}

// Copy writes every static file unchanged to the output directory.
func (b *Builder) Copy(ctx context.Context) error {
	files, err := pipeline.Src(b.cfg, b.cfg.Statics)
	if err != nil {
		return err
	}

	pipeline.New(TaskCopy, b.notifier).Run(ctx, files, pipeline.Chain(
		pipeline.Read,
		pipeline.Dest(b.cfg.Path(b.cfg.Statics.Dest)),
	))
	return nil
}

// BuildTemplates renders every template to a pretty HTML document.
func (b *Builder) BuildTemplates(ctx context.Context) error {
	files, err := pipeline.Src(b.cfg, b.cfg.Templates)
	if err != nil {
		return err
	}

	pipeline.New(TaskTemplates, b.notifier).Run(ctx, files, pipeline.Chain(
		pipeline.Read,
		b.render,
		pipeline.Dest(b.cfg.Path(b.cfg.Templates.Dest)),
	))
	return nil
}

func (b *Builder) render(_ context.Context, f *pipeline.File) error {
	out, err := b.templates.Render(f.Rel, f.Contents)
	if err != nil {
		return err
	}
	f.Contents = out
	f.Rel = pug.OutputName(f.Rel)
	return nil
}

// BuildStyles compiles the stylesheets that need it. Outside production only
// changed files and the files importing them are compiled.
func (b *Builder) BuildStyles(ctx context.Context) error {
	files, err := pipeline.Src(b.cfg, b.cfg.Styles)
	if err != nil {
		return err
	}

	read := pipeline.Plumb(TaskStyles, b.notifier, pipeline.Read)
	loaded := make([]*pipeline.File, 0, len(files))
	for _, f := range files {
		if !read(ctx, f) {
			loaded = append(loaded, f)
		}
	}

	selected := b.styles.Select(loaded)
	log.WithField("task", TaskStyles).Debugf("%d of %d stylesheets changed", len(selected), len(loaded))

	pipeline.New(TaskStyles, b.notifier).Run(ctx, selected, pipeline.Chain(
		b.styles.Process,
		pipeline.Dest(b.cfg.Path(b.cfg.Styles.Dest)),
	))
	return nil
}

// BuildScripts bundles the scripts. A failed bundle is reported like any
// other per-file failure.
func (b *Builder) BuildScripts(ctx context.Context) error {
	bundles := &pipeline.File{
		Path: b.cfg.Path(b.cfg.Scripts.Base),
		Rel:  b.cfg.Scripts.Base,
	}

	step := func(ctx context.Context, _ *pipeline.File) error {
		res, err := b.bundler.Bundle(ctx)
		if err != nil {
			return err
		}
		log.WithField("task", TaskScripts).Infof("%d bundles", len(res.Outputs))
		return nil
	}

	pipeline.Plumb(TaskScripts, b.notifier, step)(ctx, bundles)
	return nil
}

// Tasks returns every task by name. build runs clean, then copy, templates
// and styles concurrently.
func (b *Builder) Tasks() task.List {
	clean := task.New(TaskClean, b.Clean)
	copyStatics := task.New(TaskCopy, b.Copy)
	templates := task.New(TaskTemplates, b.BuildTemplates)
	styles := task.New(TaskStyles, b.BuildStyles)
	scripts := task.New(TaskScripts, b.BuildScripts)

	build := task.Series(TaskBuild,
		clean,
		task.Parallel("assets", copyStatics, templates, styles),
	)

	return task.List{}.Add(build, clean, copyStatics, templates, styles, scripts)
}
