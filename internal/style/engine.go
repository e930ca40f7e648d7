package style

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/pipeline"
)

// Engine runs the stylesheet pipeline for one mode. The change cache and the
// import graph live as long as the engine.
type Engine struct {
	compiler  Compiler
	mode      config.Mode
	engines   []api.Engine
	loadPaths []string

	mu    sync.Mutex
	cache *Cache
	graph *Graph
}

// NewEngine creates the style engine described by cfg.
func NewEngine(compiler Compiler, cfg *config.Config) (*Engine, error) {
	engines, err := ParseEngines(cfg.Browsers)
	if err != nil {
		return nil, err
	}

	loadPaths := []string{
		filepath.Clean(cfg.Path(cfg.Styles.Base)),
		filepath.Clean(cfg.Path("node_modules")),
	}

	return &Engine{
		compiler:  compiler,
		mode:      cfg.Mode,
		engines:   engines,
		loadPaths: loadPaths,
		cache:     NewCache(),
		graph:     NewGraph(loadPaths...),
	}, nil
}

// Select returns the files that need compiling. In production every file is
// selected. Otherwise only files whose contents changed since the last call,
// plus the files importing them, are kept. Contents must be loaded.
func (e *Engine) Select(files []*pipeline.File) []*pipeline.File {
	if e.mode.IsProduction() {
		return files
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	affected := map[string]bool{}
	var changed []string
	for _, f := range files {
		e.graph.Update(f.Path, f.Contents)
		if e.cache.Changed(f.Path, f.Contents) {
			changed = append(changed, f.Path)
		}
	}
	for _, p := range changed {
		affected[filepath.Clean(p)] = true
		for _, dep := range e.graph.Dependents(p) {
			affected[dep] = true
		}
	}

	var selected []*pipeline.File
	for _, f := range files {
		if affected[filepath.Clean(f.Path)] {
			selected = append(selected, f)
		}
	}
	return selected
}

// Process compiles f in place: Sass to CSS, post-processing, minification in
// production or an inline source map otherwise, and a .css extension.
// Partials, named with a leading underscore, are skipped.
func (e *Engine) Process(_ context.Context, f *pipeline.File) error {
	if strings.HasPrefix(filepath.Base(f.Path), "_") {
		return pipeline.ErrSkip
	}

	production := e.mode.IsProduction()

	res, err := e.compiler.Compile(Request{
		Path:         f.Path,
		Source:       string(f.Contents),
		Syntax:       SyntaxFor(f.Path),
		SourceMap:    !production,
		IncludePaths: e.includePaths(f.Path),
	})
	if err != nil {
		return err
	}

	var out string
	switch {
	case production:
		if out, err = PostProcess(f.Rel, res.CSS, e.engines); err != nil {
			return err
		}
		if out, err = Minify(out); err != nil {
			return err
		}
	case res.SourceMap != "":
		if out, f.SourceMap, err = PostProcessWithMap(f.Rel, res.CSS, res.SourceMap, e.engines); err != nil {
			return err
		}
		out = AppendSourceMap(out, f.SourceMap)
	default:
		if out, err = PostProcess(f.Rel, res.CSS, e.engines); err != nil {
			return err
		}
	}

	f.Contents = []byte(out)
	f.SetExt(".css")
	return nil
}

// CompileString compiles a stylesheet imported by a script. No source map is
// produced; production output is minified.
func (e *Engine) CompileString(file, src string) (string, error) {
	res, err := e.compiler.Compile(Request{
		Path:         file,
		Source:       src,
		Syntax:       SyntaxFor(file),
		IncludePaths: e.includePaths(file),
	})
	if err != nil {
		return "", err
	}

	out, err := PostProcess(file, res.CSS, e.engines)
	if err != nil {
		return "", err
	}
	if e.mode.IsProduction() {
		return Minify(out)
	}
	return out, nil
}

func (e *Engine) includePaths(file string) []string {
	return append([]string{filepath.Dir(file)}, e.loadPaths...)
}
