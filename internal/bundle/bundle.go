// Package bundle bundles application scripts with esbuild.
//
// Each script in the scripts group becomes one output file named after its
// path relative to the group base. Imports are routed through a rule table:
// the first rule whose pattern matches an imported file decides the chain of
// loaders applied to it, right to left, before esbuild sees the result.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/pipeline"
	"github.com/mahyarmirrashed/assetpipe/internal/pug"
	"github.com/mahyarmirrashed/assetpipe/internal/style"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// StyleCompiler compiles stylesheets imported from scripts.
type StyleCompiler interface {
	CompileString(file, src string) (string, error)
}

// Result lists what a bundle run produced.
type Result struct {
	Outputs  []string
	Warnings []string
}

// Bundler bundles the scripts group of a configuration.
type Bundler struct {
	cfg       *config.Config
	styles    StyleCompiler
	templates *pug.Renderer
}

// New creates a bundler. styles and templates serve the sass and pug loaders.
func New(cfg *config.Config, styles StyleCompiler, templates *pug.Renderer) *Bundler {
	return &Bundler{cfg: cfg, styles: styles, templates: templates}
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

func parseTarget(s string) (api.Target, error) {
	if s == "" {
		return api.ES2015, nil
	}
	t, ok := targets[strings.ToLower(s)]
	if !ok {
		return 0, eris.Errorf("unknown script target %q", s)
	}
	return t, nil
}

// Entries returns the entry points of the scripts group.
func (b *Bundler) Entries() ([]api.EntryPoint, error) {
	files, err := pipeline.Src(b.cfg, b.cfg.Scripts)
	if err != nil {
		return nil, err
	}

	var entries []api.EntryPoint
	for _, f := range files {
		ext := path.Ext(f.Rel)
		if ext != ".js" && ext != ".mjs" {
			continue
		}
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve %s", f.Path)
		}
		entries = append(entries, api.EntryPoint{
			InputPath:  abs,
			OutputPath: strings.TrimSuffix(f.Rel, ext),
		})
	}
	return entries, nil
}

// Bundle builds every entry point into the scripts destination.
func (b *Bundler) Bundle(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := b.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		log.WithField("task", "scripts").Info("No script entries")
		return &Result{}, nil
	}

	target, err := parseTarget(b.cfg.Bundle.Target)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(b.cfg.Root)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve project root")
	}

	rules, err := b.rulesPlugin()
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "assetpipe-bundle-")
	if err != nil {
		return nil, eris.Wrap(err, "failed to create shim directory")
	}
	defer os.RemoveAll(tmp)

	var inject []string
	shim, err := b.provideShim(root, tmp)
	if err != nil {
		return nil, err
	}
	if shim != "" {
		inject = append(inject, shim)
	}

	production := b.cfg.Mode.IsProduction()
	opts := api.BuildOptions{
		EntryPointsAdvanced: entries,
		AbsWorkingDir:       root,
		Outdir:              filepath.Join(root, filepath.FromSlash(b.cfg.Scripts.Dest)),
		Bundle:              true,
		Platform:            api.PlatformBrowser,
		Format:              api.FormatIIFE,
		Target:              target,
		NodePaths:           []string{filepath.Join(root, "node_modules")},
		Inject:              inject,
		Plugins:             []api.Plugin{rules},
		LogLevel:            api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV": fmt.Sprintf("%q", nodeEnv(production)),
		},
	}
	if production {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	} else {
		opts.Sourcemap = api.SourceMapInline
	}

	res := api.Build(opts)

	out := &Result{}
	seen := map[string]bool{}
	for _, w := range res.Warnings {
		msg := style.FormatMessage(w)
		if !seen[msg] {
			seen[msg] = true
			out.Warnings = append(out.Warnings, msg)
		}
	}
	for _, w := range out.Warnings {
		log.WithField("task", "scripts").Warn(w)
	}

	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, style.FormatMessage(e))
		}
		return out, eris.Errorf("bundle failed: %s", strings.Join(msgs, "; "))
	}

	for _, f := range res.OutputFiles {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
			return out, eris.Wrapf(err, "could not create folders for %s", f.Path)
		}
		if err := os.WriteFile(f.Path, f.Contents, 0644); err != nil {
			return out, eris.Wrapf(err, "failed to write %s", f.Path)
		}
		out.Outputs = append(out.Outputs, f.Path)
	}
	sort.Strings(out.Outputs)
	return out, nil
}

func nodeEnv(production bool) string {
	if production {
		return string(config.ModeProduction)
	}
	return string(config.ModeDevelopment)
}

// provideShim writes a module exporting every provided global, for esbuild's
// inject option. Modules that are not installed are skipped.
func (b *Bundler) provideShim(root, dir string) (string, error) {
	byModule := map[string][]string{}
	for ident, mod := range b.cfg.Bundle.Provide {
		if _, err := os.Stat(filepath.Join(root, "node_modules", filepath.FromSlash(mod))); err != nil {
			log.WithField("task", "scripts").Debugf("Not providing %s: %s is not installed", ident, mod)
			continue
		}
		byModule[mod] = append(byModule[mod], ident)
	}
	if len(byModule) == 0 {
		return "", nil
	}

	modules := make([]string, 0, len(byModule))
	for mod := range byModule {
		modules = append(modules, mod)
	}
	sort.Strings(modules)

	var sb strings.Builder
	for i, mod := range modules {
		local := fmt.Sprintf("__provide%d", i)
		fmt.Fprintf(&sb, "import %s from %q;\n", local, mod)

		idents := byModule[mod]
		sort.Strings(idents)
		for _, ident := range idents {
			fmt.Fprintf(&sb, "export { %s as %s };\n", local, ident)
		}
	}

	shim := filepath.Join(dir, "provide.js")
	if err := os.WriteFile(shim, []byte(sb.String()), 0644); err != nil {
		return "", eris.Wrap(err, "failed to write provide shim")
	}
	return shim, nil
}
