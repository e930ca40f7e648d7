package bundle

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mahyarmirrashed/assetpipe/internal/style"
	"github.com/rotisserie/eris"
)

type kind int

const (
	kindJS kind = iota
	kindCSS
)

// source is what flows through a loader chain.
type source struct {
	path     string
	contents string
	kind     kind
}

type loader func(src *source) ([]api.Message, error)

type rule struct {
	test    *regexp.Regexp
	exclude *regexp.Regexp
	use     []string
}

func (r rule) matches(p string) bool {
	if !r.test.MatchString(p) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(p)
}

func (b *Bundler) compileRules() ([]rule, error) {
	rules := make([]rule, 0, len(b.cfg.Bundle.Rules))
	for _, r := range b.cfg.Bundle.Rules {
		test, err := regexp.Compile(r.Test)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid rule test %q", r.Test)
		}
		compiled := rule{test: test, use: r.Use}
		if r.Exclude != "" {
			if compiled.exclude, err = regexp.Compile(r.Exclude); err != nil {
				return nil, eris.Wrapf(err, "invalid rule exclude %q", r.Exclude)
			}
		}
		for _, name := range r.Use {
			if _, ok := b.loaders()[name]; !ok {
				return nil, eris.Errorf("unknown loader %q in rule %q", name, r.Test)
			}
		}
		rules = append(rules, compiled)
	}
	return rules, nil
}

// rulesPlugin routes every loaded file through the first matching rule.
// Files no rule matches are left to esbuild.
func (b *Bundler) rulesPlugin() (api.Plugin, error) {
	rules, err := b.compileRules()
	if err != nil {
		return api.Plugin{}, err
	}
	loaders := b.loaders()

	return api.Plugin{
		Name: "rules",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				slashed := filepath.ToSlash(args.Path)

				var matched *rule
				for i := range rules {
					if rules[i].matches(slashed) {
						matched = &rules[i]
						break
					}
				}
				if matched == nil {
					return api.OnLoadResult{}, nil
				}

				data, err := os.ReadFile(args.Path)
				if err != nil {
					return api.OnLoadResult{}, eris.Wrapf(err, "failed to read %s", args.Path)
				}

				src := &source{path: args.Path, contents: string(data), kind: initialKind(args.Path)}
				var warnings []api.Message
				for i := len(matched.use) - 1; i >= 0; i-- {
					msgs, err := loaders[matched.use[i]](src)
					if err != nil {
						return api.OnLoadResult{}, eris.Wrapf(err, "%s loader failed", matched.use[i])
					}
					warnings = append(warnings, msgs...)
				}

				result := api.OnLoadResult{
					Contents:   &src.contents,
					ResolveDir: filepath.Dir(args.Path),
					Loader:     api.LoaderJS,
					Warnings:   warnings,
				}
				if src.kind == kindCSS {
					result.Loader = api.LoaderCSS
				}
				return result, nil
			})
		},
	}, nil
}

func initialKind(p string) kind {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".css", ".scss", ".sass":
		return kindCSS
	}
	return kindJS
}

func (b *Bundler) loaders() map[string]loader {
	return map[string]loader{
		"sass":  b.sassLoader,
		"css":   cssLoader,
		"style": styleLoader,
		"pug":   b.pugLoader,
		"babel": babelLoader,
		"lint":  b.lintLoader,
	}
}

func (b *Bundler) sassLoader(src *source) ([]api.Message, error) {
	if b.styles == nil {
		return nil, eris.New("no style compiler configured")
	}
	css, err := b.styles.CompileString(src.path, src.contents)
	if err != nil {
		return nil, err
	}
	src.contents = css
	src.kind = kindCSS
	return nil, nil
}

// cssLoader keeps url() references as written.
func cssLoader(src *source) ([]api.Message, error) {
	if src.kind != kindCSS {
		return nil, eris.Errorf("%s is not a stylesheet", src.path)
	}
	return nil, nil
}

// styleLoader turns a stylesheet into a module that appends it to the page.
func styleLoader(src *source) ([]api.Message, error) {
	if src.kind != kindCSS {
		return nil, eris.Errorf("%s is not a stylesheet", src.path)
	}
	literal, err := jsString(src.contents)
	if err != nil {
		return nil, err
	}
	src.contents = `var css = ` + literal + `;
if (typeof document !== "undefined") {
  var el = document.createElement("style");
  el.appendChild(document.createTextNode(css));
  document.head.appendChild(el);
}
export default css;
`
	src.kind = kindJS
	return nil, nil
}

// pugLoader exports the template, rendered at build time without data, as a
// function returning its markup. Arguments passed to the function are ignored.
func (b *Bundler) pugLoader(src *source) ([]api.Message, error) {
	if b.templates == nil {
		return nil, eris.New("no template renderer configured")
	}
	html, err := b.templates.Render(b.templates.Name(src.path), []byte(src.contents))
	if err != nil {
		return nil, err
	}
	literal, err := jsString(string(html))
	if err != nil {
		return nil, err
	}
	src.contents = "export default function template() {\n  return " + literal + ";\n}\n"
	src.kind = kindJS
	return nil, nil
}

// babelLoader is a no-op: esbuild downlevels every module to the bundle target.
func babelLoader(*source) ([]api.Message, error) {
	return nil, nil
}

// lintLoader reports esbuild's diagnostics for the module. In production any
// finding fails the build.
func (b *Bundler) lintLoader(src *source) ([]api.Message, error) {
	if src.kind != kindJS {
		return nil, eris.Errorf("%s is not a script", src.path)
	}

	res := api.Transform(src.contents, api.TransformOptions{
		Loader:     api.LoaderJS,
		Sourcefile: b.relative(src.path),
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, eris.New(formatAll(res.Errors))
	}
	if len(res.Warnings) > 0 && b.cfg.Mode.IsProduction() {
		return nil, eris.Errorf("lint: %s", formatAll(res.Warnings))
	}
	return res.Warnings, nil
}

func (b *Bundler) relative(p string) string {
	root, err := filepath.Abs(b.cfg.Root)
	if err != nil {
		return filepath.ToSlash(p)
	}
	if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}

func formatAll(msgs []api.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, style.FormatMessage(m))
	}
	return strings.Join(lines, "; ")
}

func jsString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", eris.Wrap(err, "failed to encode module contents")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
