package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/pug"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStyles struct {
	mu       sync.Mutex
	compiled []string
}

func (s *fakeStyles) CompileString(file, src string) (string, error) {
	s.mu.Lock()
	s.compiled = append(s.compiled, filepath.Base(file))
	s.mu.Unlock()

	if strings.Contains(src, "@error") {
		return "", errors.New("compile error")
	}
	return src, nil
}

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func setup(t *testing.T, mode config.Mode) (*config.Config, *Bundler, *fakeStyles) {
	t.Helper()
	cfg := config.Default(mode)
	cfg.Root = t.TempDir()

	styles := &fakeStyles{}
	templates := pug.New(cfg.Path(cfg.Templates.Base), true)
	return cfg, New(cfg, styles, templates), styles
}

func script(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Path(cfg.Scripts.Base), filepath.FromSlash(rel))
}

func readOutput(t *testing.T, cfg *config.Config, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.Path(cfg.Scripts.Dest), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestBundleDevelopment(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	writeFile(t, script(cfg, "main.js"), `console.log("hello from main");`)
	writeFile(t, script(cfg, "pages/about.js"), `console.log("about");`)
	writeFile(t, script(cfg, "_partial.js"), `console.log("partial");`)
	writeFile(t, script(cfg, "js/modules/helper.js"), `console.log("helper");`)

	res, err := b.Bundle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "main.js", filepath.Base(res.Outputs[0]))
	assert.Equal(t, "about.js", filepath.Base(res.Outputs[1]))

	out := readOutput(t, cfg, "main.js")
	assert.Contains(t, out, "hello from main")
	assert.Contains(t, out, "sourceMappingURL=data:application/json")
	assert.FileExists(t, filepath.Join(cfg.Path(cfg.Scripts.Dest), "pages", "about.js"))
	assert.NoFileExists(t, filepath.Join(cfg.Path(cfg.Scripts.Dest), "_partial.js"))
}

func TestBundleProduction(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeProduction)
	writeFile(t, script(cfg, "main.js"), `
if (process.env.NODE_ENV !== "production") {
  console.log("dev only");
}
console.log("always");
`)

	_, err := b.Bundle(context.Background())
	require.NoError(t, err)

	out := readOutput(t, cfg, "main.js")
	assert.Contains(t, out, "always")
	assert.NotContains(t, out, "dev only")
	assert.NotContains(t, out, "sourceMappingURL")
}

func TestBundleNoEntries(t *testing.T) {
	_, b, _ := setup(t, config.ModeDevelopment)

	res, err := b.Bundle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
}

func TestBundleCanceled(t *testing.T) {
	_, b, _ := setup(t, config.ModeDevelopment)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Bundle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundlePugImport(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	writeFile(t, script(cfg, "card.pug"), "p card body")
	writeFile(t, script(cfg, "main.js"), `
import card from "./card.pug";
document.body.innerHTML = card();
`)

	_, err := b.Bundle(context.Background())
	require.NoError(t, err)

	out := readOutput(t, cfg, "main.js")
	assert.Contains(t, out, "<p>")
	assert.Contains(t, out, "card body")
}

func TestPugLoaderExportsStaticMarkup(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	src := &source{path: script(cfg, "card.pug"), contents: "p card body"}

	_, err := b.pugLoader(src)
	require.NoError(t, err)

	assert.Equal(t, kindJS, src.kind)
	assert.True(t, strings.HasPrefix(src.contents, "export default function template() {\n  return \""), src.contents)
	assert.Contains(t, src.contents, "card body")
}

func TestBundleStyleImports(t *testing.T) {
	cfg, b, styles := setup(t, config.ModeDevelopment)
	writeFile(t, filepath.Join(cfg.Root, "node_modules", "widget", "widget.css"), ".widget-from-dep { color: red; }")
	writeFile(t, script(cfg, "theme.scss"), ".theme-from-sass { color: blue; }")
	writeFile(t, script(cfg, "main.js"), `
import "widget/widget.css";
import "./theme.scss";
`)

	_, err := b.Bundle(context.Background())
	require.NoError(t, err)

	out := readOutput(t, cfg, "main.js")
	assert.Contains(t, out, "createElement")
	assert.Contains(t, out, ".widget-from-dep")
	assert.Contains(t, out, ".theme-from-sass")
	assert.Equal(t, []string{"theme.scss"}, styles.compiled)
}

func TestBundleStyleCompileError(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	writeFile(t, script(cfg, "broken.scss"), `@error "nope";`)
	writeFile(t, script(cfg, "main.js"), `import "./broken.scss";`)

	_, err := b.Bundle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile error")
}

func TestBundleProvide(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	writeFile(t, filepath.Join(cfg.Root, "node_modules", "jquery", "index.js"),
		`export default function jq(sel) { return "fake jquery " + sel; }`)
	writeFile(t, script(cfg, "main.js"), `
console.log($("a"));
console.log(jQuery("b"));
`)

	_, err := b.Bundle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, readOutput(t, cfg, "main.js"), "fake jquery")
}

func TestProvideShimSkipsMissingModules(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)

	shim, err := b.provideShim(cfg.Root, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, shim)

	writeFile(t, filepath.Join(cfg.Root, "node_modules", "jquery", "index.js"), "export default 1;")
	shim, err = b.provideShim(cfg.Root, t.TempDir())
	require.NoError(t, err)

	data, err := os.ReadFile(shim)
	require.NoError(t, err)
	assert.Equal(t, "import __provide0 from \"jquery\";\nexport { __provide0 as $ };\nexport { __provide0 as jQuery };\n", string(data))
}

func TestBundleLint(t *testing.T) {
	src := `var o = { a: 1, a: 2 };
console.log(o);
`
	t.Run("development warns", func(t *testing.T) {
		cfg, b, _ := setup(t, config.ModeDevelopment)
		writeFile(t, script(cfg, "main.js"), src)

		res, err := b.Bundle(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, strings.Join(res.Warnings, "\n"), "Duplicate key")
	})

	t.Run("production fails", func(t *testing.T) {
		cfg, b, _ := setup(t, config.ModeProduction)
		writeFile(t, script(cfg, "main.js"), src)

		_, err := b.Bundle(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lint")
	})
}

func TestBundleSyntaxError(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)
	writeFile(t, script(cfg, "main.js"), `var = ;`)

	_, err := b.Bundle(context.Background())
	assert.Error(t, err)
}

func TestCompileRules(t *testing.T) {
	cfg, b, _ := setup(t, config.ModeDevelopment)

	rules, err := b.compileRules()
	require.NoError(t, err)
	require.Len(t, rules, 4)
	assert.True(t, rules[0].matches("/p/node_modules/x/y.css"))
	assert.True(t, rules[1].matches("/p/src/main.mjs"))
	assert.False(t, rules[1].matches("/p/node_modules/x/index.js"))

	cfg.Bundle.Rules = []config.Rule{{Test: "(", Use: []string{"babel"}}}
	_, err = b.compileRules()
	assert.Error(t, err)

	cfg.Bundle.Rules = []config.Rule{{Test: `\.js$`, Use: []string{"coffee"}}}
	_, err = b.compileRules()
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	target, err := parseTarget("ES2017")
	require.NoError(t, err)
	assert.Equal(t, api.ES2017, target)

	target, err = parseTarget("")
	require.NoError(t, err)
	assert.Equal(t, api.ES2015, target)

	_, err = parseTarget("es3")
	assert.Error(t, err)
}
