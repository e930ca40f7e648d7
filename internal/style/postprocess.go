package style

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/mahyarmirrashed/assetpipe/internal/sourcemap"
	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	mincss "github.com/tdewolff/minify/v2/css"
)

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", mincss.Minify)
	return m
}()

var engineRe = regexp.MustCompile(`^([a-z]+)(\d[\d.]*)$`)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// ParseEngines converts browser targets such as "safari11" to prefixing engines.
func ParseEngines(browsers []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(browsers))
	for _, b := range browsers {
		m := engineRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(b)))
		if m == nil {
			return nil, eris.Errorf("invalid browser target %q", b)
		}
		name, ok := engineNames[m[1]]
		if !ok {
			return nil, eris.Errorf("unknown browser %q", m[1])
		}
		engines = append(engines, api.Engine{Name: name, Version: m[2]})
	}
	return engines, nil
}

// PostProcess sorts declarations, packs media queries and adds vendor
// prefixes for engines.
func PostProcess(name, src string, engines []api.Engine) (string, error) {
	sheet, err := parseForPost(name, src)
	if err != nil {
		return "", err
	}
	return Prefix(name, sheet.String(), engines)
}

// PostProcessWithMap is PostProcess for a stylesheet described by the JSON
// source map inputMap. It returns the result together with a map from the
// result to the sources of inputMap.
func PostProcessWithMap(name, src, inputMap string, engines []api.Engine) (string, string, error) {
	input, err := sourcemap.Parse([]byte(inputMap))
	if err != nil {
		return "", "", eris.Wrapf(err, "failed to read source map of %s", name)
	}

	sheet, err := parseForPost(name, src)
	if err != nil {
		return "", "", err
	}
	printed, segments := sheet.Print()
	reordered := &sourcemap.Map{Sources: []string{name}, Segments: segments}

	res := api.Transform(printed, api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    engines,
		Sourcefile: name,
		Sourcemap:  api.SourceMapExternal,
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return "", "", eris.Errorf("%s: %s", name, formatMessages(res.Errors))
	}
	prefixed, err := sourcemap.Parse(res.Map)
	if err != nil {
		return "", "", eris.Wrapf(err, "failed to read prefixer source map of %s", name)
	}

	final := sourcemap.Compose(prefixed, sourcemap.Compose(reordered, input))
	data, err := final.Encode(filepath.Base(strings.TrimSuffix(name, filepath.Ext(name))) + ".css")
	if err != nil {
		return "", "", err
	}
	return string(res.Code), string(data), nil
}

func parseForPost(name, src string) (*Sheet, error) {
	sheet, err := ParseSheet([]byte(src))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", name)
	}
	sheet.SortDeclarations()
	sheet.PackMediaQueries()
	return sheet, nil
}

// Prefix adds the vendor prefixes the engines need.
func Prefix(name, src string, engines []api.Engine) (string, error) {
	res := api.Transform(src, api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    engines,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return "", eris.Errorf("%s: %s", name, formatMessages(res.Errors))
	}
	return string(res.Code), nil
}

// Minify compresses CSS aggressively.
func Minify(src string) (string, error) {
	out, err := minifier.String("text/css", src)
	if err != nil {
		return "", eris.Wrap(err, "failed to minify")
	}
	return out, nil
}

// AppendSourceMap embeds a JSON source map as a trailing comment.
func AppendSourceMap(css, sourceMap string) string {
	if sourceMap == "" {
		return css
	}
	if !strings.HasSuffix(css, "\n") {
		css += "\n"
	}
	return css + "/*# sourceMappingURL=data:application/json;charset=utf-8;base64," +
		base64.StdEncoding.EncodeToString([]byte(sourceMap)) + " */\n"
}

func formatMessages(msgs []api.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, FormatMessage(m))
	}
	return strings.Join(lines, "; ")
}

// FormatMessage renders a bundler diagnostic as file:line:column: text.
func FormatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}
