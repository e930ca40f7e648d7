package style

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/bep/godartsass/v2"
	"github.com/rotisserie/eris"
	log "github.com/sirupsen/logrus"
)

// Syntax is the input language of a stylesheet.
type Syntax int

const (
	SyntaxSCSS Syntax = iota
	SyntaxSass        // indented syntax
	SyntaxCSS
)

// SyntaxFor picks the syntax from the file extension.
func SyntaxFor(path string) Syntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sass":
		return SyntaxSass
	case ".css":
		return SyntaxCSS
	}
	return SyntaxSCSS
}

// Request is one compilation.
type Request struct {
	Path         string
	Source       string
	Syntax       Syntax
	SourceMap    bool
	IncludePaths []string
}

// Result is compiled CSS with an optional source map (JSON).
type Result struct {
	CSS       string
	SourceMap string
}

// Compiler turns Sass into CSS.
type Compiler interface {
	Compile(req Request) (Result, error)
	Close() error
}

// DartSass compiles through the Dart Sass embedded protocol.
// The binary is started on first use and shared across goroutines.
type DartSass struct {
	Binary string

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
}

// NewDartSass creates a compiler using the given sass executable.
func NewDartSass(binary string) *DartSass {
	return &DartSass{Binary: binary}
}

func (d *DartSass) start() (*godartsass.Transpiler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler != nil {
		return d.transpiler, nil
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: d.Binary,
		LogEventHandler: func(e godartsass.LogEvent) {
			log.WithField("task", "sass").Warn(e.Message)
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to start %s", d.Binary)
	}
	d.transpiler = t
	return t, nil
}

// Compile implements Compiler.
func (d *DartSass) Compile(req Request) (Result, error) {
	t, err := d.start()
	if err != nil {
		return Result{}, err
	}

	args := godartsass.Args{
		Source:                  req.Source,
		OutputStyle:             godartsass.OutputStyleExpanded,
		IncludePaths:            req.IncludePaths,
		EnableSourceMap:         req.SourceMap,
		SourceMapIncludeSources: req.SourceMap,
	}
	if abs, err := filepath.Abs(req.Path); err == nil {
		args.URL = "file://" + filepath.ToSlash(abs)
	}
	switch req.Syntax {
	case SyntaxSass:
		args.SourceSyntax = godartsass.SourceSyntaxSASS
	case SyntaxCSS:
		args.SourceSyntax = godartsass.SourceSyntaxCSS
	default:
		args.SourceSyntax = godartsass.SourceSyntaxSCSS
	}

	res, err := t.Execute(args)
	if err != nil {
		return Result{}, eris.Wrapf(err, "failed to compile %s", req.Path)
	}
	return Result{CSS: res.CSS, SourceMap: res.SourceMap}, nil
}

// Close stops the sass process if it was started.
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler == nil {
		return nil
	}
	err := d.transpiler.Close()
	d.transpiler = nil
	return err
}
