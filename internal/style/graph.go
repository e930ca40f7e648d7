package style

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	importRe = regexp.MustCompile(`(?m)^[ \t]*@(import|use|forward)[ \t]+([^;\n]+)`)
	quotedRe = regexp.MustCompile(`["']([^"']+)["']`)
)

// Graph tracks which stylesheets import which, so an edited partial can be
// traced back to the files that include it.
type Graph struct {
	mu        sync.Mutex
	loadPaths []string
	imports   map[string][]string
}

// NewGraph creates a graph resolving imports relative to the importing file,
// then against loadPaths.
func NewGraph(loadPaths ...string) *Graph {
	return &Graph{
		loadPaths: loadPaths,
		imports:   make(map[string][]string),
	}
}

// Update re-reads the imports of file from its contents.
func (g *Graph) Update(file string, contents []byte) {
	file = filepath.Clean(file)

	var resolved []string
	for _, ref := range ParseImports(contents) {
		if dep := g.resolve(filepath.Dir(file), ref); dep != "" {
			resolved = append(resolved, dep)
		}
	}

	g.mu.Lock()
	g.imports[file] = resolved
	g.mu.Unlock()
}

// Imports returns the resolved direct imports of file.
func (g *Graph) Imports(file string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.imports[filepath.Clean(file)]...)
}

// Dependents returns every file that imports file directly or transitively, sorted.
func (g *Graph) Dependents(file string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	importers := map[string][]string{}
	for from, deps := range g.imports {
		for _, dep := range deps {
			importers[dep] = append(importers[dep], from)
		}
	}

	start := filepath.Clean(file)
	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, from := range importers[cur] {
			if !seen[from] {
				seen[from] = true
				out = append(out, from)
				queue = append(queue, from)
			}
		}
	}

	sort.Strings(out)
	return out
}

// ParseImports extracts the module references of @import, @use and @forward rules.
// Built-in modules, remote urls and plain css imports are left out.
func ParseImports(contents []byte) []string {
	var refs []string
	for _, m := range importRe.FindAllSubmatch(contents, -1) {
		keyword, args := string(m[1]), string(m[2])

		var candidates []string
		if quoted := quotedRe.FindAllStringSubmatch(args, -1); len(quoted) > 0 {
			for _, q := range quoted {
				candidates = append(candidates, q[1])
				if keyword != "import" {
					// @use "x" with ($a: "b") only references the first string
					break
				}
			}
		} else {
			// indented syntax allows unquoted @import a, b
			for _, part := range strings.Split(args, ",") {
				if fields := strings.Fields(part); len(fields) > 0 {
					candidates = append(candidates, fields[0])
				}
			}
		}

		for _, ref := range candidates {
			if isExternal(ref) {
				continue
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

func isExternal(ref string) bool {
	switch {
	case strings.HasPrefix(ref, "sass:"),
		strings.HasPrefix(ref, "http://"),
		strings.HasPrefix(ref, "https://"),
		strings.HasPrefix(ref, "//"),
		strings.HasPrefix(ref, "url("),
		strings.HasSuffix(ref, ".css"):
		return true
	}
	return false
}

// resolve follows Sass load rules: partials, extensions and index files.
func (g *Graph) resolve(fromDir, ref string) string {
	dir, name := path.Split(ref)
	exts := []string{".scss", ".sass"}
	if path.Ext(name) != "" {
		exts = []string{""}
	}

	var candidates []string
	for _, ext := range exts {
		candidates = append(candidates,
			path.Join(dir, "_"+name+ext),
			path.Join(dir, name+ext),
		)
	}
	for _, ext := range []string{".scss", ".sass"} {
		candidates = append(candidates,
			path.Join(ref, "_index"+ext),
			path.Join(ref, "index"+ext),
		)
	}

	for _, base := range append([]string{fromDir}, g.loadPaths...) {
		for _, c := range candidates {
			p := filepath.Clean(filepath.Join(base, filepath.FromSlash(c)))
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				return p
			}
		}
	}
	return ""
}
