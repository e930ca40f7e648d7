package globset

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/rotisserie/eris"
)

// Set evaluates an ordered list of positive and negated ('!') glob patterns.
// A path is selected when the last pattern matching it is positive.
type Set struct {
	patterns []pattern
}

type pattern struct {
	raw    string
	negate bool
	globs  []glob.Glob
}

// New compiles an ordered pattern list.
// Patterns use '/' as the path separator.
func New(patterns []string) (*Set, error) {
	set := &Set{}
	for _, raw := range patterns {
		p := pattern{raw: raw}

		expr := raw
		if strings.HasPrefix(expr, "!") {
			p.negate = true
			expr = expr[1:]
		}
		expr = cleanPattern(expr)

		for _, variant := range expandSuper(expr) {
			g, err := glob.Compile(variant, '/')
			if err != nil {
				return nil, eris.Wrapf(err, "invalid glob %q", raw)
			}
			p.globs = append(p.globs, g)
		}
		set.patterns = append(set.patterns, p)
	}
	return set, nil
}

// MustNew is like New but panics on an invalid pattern.
func MustNew(patterns ...string) *Set {
	s, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

// Match reports whether the slash separated path is selected.
func (s *Set) Match(name string) bool {
	name = cleanPattern(filepath.ToSlash(name))

	selected := false
	for _, p := range s.patterns {
		if p.match(name) {
			selected = !p.negate
		}
	}
	return selected
}

func (p pattern) match(name string) bool {
	for _, g := range p.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Roots returns the static directory prefix of every positive pattern.
func (s *Set) Roots() []string {
	seen := map[string]bool{}
	var roots []string
	for _, p := range s.patterns {
		if p.negate {
			continue
		}
		r := Parent(p.raw)
		if !seen[r] {
			seen[r] = true
			roots = append(roots, r)
		}
	}
	return roots
}

// Files walks root and returns the selected regular files as slash paths
// relative to root, sorted.
func (s *Set) Files(root string) ([]string, error) {
	seen := map[string]bool{}
	var files []string

	for _, r := range s.Roots() {
		dir := filepath.Join(root, filepath.FromSlash(r))
		if _, err := os.Stat(dir); eris.Is(err, os.ErrNotExist) {
			continue
		}

		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] && s.Match(rel) {
				seen[rel] = true
				files = append(files, rel)
			}
			return nil
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to walk %s", dir)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Parent returns the leading path segments of pattern that contain no glob
// syntax, or "." when the first segment is already dynamic.
func Parent(pattern string) string {
	pattern = cleanPattern(strings.TrimPrefix(pattern, "!"))

	segments := strings.Split(pattern, "/")
	var static []string
	for i, seg := range segments {
		if strings.ContainsAny(seg, "*?[{") {
			break
		}
		if i == len(segments)-1 {
			// a literal file pattern; its parent is the directory
			break
		}
		static = append(static, seg)
	}

	if len(static) == 0 {
		return "."
	}
	return path.Join(static...)
}

func cleanPattern(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// expandSuper returns every variant of p where each "**/" either stays or matches
// zero directories.
func expandSuper(p string) []string {
	i := strings.Index(p, "**/")
	if i < 0 {
		return []string{p}
	}

	var variants []string
	for _, rest := range expandSuper(p[i+3:]) {
		variants = append(variants, p[:i]+"**/"+rest, p[:i]+rest)
	}
	return variants
}
