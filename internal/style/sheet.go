package style

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/mahyarmirrashed/assetpipe/internal/sourcemap"
	"github.com/rotisserie/eris"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

type nodeKind int

const (
	declNode nodeKind = iota
	commentNode
	statementNode // at-rule without a block, e.g. @charset
	blockNode     // ruleset or at-rule with a block
)

type node struct {
	kind     nodeKind
	name     string // property or at-keyword
	value    string // declaration value, at-rule prelude or selector
	children []*node

	// position in the parsed source, line -1 when unknown
	line, col int
}

func (n *node) isMedia() bool {
	return n.kind == blockNode && strings.EqualFold(n.name, "@media")
}

// Sheet is a parsed stylesheet.
type Sheet struct {
	nodes []*node
}

// ParseSheet parses compiled CSS.
func ParseSheet(src []byte) (*Sheet, error) {
	p := css.NewParser(parse.NewInput(bytes.NewReader(src)), false)
	loc := newLocator(src)

	root := &node{kind: blockNode}
	stack := []*node{root}
	var selectors []string

	push := func(n *node) {
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, n)
	}

	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if p.Err() == io.EOF {
				if len(stack) != 1 {
					return nil, eris.New("unexpected end of stylesheet")
				}
				return &Sheet{nodes: root.children}, nil
			}
			return nil, eris.Wrap(p.Err(), "failed to parse stylesheet")
		case css.CommentGrammar:
			n := &node{kind: commentNode, value: string(data)}
			n.line, n.col = loc.find(string(data), "")
			push(n)
		case css.AtRuleGrammar:
			n := &node{kind: statementNode, name: string(data), value: joinValues(p.Values())}
			n.line, n.col = loc.find(string(data), ";")
			push(n)
		case css.QualifiedRuleGrammar:
			selectors = append(selectors, joinValues(p.Values()))
		case css.BeginRulesetGrammar:
			selectors = append(selectors, joinValues(p.Values()))
			n := &node{kind: blockNode, value: strings.Join(selectors, ", ")}
			n.line, n.col = loc.find(firstWord(selectors[0]), "{")
			selectors = selectors[:0]
			push(n)
			stack = append(stack, n)
		case css.BeginAtRuleGrammar:
			n := &node{kind: blockNode, name: string(data), value: joinValues(p.Values())}
			n.line, n.col = loc.find(string(data), "{")
			push(n)
			stack = append(stack, n)
		case css.EndRulesetGrammar, css.EndAtRuleGrammar:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			n := &node{kind: declNode, name: string(data), value: joinValues(p.Values())}
			n.line, n.col = loc.find(string(data), ";}")
			push(n)
		}
	}
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t\r\n,{"); i > 0 {
		return s[:i]
	}
	return s
}

// locator finds parsed items in the source. Items are looked up in source
// order, so each search starts where the previous item ended.
type locator struct {
	lower      []byte
	lineStarts []int
	cursor     int
}

func newLocator(src []byte) *locator {
	lower := make([]byte, len(src))
	starts := []int{0}
	for i, c := range src {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &locator{lower: lower, lineStarts: starts}
}

// find returns the zero based line and column of needle and moves past it
// up to the first of the terminator bytes.
func (l *locator) find(needle, terminators string) (int, int) {
	needle = strings.ToLower(needle)
	if needle == "" {
		return -1, 0
	}
	i := bytes.Index(l.lower[l.cursor:], []byte(needle))
	if i < 0 {
		return -1, 0
	}
	start := l.cursor + i
	l.cursor = start + len(needle)
	if j := bytes.IndexAny(l.lower[l.cursor:], terminators); j >= 0 {
		l.cursor += j
	}

	line := sort.Search(len(l.lineStarts), func(k int) bool { return l.lineStarts[k] > start }) - 1
	return line, start - l.lineStarts[line]
}

func joinValues(tokens []css.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.Write(t.Data)
	}
	return strings.TrimSpace(sb.String())
}

// SortDeclarations orders the declarations of every block by property group:
// box, border, background, text, then everything else. Relative order within a
// rank is kept, so fallbacks and shorthand/longhand pairs stay put.
func (s *Sheet) SortDeclarations() {
	var walk func(nodes []*node)
	walk = func(nodes []*node) {
		for _, n := range nodes {
			if n.kind == blockNode {
				sortBlock(n)
				walk(n.children)
			}
		}
	}
	walk(s.nodes)
}

func sortBlock(n *node) {
	// only sort runs of declarations; comments and nested blocks stay anchored
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start > 1 {
			run := n.children[start:end]
			sort.SliceStable(run, func(i, j int) bool {
				return propertyRank(run[i].name) < propertyRank(run[j].name)
			})
		}
		start = -1
	}
	for i, c := range n.children {
		if c.kind == declNode {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(n.children))
}

// PackMediaQueries moves top level @media blocks to the end of the sheet and
// merges blocks with identical queries, in order of first appearance.
func (s *Sheet) PackMediaQueries() {
	var rest []*node
	var order []string
	packed := map[string]*node{}

	for _, n := range s.nodes {
		if !n.isMedia() {
			rest = append(rest, n)
			continue
		}
		key := strings.ToLower(n.value)
		if m, ok := packed[key]; ok {
			m.children = append(m.children, n.children...)
			continue
		}
		packed[key] = n
		order = append(order, key)
	}

	for _, key := range order {
		rest = append(rest, packed[key])
	}
	s.nodes = rest
}

// String serializes the sheet.
func (s *Sheet) String() string {
	out, _ := s.Print()
	return out
}

// Print serializes the sheet and maps the start of every printed item back
// to its position in the parsed source.
func (s *Sheet) Print() (string, []sourcemap.Segment) {
	p := &printer{}
	for i, n := range s.nodes {
		if i > 0 {
			p.write("\n")
		}
		p.node(n, "")
	}
	return p.sb.String(), p.segments
}

type printer struct {
	sb        strings.Builder
	line, col int
	segments  []sourcemap.Segment
}

func (p *printer) write(s string) {
	p.sb.WriteString(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		p.line += strings.Count(s, "\n")
		p.col = len(s) - i - 1
	} else {
		p.col += len(s)
	}
}

func (p *printer) mark(n *node) {
	if n.line >= 0 {
		p.segments = append(p.segments, sourcemap.Segment{
			GenLine: p.line,
			GenCol:  p.col,
			Line:    n.line,
			Col:     n.col,
		})
	}
}

func (p *printer) node(n *node, indent string) {
	p.write(indent)
	p.mark(n)
	switch n.kind {
	case declNode:
		p.write(n.name + ": " + n.value + ";\n")
	case commentNode:
		p.write(n.value + "\n")
	case statementNode:
		p.write(n.name)
		if n.value != "" {
			p.write(" " + n.value)
		}
		p.write(";\n")
	case blockNode:
		if n.name != "" {
			p.write(n.name)
			if n.value != "" {
				p.write(" ")
			}
		}
		p.write(n.value + " {\n")
		for _, c := range n.children {
			p.node(c, indent+"  ")
		}
		p.write(indent + "}\n")
	}
}
