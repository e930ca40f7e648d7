// Package sourcemap reads, writes and chains version 3 source maps.
package sourcemap

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var digitValues = func() [256]int {
	var v [256]int
	for i := range v {
		v[i] = -1
	}
	for i := 0; i < len(base64Digits); i++ {
		v[base64Digits[i]] = i
	}
	return v
}()

// Segment maps a generated position to a position in Sources[Source]. Lines
// and columns are zero based. Source is -1 for unmapped positions.
type Segment struct {
	GenLine int
	GenCol  int
	Source  int
	Line    int
	Col     int
}

// Map is a decoded source map. Segments are sorted by generated position.
type Map struct {
	Sources        []string
	SourcesContent []string
	Segments       []Segment
}

type rawMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Parse decodes a JSON source map.
func Parse(data []byte) (*Map, error) {
	var raw rawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "invalid source map")
	}
	if raw.Version != 3 {
		return nil, eris.Errorf("unsupported source map version %d", raw.Version)
	}

	m := &Map{Sources: raw.Sources}
	if len(raw.SourcesContent) > 0 {
		m.SourcesContent = make([]string, len(raw.SourcesContent))
		for i, c := range raw.SourcesContent {
			if c != nil {
				m.SourcesContent[i] = *c
			}
		}
	}

	segments, err := decodeMappings(raw.Mappings)
	if err != nil {
		return nil, err
	}
	m.Segments = segments
	m.sort()
	return m, nil
}

func decodeMappings(s string) ([]Segment, error) {
	var segments []Segment
	var source, line, col int

	for genLine, group := range strings.Split(s, ";") {
		genCol := 0
		for _, field := range strings.Split(group, ",") {
			if field == "" {
				continue
			}
			values, err := decodeField(field)
			if err != nil {
				return nil, err
			}

			genCol += values[0]
			seg := Segment{GenLine: genLine, GenCol: genCol, Source: -1}
			switch len(values) {
			case 1:
			case 4, 5:
				source += values[1]
				line += values[2]
				col += values[3]
				seg.Source, seg.Line, seg.Col = source, line, col
			default:
				return nil, eris.Errorf("invalid mapping segment %q", field)
			}
			segments = append(segments, seg)
		}
	}
	return segments, nil
}

func decodeField(field string) ([]int, error) {
	var values []int
	for i := 0; i < len(field); {
		var result, shift int
		for {
			if i >= len(field) {
				return nil, eris.Errorf("truncated mapping segment %q", field)
			}
			d := digitValues[field[i]]
			if d < 0 {
				return nil, eris.Errorf("invalid mapping character %q", field[i])
			}
			i++
			result |= (d & 31) << shift
			shift += 5
			if d&32 == 0 {
				break
			}
		}
		v := result >> 1
		if result&1 != 0 {
			v = -v
		}
		values = append(values, v)
	}
	return values, nil
}

func encodeValue(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = -v<<1 | 1
	}
	for {
		d := u & 31
		u >>= 5
		if u > 0 {
			d |= 32
		}
		sb.WriteByte(base64Digits[d])
		if u == 0 {
			return
		}
	}
}

func (m *Map) sort() {
	sort.SliceStable(m.Segments, func(i, j int) bool {
		a, b := m.Segments[i], m.Segments[j]
		if a.GenLine != b.GenLine {
			return a.GenLine < b.GenLine
		}
		return a.GenCol < b.GenCol
	})
}

// Encode renders m as JSON for the generated file named file.
func (m *Map) Encode(file string) ([]byte, error) {
	m.sort()

	var sb strings.Builder
	var genLine, source, line, col int
	genCol := 0
	first := true
	for _, seg := range m.Segments {
		for genLine < seg.GenLine {
			sb.WriteByte(';')
			genLine++
			genCol = 0
			first = true
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false

		encodeValue(&sb, seg.GenCol-genCol)
		genCol = seg.GenCol
		if seg.Source < 0 {
			continue
		}
		encodeValue(&sb, seg.Source-source)
		encodeValue(&sb, seg.Line-line)
		encodeValue(&sb, seg.Col-col)
		source, line, col = seg.Source, seg.Line, seg.Col
	}

	raw := rawMap{
		Version:  3,
		File:     file,
		Sources:  m.Sources,
		Names:    []string{},
		Mappings: sb.String(),
	}
	if raw.Sources == nil {
		raw.Sources = []string{}
	}
	for i := range m.SourcesContent {
		raw.SourcesContent = append(raw.SourcesContent, &m.SourcesContent[i])
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode source map")
	}
	return data, nil
}

// Lookup returns the segment covering the generated position: the last one
// on line that starts at or before col.
func (m *Map) Lookup(line, col int) (Segment, bool) {
	i := sort.Search(len(m.Segments), func(i int) bool {
		s := m.Segments[i]
		return s.GenLine > line || (s.GenLine == line && s.GenCol > col)
	})
	if i == 0 {
		return Segment{}, false
	}
	s := m.Segments[i-1]
	if s.GenLine != line || s.Source < 0 {
		return Segment{}, false
	}
	return s, true
}

// Compose chains two maps: outer maps the final output to an intermediate
// file, inner maps that file to the original sources. Outer must describe a
// single source. Positions inner cannot resolve are dropped.
func Compose(outer, inner *Map) *Map {
	out := &Map{Sources: inner.Sources, SourcesContent: inner.SourcesContent}
	for _, seg := range outer.Segments {
		if seg.Source < 0 {
			continue
		}
		orig, ok := inner.Lookup(seg.Line, seg.Col)
		if !ok {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			GenLine: seg.GenLine,
			GenCol:  seg.GenCol,
			Source:  orig.Source,
			Line:    orig.Line,
			Col:     orig.Col,
		})
	}
	return out
}
