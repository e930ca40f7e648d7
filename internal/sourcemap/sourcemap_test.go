package sourcemap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	m := &Map{
		Sources: []string{"main.scss"},
		Segments: []Segment{
			{GenLine: 2, GenCol: 2, Source: 0, Line: 1, Col: 2},
			{GenLine: 0, GenCol: 0, Source: 0, Line: 0, Col: 0},
			{GenLine: 0, GenCol: 4, Source: 0, Line: 0, Col: 4},
		},
	}

	data, err := m.Encode("main.css")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "AAAA,IAAI;;EACF", raw["mappings"])
	assert.Equal(t, "main.css", raw["file"])
	assert.EqualValues(t, 3, raw["version"])
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`{"version":3,"sources":["a.scss","b.scss"],"sourcesContent":["a",null],"names":[],"mappings":"AAAA,IAAI;;EACF,gBCAA;C"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.scss", "b.scss"}, m.Sources)
	assert.Equal(t, []string{"a", ""}, m.SourcesContent)
	assert.Equal(t, []Segment{
		{GenLine: 0, GenCol: 0, Source: 0, Line: 0, Col: 0},
		{GenLine: 0, GenCol: 4, Source: 0, Line: 0, Col: 4},
		{GenLine: 2, GenCol: 2, Source: 0, Line: 1, Col: 2},
		{GenLine: 2, GenCol: 18, Source: 1, Line: 1, Col: 2},
		{GenLine: 3, GenCol: 1, Source: -1},
	}, m.Segments)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`{`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"version":2,"mappings":""}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"version":3,"mappings":"AA"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"version":3,"mappings":"g"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"version":3,"mappings":"A!"}`))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	m := &Map{Segments: []Segment{
		{GenLine: 0, GenCol: 0, Source: 0, Line: 5, Col: 0},
		{GenLine: 0, GenCol: 6, Source: 0, Line: 5, Col: 8},
		{GenLine: 0, GenCol: 10, Source: -1},
		{GenLine: 2, GenCol: 2, Source: 0, Line: 9, Col: 2},
	}}

	seg, ok := m.Lookup(0, 3)
	require.True(t, ok)
	assert.Equal(t, 5, seg.Line)
	assert.Equal(t, 0, seg.Col)

	seg, ok = m.Lookup(0, 6)
	require.True(t, ok)
	assert.Equal(t, 8, seg.Col)

	_, ok = m.Lookup(0, 12)
	assert.False(t, ok, "unmapped segment")

	_, ok = m.Lookup(1, 0)
	assert.False(t, ok, "no segment on line")

	_, ok = m.Lookup(2, 1)
	assert.False(t, ok, "before the first segment of the line")
}

func TestCompose(t *testing.T) {
	outer := &Map{
		Sources: []string{"intermediate.css"},
		Segments: []Segment{
			{GenLine: 0, GenCol: 0, Source: 0, Line: 4, Col: 0},
			{GenLine: 1, GenCol: 2, Source: 0, Line: 5, Col: 2},
			{GenLine: 2, GenCol: 0, Source: 0, Line: 7, Col: 0},
		},
	}
	inner := &Map{
		Sources:        []string{"main.scss"},
		SourcesContent: []string{".a { color: red; }"},
		Segments: []Segment{
			{GenLine: 4, GenCol: 0, Source: 0, Line: 1, Col: 0},
			{GenLine: 5, GenCol: 2, Source: 0, Line: 1, Col: 5},
		},
	}

	m := Compose(outer, inner)
	assert.Equal(t, inner.Sources, m.Sources)
	assert.Equal(t, inner.SourcesContent, m.SourcesContent)
	assert.Equal(t, []Segment{
		{GenLine: 0, GenCol: 0, Source: 0, Line: 1, Col: 0},
		{GenLine: 1, GenCol: 2, Source: 0, Line: 1, Col: 5},
	}, m.Segments)
}
