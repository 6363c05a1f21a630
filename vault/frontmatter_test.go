package vault

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontmatter_RenderOrder(t *testing.T) {
	fm := NewFrontmatter().
		Set("title", "Weekly Sync").
		Set("chain_id", "abc-123").
		Set("status", "completed").
		Set("created", "2026-08-24T10:00:00.000Z")

	out, err := fm.Render()
	require.NoError(t, err)
	assert.Equal(t, "---\n"+
		"title: Weekly Sync\n"+
		"chain_id: abc-123\n"+
		"status: completed\n"+
		"created: \"2026-08-24T10:00:00.000Z\"\n"+
		"---\n", out)
}

func TestFrontmatter_RenderListsAsBlocks(t *testing.T) {
	fm := NewFrontmatter().
		Set("date", "2026-08-24").
		Set("tags", []string{"memory", "graph"})

	out, err := fm.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "tags:\n  - memory\n  - graph\n")
}

func TestFrontmatter_RenderNestedMaps(t *testing.T) {
	fm := NewFrontmatter().
		Set("meta", map[string]interface{}{"b": 2, "a": 1})

	out, err := fm.Render()
	require.NoError(t, err)
	// Plain nested maps render sorted for stable output
	assert.Contains(t, out, "meta:\n  a: 1\n  b: 2\n")
}

func TestFrontmatter_RenderEmpty(t *testing.T) {
	out, err := NewFrontmatter().Render()
	require.NoError(t, err)
	assert.Empty(t, out)

	var fm *Frontmatter
	out, err = fm.Render()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFrontmatter_SetOverwriteKeepsPosition(t *testing.T) {
	fm := NewFrontmatter().
		Set("first", 1).
		Set("second", 2).
		Set("first", 10)

	assert.Equal(t, []string{"first", "second"}, fm.Keys())
	value, _ := fm.Get("first")
	assert.Equal(t, 10, value)
}

func TestParseFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantBody string
		wantKeys []string
		wantNil  bool
	}{
		{
			name:     "WithBlock",
			content:  "---\ntitle: Note\ntags:\n  - a\n  - b\n---\nbody text\n",
			wantBody: "body text\n",
			wantKeys: []string{"title", "tags"},
		},
		{
			name:     "NoBlock",
			content:  "just a body",
			wantBody: "just a body",
			wantNil:  true,
		},
		{
			name:     "Unterminated",
			content:  "---\ntitle: Note\nno closing fence",
			wantBody: "---\ntitle: Note\nno closing fence",
			wantNil:  true,
		},
		{
			name:     "EmptyBody",
			content:  "---\ntitle: Note\n---\n",
			wantBody: "",
			wantKeys: []string{"title"},
		},
		{
			name:     "FenceAtEOFWithoutNewline",
			content:  "---\ntitle: Note\n---",
			wantBody: "",
			wantKeys: []string{"title"},
		},
		{
			name:     "BodyWithDashes",
			content:  "---\ntitle: Note\n---\nintro\n\n----\noutro\n",
			wantBody: "intro\n\n----\noutro\n",
			wantKeys: []string{"title"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := ParseFrontmatter(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, body)
			if tt.wantNil {
				assert.Nil(t, fm)
			} else {
				require.NotNil(t, fm)
				assert.Equal(t, tt.wantKeys, fm.Keys())
			}
		})
	}
}

func TestParseFrontmatter_Malformed(t *testing.T) {
	_, _, err := ParseFrontmatter("---\n\t: {{bad\n---\nbody")
	assert.Error(t, err)
}

// TestFrontmatter_RoundTripProperty verifies parse(format(F)) == F for
// finite maps with string, number, and list-of-string values.
func TestFrontmatter_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("render then parse preserves keys, order and values", prop.ForAll(
		func(pairs []fmPair) bool {
			fm := NewFrontmatter()
			for _, pair := range pairs {
				fm.Set(pair.key, pair.value)
			}

			rendered, err := fm.Render()
			if err != nil {
				return false
			}
			if fm.Len() == 0 {
				return rendered == ""
			}

			parsed, body, err := ParseFrontmatter(rendered + "body\n")
			if err != nil || body != "body\n" || parsed == nil {
				return false
			}

			if !reflect.DeepEqual(fm.Keys(), parsed.Keys()) {
				return false
			}
			for _, key := range fm.Keys() {
				want, _ := fm.Get(key)
				got, _ := parsed.Get(key)
				if !reflect.DeepEqual(want, got) {
					return false
				}
			}
			return true
		},
		genFrontmatterPairs(),
	))

	properties.TestingRun(t)
}

type fmPair struct {
	key   string
	value interface{}
}

func genKey() gopter.Gen {
	return gen.RegexMatch(`[a-z][a-z0-9_]{0,11}`)
}

func genScalarValue() gopter.Gen {
	return gen.OneGenOf(
		gen.AlphaString(),
		gen.Int(),
		// Offset by .5 so the float never renders like an integer, which
		// would parse back as one.
		gen.IntRange(-1000, 1000).Map(func(v int) float64 { return float64(v) + 0.5 }),
		gen.SliceOf(gen.AlphaString()).Map(func(v []string) []interface{} {
			items := make([]interface{}, len(v))
			for i, s := range v {
				items[i] = s
			}
			return items
		}),
	)
}

func genFrontmatterPairs() gopter.Gen {
	pair := gopter.CombineGens(genKey(), genScalarValue()).Map(func(vals []interface{}) fmPair {
		return fmPair{key: vals[0].(string), value: vals[1]}
	})
	return gen.SliceOf(pair).Map(func(pairs []fmPair) []fmPair {
		// Dedup keys: Set keeps the first position but the last value, so
		// duplicate keys would make order comparison ambiguous.
		seen := map[string]bool{}
		out := pairs[:0]
		for _, p := range pairs {
			if seen[p.key] {
				continue
			}
			seen[p.key] = true
			out = append(out, p)
		}
		return out
	})
}
