package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/belt"
	"github.com/beltline/progression-engine/internal/domain/curriculum"
	"github.com/beltline/progression-engine/internal/domain/shared"
)

const sample = `
steps:
  - id: white
    belt: white
    title: Foundations
    required_certs: 1
    items:
      - {id: go-tour, title: Tour of Go, type: course, required: true, points: 40}
      - {id: gcp-ace, title: Associate Cloud Engineer, type: cert, required: true, points: 100}
      - {id: pragmatic, title: The Pragmatic Programmer, type: book, points: 20}
  - id: blue
    belt: blue
    title: Practitioner
    items:
      - {id: k8s, title: Kubernetes, type: course, required: true, points: 60}
`

func TestParse(t *testing.T) {
	ctx := context.Background()
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	st, err := c.StepForBelt(ctx, belt.White)
	require.NoError(t, err)
	assert.Equal(t, curriculum.StepID("white"), st.ID)
	assert.Equal(t, 1, st.RequiredCerts)

	items, err := c.Items(ctx, "white")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, curriculum.ItemID("go-tour"), items[0].ID)
	assert.Equal(t, curriculum.StepID("white"), items[2].StepID)

	it, err := c.Item(ctx, "gcp-ace")
	require.NoError(t, err)
	assert.Equal(t, curriculum.TypeCert, it.Type)
	assert.Equal(t, 100, c.Points("gcp-ace"))
	assert.Zero(t, c.Points("missing"))

	steps := c.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, belt.White, steps[0].Belt)
}

func TestLookupsReportNotFound(t *testing.T) {
	ctx := context.Background()
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = c.Step(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrStepNotFound)
	_, err = c.Items(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = c.Item(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrItemNotFound)
	_, err = c.StepForBelt(ctx, belt.Black)
	assert.ErrorIs(t, err, shared.ErrStepNotFound)
}

func TestParseRejectsBadContent(t *testing.T) {
	cases := map[string]string{
		"zero points":   "steps:\n  - id: w\n    belt: white\n    items:\n      - {id: a, type: course, points: 0}\n",
		"unknown type":  "steps:\n  - id: w\n    belt: white\n    items:\n      - {id: a, type: video, points: 5}\n",
		"unknown belt":  "steps:\n  - id: w\n    belt: green\n",
		"duplicate":     "steps:\n  - id: w\n    belt: white\n    items:\n      - {id: a, type: book, points: 5}\n      - {id: a, type: book, points: 5}\n",
		"shared belt":   "steps:\n  - id: w\n    belt: white\n  - id: w2\n    belt: white\n",
		"unknown field": "steps:\n  - id: w\n    belt: white\n    colour: red\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Steps(), 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
