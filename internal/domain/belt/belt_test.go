package belt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline/progression-engine/internal/domain/shared"
)

func TestLadderOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Less(all[i]), "%s should be below %s", all[i-1], all[i])
	}
}

func TestNext(t *testing.T) {
	next, ok := White.Next()
	assert.True(t, ok)
	assert.Equal(t, Blue, next)

	next, ok = Brown.Next()
	assert.True(t, ok)
	assert.Equal(t, Black, next)

	_, ok = Black.Next()
	assert.False(t, ok)
	assert.True(t, Black.IsTerminal())

	_, ok = Belt("green").Next()
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	b, err := Parse(" Purple ")
	require.NoError(t, err)
	assert.Equal(t, Purple, b)

	_, err = Parse("orange")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDegree(t *testing.T) {
	assert.False(t, Degree(0).IsValid())
	assert.True(t, Degree(1).IsValid())
	assert.True(t, Degree(4).IsValid())
	assert.False(t, Degree(5).IsValid())
	assert.True(t, Degree(4).IsMax())
}

func TestRankOrdinal(t *testing.T) {
	assert.True(t, Rank{White, 4}.Less(Rank{Blue, 1}))
	assert.True(t, Rank{Blue, 1}.Less(Rank{Blue, 2}))
	assert.False(t, Rank{Black, 1}.Less(Rank{Brown, 4}))
	assert.Equal(t, "blue/2", Rank{Blue, 2}.String())
}
