// internal/generator/generator_test.go
package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/arcadia-gg/arcadia/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoCardPool() StaticSource {
	return StaticSource{
		{Text: "Win a duel", Tier: 1, Tags: []string{"pvp"}},
		{Text: "Find a relic", Tier: 2, Tags: []string{"exploration"}},
	}
}

func TestBoardSizeBoundaryClamp(t *testing.T) {
	g := NewGenerator(twoCardPool())

	g.UpdateSettings(Settings{BoardSize: 6})
	assert.Equal(t, 6, g.Settings().BoardSize)

	g.UpdateSettings(Settings{BoardSize: 7})
	assert.Equal(t, 6, g.Settings().BoardSize, "out-of-range sizes clamp instead of failing")

	g.UpdateSettings(Settings{BoardSize: 0})
	assert.Equal(t, 3, g.Settings().BoardSize)
}

func TestTagCapEleventhToggleIsNoOp(t *testing.T) {
	g := NewGenerator(twoCardPool())
	for i := 0; i < 11; i++ {
		g.ToggleTag(fmt.Sprintf("tag-%d", i))
	}
	tags := g.Settings().Tags
	assert.Len(t, tags, 10)
	assert.NotContains(t, tags, "tag-10")
}

func TestToggleTagFlipsMembership(t *testing.T) {
	g := NewGenerator(twoCardPool())
	g.ToggleTag("pvp")
	assert.Contains(t, g.Settings().Tags, "pvp")
	g.ToggleTag("pvp")
	assert.NotContains(t, g.Settings().Tags, "pvp")
}

func TestQuickBoardFromTwoEntryPool(t *testing.T) {
	g := NewGenerator(twoCardPool())
	board, err := g.Generate(context.Background(), "quick")
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Quick Card 1", board[0].Text)
	assert.Equal(t, "Quick Card 2", board[1].Text)
}

func TestQuickBoardCapsAtBoardCapacity(t *testing.T) {
	pool := make(StaticSource, 50)
	for i := range pool {
		pool[i] = CardPoolEntry{Text: fmt.Sprintf("card %d", i), Tier: 1}
	}
	g := NewGenerator(pool)
	g.UpdateSettings(Settings{BoardSize: 3})

	board, err := g.Generate(context.Background(), "quick")
	require.NoError(t, err)
	assert.Len(t, board, 9)
}

func TestGenerateEmptyPool(t *testing.T) {
	g := NewGenerator(StaticSource{})
	_, err := g.Generate(context.Background(), "quick")
	require.Error(t, err)
	assert.Equal(t, "Card pool is empty", err.Error())
	assert.ErrorIs(t, err, ErrEmptyCardPool)
}

func TestGenerateInvalidMode(t *testing.T) {
	g := NewGenerator(twoCardPool())
	_, err := g.Generate(context.Background(), "invalid")
	require.Error(t, err)
	assert.Equal(t, "Invalid generation mode", err.Error())
	assert.ErrorIs(t, err, ErrInvalidMode)
}

type failingSource struct{}

func (failingSource) Cards(ctx context.Context) ([]CardPoolEntry, error) {
	return nil, errors.New("catalog unavailable")
}

func TestGenerateSourceFailurePropagates(t *testing.T) {
	g := NewGenerator(failingSource{})
	_, err := g.Generate(context.Background(), "custom")
	require.Error(t, err)
	assert.ErrorContains(t, err, "catalog unavailable")
}

func TestCustomBoardFiltersByTags(t *testing.T) {
	pool := StaticSource{
		{Text: "pvp one", Tier: 1, Tags: []string{"pvp"}},
		{Text: "pvp two", Tier: 2, Tags: []string{"pvp", "ranked"}},
		{Text: "pve only", Tier: 1, Tags: []string{"pve"}},
	}
	g := NewGenerator(pool)
	g.ToggleTag("pvp")

	board, err := g.Generate(context.Background(), "custom")
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "pvp one", board[0].Text)
	assert.Equal(t, "pvp two", board[1].Text)
}

func TestCustomBoardIsDeterministic(t *testing.T) {
	g := NewGenerator(twoCardPool())
	first, err := g.Generate(context.Background(), "custom")
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), "custom")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidateTagsDelegatesToPolicy(t *testing.T) {
	g := NewGenerator(twoCardPool())
	assert.True(t, g.ValidateTags([]string{"pvp", "pve"}))
	assert.False(t, g.ValidateTags([]string{""}))

	g.SetTagPolicy(TagPolicyFunc(func(tags []string) bool { return false }))
	assert.False(t, g.ValidateTags([]string{"pvp"}))
}

func TestCheckBalanceFlagsLopsidedColors(t *testing.T) {
	g := NewGenerator(twoCardPool())

	balanced := []session.BoardCell{
		{Colors: []string{"#111"}},
		{Colors: []string{"#222"}},
		{Colors: []string{"#333"}},
		{Colors: []string{"#444"}},
	}
	assert.True(t, g.CheckBalance(balanced))

	lopsided := []session.BoardCell{
		{Colors: []string{"#111"}},
		{Colors: []string{"#111"}},
		{Colors: []string{"#111"}},
		{Colors: []string{"#222"}},
	}
	assert.False(t, g.CheckBalance(lopsided))
	assert.True(t, g.CheckBalance(nil))
}

func TestOptimizeBoardRewritesNineCells(t *testing.T) {
	g := NewGenerator(twoCardPool())
	in := make([]session.BoardCell, 9)
	for i := range in {
		in[i] = session.BoardCell{
			CellID:  fmt.Sprintf("c%d", i),
			Text:    fmt.Sprintf("cell %d", i),
			Colors:  []string{"#abc"},
			Blocked: i%2 == 0,
		}
	}

	out := g.OptimizeBoard(in)
	require.Len(t, out, 9)
	for i := range out {
		assert.Equal(t, "Optimized "+in[i].Text, out[i].Text)
		assert.Equal(t, !in[i].Blocked, out[i].Blocked, "blocked must be flipped at index %d", i)
		assert.Equal(t, "optimized-"+in[i].CellID, out[i].CellID)
		assert.Contains(t, out[i].Colors, OptimizedHighlight)
		require.NotNil(t, out[i].LastUpdated)
	}
	// The input board is untouched.
	assert.Equal(t, "cell 0", in[0].Text)
	assert.True(t, in[0].Blocked)
	assert.Len(t, in[0].Colors, 1)
}
