package editor

import (
	"context"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIndent(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw   string
		level int
		line  string
	}{
		{raw: "plain", level: 0, line: "plain"},
		{raw: "  nested", level: 1, line: "nested"},
		{raw: "\t\tdeep\r", level: 2, line: "deep"},
		{raw: "   odd", level: 1, line: " odd"},
	}
	for _, testCase := range testCases {
		level, line := splitIndent(testCase.raw)
		assert.Equal(t, testCase.level, level, testCase.raw)
		assert.Equal(t, testCase.line, line, testCase.raw)
	}
}

func TestReplayTypesLinesIntoBlocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newControllerFixture(t, paragraph("A", 0, ""))

	input := strings.Join([]string{
		"# Plan",
		"first step",
		"  nested idea",
		"---",
		"",
		"/todo",
	}, "\n")
	stats, err := f.controller.Replay(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 5, Skipped: 1, Created: 4, Converted: 3}, stats)

	ordered := f.controller.Blocks()
	require.Len(t, ordered, 5)
	assert.Equal(t, blocks.BlockID("A"), ordered[0].ID)

	types := make([]blocks.Type, 0, len(ordered))
	texts := make([]string, 0, len(ordered))
	for _, block := range ordered {
		types = append(types, block.Type)
		texts = append(texts, block.Payload.Text)
	}
	assert.Equal(t, []blocks.Type{
		blocks.TypeHeading1,
		blocks.TypeParagraph,
		blocks.TypeParagraph,
		blocks.TypeDivider,
		blocks.TypeTodo,
	}, types)
	assert.Equal(t, []string{"Plan", "first step", "nested idea", "", ""}, texts)
	assert.Equal(t, 1, ordered[2].Payload.Level)
	assert.Equal(t, 0, ordered[3].Payload.Level)

	// Replay flushes, so the store already holds every line.
	stored, ok := f.store.stored(ordered[2].ID)
	require.True(t, ok)
	assert.Equal(t, "nested idea", stored.Payload.Text)
	assert.Equal(t, 1, stored.Payload.Level)
	heading, ok := f.store.stored("A")
	require.True(t, ok)
	assert.Equal(t, "Plan", heading.Payload.Text)
	assert.False(t, f.controller.Menu().Open())
}

func TestReplayAppendsAfterExistingText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newControllerFixture(t, paragraph("A", 0, "kept"))

	stats, err := f.controller.Replay(ctx, strings.NewReader("added\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	ordered := f.controller.Blocks()
	require.Len(t, ordered, 2)
	assert.Equal(t, "kept", ordered[0].Payload.Text)
	assert.Equal(t, "added", ordered[1].Payload.Text)
}

func TestReplayKeepsSlashInsideText(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newControllerFixture(t, paragraph("A", 0, ""))

	stats, err := f.controller.Replay(ctx, strings.NewReader("call /list\nsee /heading 2 notes\n/quote\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Converted)

	ordered := f.controller.Blocks()
	require.Len(t, ordered, 3)
	assert.Equal(t, blocks.TypeParagraph, ordered[0].Type)
	assert.Equal(t, "call /list", ordered[0].Payload.Text)
	assert.Equal(t, blocks.TypeParagraph, ordered[1].Type)
	assert.Equal(t, "see /heading 2 notes", ordered[1].Payload.Text)
	assert.Equal(t, blocks.TypeQuote, ordered[2].Type)
	assert.Equal(t, "", ordered[2].Payload.Text)
	assert.False(t, f.controller.Menu().Open())
}

func TestReplayStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, paragraph("A", 0, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.controller.Replay(ctx, strings.NewReader("line\n"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.textWrites())
}
