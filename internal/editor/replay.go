package editor

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/trigger"
)

const replayIndentWidth = 2

// ReplayStats summarizes one Replay run.
type ReplayStats struct {
	Lines     int
	Skipped   int
	Created   int
	Converted int
}

// Replay types every non-blank line of r into the page the way a person
// would: one character at a time into its own block, so markdown shortcuts
// and slash commands convert blocks as they are typed. Leading tabs or pairs
// of spaces set the indentation level. Pending text is flushed before Replay
// returns.
func (c *Controller) Replay(ctx context.Context, r io.Reader) (ReplayStats, error) {
	var stats ReplayStats
	var current blocks.BlockID
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		level, line := splitIndent(scanner.Text())
		if strings.TrimSpace(line) == "" {
			stats.Skipped++
			continue
		}
		stats.Lines++

		var (
			next    blocks.BlockID
			created bool
			err     error
		)
		if current == "" {
			next, created, err = c.replayStart(ctx)
		} else {
			next, err = c.replayNext(ctx, current)
			created = true
		}
		if err != nil {
			return stats, err
		}
		if created {
			stats.Created++
		}
		current = next

		if err := c.replayLevel(ctx, current, level); err != nil {
			return stats, err
		}
		converted, err := c.replayLine(ctx, current, line)
		stats.Converted += converted
		if err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, c.engine.FlushAll(ctx)
}

// replayStart reuses a trailing empty text block or appends a new one.
func (c *Controller) replayStart(ctx context.Context) (blocks.BlockID, bool, error) {
	ordered := c.Blocks()
	if len(ordered) == 0 {
		created, err := c.CreateBlock(ctx, CreateOptions{Type: blocks.TypeParagraph})
		if err != nil {
			return "", false, err
		}
		return created.ID, true, c.Focus(ctx, created.ID)
	}
	last := ordered[len(ordered)-1]
	if last.IsTextTarget() && last.Payload.Text == "" {
		return last.ID, false, c.Focus(ctx, last.ID)
	}
	next, err := c.replayNext(ctx, last.ID)
	return next, err == nil, err
}

// replayNext presses Enter on a block with text, or inserts a paragraph
// after blocks Enter cannot split.
func (c *Controller) replayNext(ctx context.Context, id blocks.BlockID) (blocks.BlockID, error) {
	block, ok := c.Block(id)
	if !ok {
		return "", notFound(id)
	}
	if block.IsTextTarget() && block.Payload.Text != "" {
		effect, err := c.HandleKey(ctx, id, Key{Name: KeyEnter})
		if err != nil {
			return "", err
		}
		if effect.Kind == EffectCreated {
			return effect.Block.ID, nil
		}
	}
	after := block.Position
	created, err := c.CreateBlock(ctx, CreateOptions{
		ParentBlockID: block.ParentBlockID,
		AfterPosition: &after,
		Type:          blocks.TypeParagraph,
	})
	if err != nil {
		return "", err
	}
	return created.ID, c.Focus(ctx, created.ID)
}

func (c *Controller) replayLevel(ctx context.Context, id blocks.BlockID, level int) error {
	target := blocks.ClampLevel(level)
	for step := 0; step <= blocks.MaxLevel; step++ {
		block, ok := c.Block(id)
		if !ok {
			return notFound(id)
		}
		if block.Payload.Level == target {
			return nil
		}
		key := Key{Name: KeyTab, Shift: block.Payload.Level > target}
		if _, err := c.HandleKey(ctx, id, key); err != nil {
			return err
		}
	}
	return nil
}

// replayLine types line into the block and settles any menu left open. A
// line that is a slash command with matches commits; any other menu is
// dismissed.
func (c *Controller) replayLine(ctx context.Context, id blocks.BlockID, line string) (int, error) {
	converted := 0
	typed := ""
	for _, r := range line {
		typed += string(r)
		effect, err := c.InputText(ctx, id, typed, len(typed))
		if err != nil {
			return converted, err
		}
		if effect.Kind != EffectConverted {
			continue
		}
		converted++
		if effect.Focus == "" {
			// Dividers carry no text.
			return converted, nil
		}
		typed = effect.Text
	}

	// A bare marker such as "---" converts once its space is typed.
	if converted == 0 && trigger.Detect(typed+" ", len(typed)+1).Kind == trigger.KindMarkdown {
		typed += " "
		effect, err := c.InputText(ctx, id, typed, len(typed))
		if err != nil {
			return converted, err
		}
		if effect.Kind == EffectConverted {
			return converted + 1, nil
		}
	}

	menu := c.Menu()
	if !menu.Open() || menu.BlockID != id {
		return converted, nil
	}
	if menu.Kind == trigger.KindSlash && menu.Start == 0 && len(menu.Options) > 0 {
		effect, err := c.MenuCommit(ctx)
		if err != nil {
			return converted, err
		}
		if effect.Kind == EffectConverted {
			converted++
		}
		return converted, nil
	}
	c.MenuClose()
	return converted, nil
}

// splitIndent counts leading tabs and pairs of spaces as levels.
func splitIndent(raw string) (int, string) {
	level := 0
	rest := raw
	for {
		switch {
		case strings.HasPrefix(rest, "\t"):
			rest = rest[1:]
		case strings.HasPrefix(rest, strings.Repeat(" ", replayIndentWidth)):
			rest = rest[replayIndentWidth:]
		default:
			return level, strings.TrimRight(rest, " \r")
		}
		level++
	}
}
