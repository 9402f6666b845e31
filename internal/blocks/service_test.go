package blocks

import (
	"context"
	"errors"
	"testing"
)

const testPage = PageID("page-1")

func TestServiceCreateAppendsAfterLastSibling(t *testing.T) {
	service, _ := newTestService(t, []string{"a", "b", "c", "child"})

	first := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	second := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeTodo})
	third := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeDivider, Payload: Payload{Text: "ignored"}})
	child := mustCreate(t, service, NewBlock{PageID: testPage, ParentBlockID: first.ID, Type: TypeBullet})

	if first.Position != 0 || second.Position != 1 || third.Position != 2 {
		t.Fatalf("unexpected positions %d %d %d", first.Position, second.Position, third.Position)
	}
	if child.Position != 0 {
		t.Fatalf("expected child to open its own sibling group, got position %d", child.Position)
	}
	if third.Payload.Text != "" {
		t.Fatalf("expected divider text to be dropped, got %q", third.Payload.Text)
	}
	if first.ID != "a" || child.ParentBlockID != "a" {
		t.Fatalf("unexpected ids %s %s", first.ID, child.ParentBlockID)
	}
}

func TestServiceCreateRejectsTakenPosition(t *testing.T) {
	service, _ := newTestService(t, []string{"a", "b"})
	mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph, Position: intPointer(0)})

	_, err := service.CreateBlock(context.Background(), NewBlock{PageID: testPage, Type: TypeParagraph, Position: intPointer(0)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if code := ErrorCode(err, ""); code != "blocks.create_block.position_taken" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestServiceCreateRejectsUnknownParent(t *testing.T) {
	service, _ := newTestService(t, []string{"a"})
	_, err := service.CreateBlock(context.Background(), NewBlock{PageID: testPage, ParentBlockID: "missing", Type: TypeParagraph})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceUpdateMergesPayloadAndRecomputesPlainText(t *testing.T) {
	service, _ := newTestService(t, []string{"a"})
	created := mustCreate(t, service, NewBlock{
		PageID:  testPage,
		Type:    TypeTodo,
		Payload: Payload{Text: "<b>Buy</b> milk", Checked: true},
	})
	if created.PlainText != "Buy milk" {
		t.Fatalf("unexpected plain text %q", created.PlainText)
	}

	level := 7
	updated, err := service.UpdateBlock(context.Background(), created.ID, BlockPatch{Payload: &PayloadPatch{Level: &level}})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Payload.Level != MaxLevel {
		t.Fatalf("expected level clamped to %d, got %d", MaxLevel, updated.Payload.Level)
	}
	if updated.Payload.Text != "<b>Buy</b> milk" || !updated.Payload.Checked {
		t.Fatalf("expected untouched payload fields to survive, got %#v", updated.Payload)
	}

	updated, err = service.UpdateBlock(context.Background(), created.ID, BlockPatch{Payload: &PayloadPatch{Text: stringPointer("Buy <i>bread</i>")}})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.PlainText != "Buy bread" {
		t.Fatalf("expected plain text recomputed, got %q", updated.PlainText)
	}

	stored := mustList(t, service, testPage)
	if len(stored) != 1 || stored[0].PlainText != "Buy bread" || stored[0].Payload.Level != MaxLevel {
		t.Fatalf("unexpected stored block %#v", stored)
	}
}

func TestServiceUpdateMissingBlockReturnsNotFound(t *testing.T) {
	service, _ := newTestService(t, nil)
	_, err := service.UpdateBlock(context.Background(), "missing", BlockPatch{Payload: &PayloadPatch{Text: stringPointer("x")}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceUpdateRejectsUnknownType(t *testing.T) {
	service, _ := newTestService(t, []string{"a"})
	created := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	unknown := Type("table")
	_, err := service.UpdateBlock(context.Background(), created.ID, BlockPatch{Type: &unknown})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceDeleteIsIdempotent(t *testing.T) {
	service, _ := newTestService(t, []string{"a"})
	created := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})

	if err := service.DeleteBlock(context.Background(), created.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := service.DeleteBlock(context.Background(), created.ID); err != nil {
		t.Fatalf("expected second delete to succeed, got %v", err)
	}
	if remaining := mustList(t, service, testPage); len(remaining) != 0 {
		t.Fatalf("expected no blocks, got %d", len(remaining))
	}
}

func TestServiceDeleteKeepsChildren(t *testing.T) {
	service, _ := newTestService(t, []string{"parent", "child"})
	parent := mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeToggle})
	mustCreate(t, service, NewBlock{PageID: testPage, ParentBlockID: parent.ID, Type: TypeParagraph})

	if err := service.DeleteBlock(context.Background(), parent.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	remaining := mustList(t, service, testPage)
	if len(remaining) != 1 || remaining[0].ID != "child" {
		t.Fatalf("expected child to survive, got %#v", remaining)
	}
}

func TestServiceBatchReorderAssignsPositions(t *testing.T) {
	service, _ := newTestService(t, []string{"A", "B", "C", "D"})
	for range 4 {
		mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	}

	updates := []PositionUpdate{{ID: "C", Position: 0}, {ID: "A", Position: 1}, {ID: "B", Position: 2}, {ID: "D", Position: 3}}
	if err := service.BatchReorder(context.Background(), testPage, updates); err != nil {
		t.Fatalf("unexpected reorder error: %v", err)
	}

	ordered := mustList(t, service, testPage)
	expected := []BlockID{"C", "A", "B", "D"}
	for index, block := range ordered {
		if block.ID != expected[index] || block.Position != index {
			t.Fatalf("unexpected block at %d: %s@%d", index, block.ID, block.Position)
		}
	}
}

func TestServiceBatchReorderIsAtomicOnMissingBlock(t *testing.T) {
	service, _ := newTestService(t, []string{"A", "B"})
	mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})

	err := service.BatchReorder(context.Background(), testPage, []PositionUpdate{{ID: "B", Position: 0}, {ID: "ghost", Position: 1}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	ordered := mustList(t, service, testPage)
	if ordered[0].ID != "A" || ordered[1].ID != "B" {
		t.Fatalf("expected original order to survive, got %s %s", ordered[0].ID, ordered[1].ID)
	}
}

func TestServiceBatchReorderRejectsCollisionOutsideBatch(t *testing.T) {
	service, _ := newTestService(t, []string{"A", "B", "C"})
	for range 3 {
		mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	}
	err := service.BatchReorder(context.Background(), testPage, []PositionUpdate{{ID: "A", Position: 2}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceBatchReorderShiftsTail(t *testing.T) {
	service, _ := newTestService(t, []string{"A", "B", "C"})
	for range 3 {
		mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph})
	}
	err := service.BatchReorder(context.Background(), testPage, []PositionUpdate{{ID: "B", Position: 2}, {ID: "C", Position: 3}})
	if err != nil {
		t.Fatalf("unexpected reorder error: %v", err)
	}
	inserted := mustCreateAt(t, service, 1)
	if inserted.Position != 1 {
		t.Fatalf("expected inserted block at 1, got %d", inserted.Position)
	}
}

func TestServiceListBlocksOrdersByParentThenPosition(t *testing.T) {
	service, _ := newTestService(t, []string{"root-1", "root-0", "child"})
	mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph, Position: intPointer(1)})
	mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph, Position: intPointer(0)})
	mustCreate(t, service, NewBlock{PageID: testPage, ParentBlockID: "root-1", Type: TypeParagraph})

	ordered := mustList(t, service, testPage)
	expected := []BlockID{"root-0", "root-1", "child"}
	if len(ordered) != len(expected) {
		t.Fatalf("expected %d blocks, got %d", len(expected), len(ordered))
	}
	for index, block := range ordered {
		if block.ID != expected[index] {
			t.Fatalf("expected %s at %d, got %s", expected[index], index, block.ID)
		}
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
}

func mustCreateAt(t *testing.T, service *Service, position int) Block {
	t.Helper()
	service.idProvider = &staticIDGenerator{ids: []string{"inserted"}}
	return mustCreate(t, service, NewBlock{PageID: testPage, Type: TypeParagraph, Position: intPointer(position)})
}
