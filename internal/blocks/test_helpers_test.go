package blocks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:blocks_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&BlockRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
		Projector:  sanitize.NewPolicy(),
	})
	if err != nil {
		t.Fatalf("failed to construct blocks service: %v", err)
	}
	return service, db
}

func mustCreate(t *testing.T, service *Service, request NewBlock) Block {
	t.Helper()
	block, err := service.CreateBlock(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return block
}

func mustList(t *testing.T, service *Service, pageID PageID) []Block {
	t.Helper()
	list, err := service.ListBlocks(context.Background(), pageID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	return list
}

func intPointer(value int) *int {
	return &value
}

func stringPointer(value string) *string {
	return &value
}
