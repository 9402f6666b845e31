package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/blockpad/internal/auth"
	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/database"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"go.uber.org/zap"
)

func TestImportCommandReplaysFileIntoLocalDatabase(t *testing.T) {
	tempDir := t.TempDir()
	databasePath := filepath.Join(tempDir, "blockpad.db")
	sourcePath := filepath.Join(tempDir, "weekly-plan.txt")
	source := "## Goals\n[] ship the importer\n\nplain note\n"
	if err := os.WriteFile(sourcePath, []byte(source), 0o600); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	var output bytes.Buffer
	rootCmd := newRootCommand()
	rootCmd.SetOut(&output)
	rootCmd.SetArgs([]string{"import", sourcePath, "--database-path", databasePath, "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !strings.Contains(output.String(), "3 lines") {
		t.Fatalf("unexpected summary %q", output.String())
	}

	db, err := database.OpenSQLite(databasePath, sanitize.NewPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	pageService, err := pages.NewService(pages.ServiceConfig{Database: db, IDProvider: blocks.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct page service: %v", err)
	}
	found, err := pageService.SearchPages(context.Background(), "weekly-plan")
	if err != nil || len(found) != 1 {
		t.Fatalf("expected the imported page, got %v (%v)", found, err)
	}
	blockService, err := blocks.NewService(blocks.ServiceConfig{
		Database:   db,
		IDProvider: blocks.NewUUIDProvider(),
		Projector:  sanitize.NewPolicy(),
	})
	if err != nil {
		t.Fatalf("failed to construct block service: %v", err)
	}
	stored, err := blockService.ListBlocks(context.Background(), found[0].ID)
	if err != nil {
		t.Fatalf("failed to list blocks: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected three blocks, got %d", len(stored))
	}
	expected := []struct {
		blockType blocks.Type
		text      string
	}{
		{blocks.TypeHeading2, "Goals"},
		{blocks.TypeTodo, "ship the importer"},
		{blocks.TypeParagraph, "plain note"},
	}
	for index, want := range expected {
		if stored[index].Type != want.blockType || stored[index].Payload.Text != want.text {
			t.Fatalf("block %d: expected %s %q, got %s %q", index, want.blockType, want.text, stored[index].Type, stored[index].Payload.Text)
		}
	}
}

func TestTokenCommandIssuesValidSessions(t *testing.T) {
	var output bytes.Buffer
	rootCmd := newRootCommand()
	rootCmd.SetOut(&output)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"token", "--subject", "user-7", "--signing-secret", "cli-secret", "--log-level", "error"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte("cli-secret"),
		Issuer:        "blockpad",
		CookieName:    "blockpad_session",
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	claims, err := validator.ValidateToken(strings.TrimSpace(output.String()))
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}
