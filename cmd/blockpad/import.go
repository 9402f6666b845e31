package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/config"
	"github.com/MarcoPoloResearchLab/blockpad/internal/database"
	"github.com/MarcoPoloResearchLab/blockpad/internal/editor"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/remote"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type importOptions struct {
	pageID    string
	title     string
	serverURL string
	token     string
}

func newImportCommand() *cobra.Command {
	var options importOptions
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Type a text file into a page through the editor",
		Long: "Replays every line of FILE into a page as typed input, so markdown " +
			"shortcuts and slash commands convert blocks. Writes go to the local " +
			"database, or to a running server when --server is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, args[0], options)
		},
	}
	cmd.Flags().StringVar(&options.pageID, "page", "", "Existing page id to append to")
	cmd.Flags().StringVar(&options.title, "title", "", "Title of a new page to create (defaults to the file name)")
	cmd.Flags().StringVar(&options.serverURL, "server", "", "Base URL of a blockpad server")
	cmd.Flags().StringVar(&options.token, "token", "", "Session token for --server")
	cmd.MarkFlagsMutuallyExclusive("page", "title")
	cmd.MarkFlagsRequiredTogether("server", "token")
	return cmd
}

// importBackend is what the editor needs from either a local database or a
// remote server.
type importBackend interface {
	blocks.Store
	pages.Directory
}

func runImport(ctx context.Context, cmd *cobra.Command, path string, options importOptions) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	backend, closeBackend, err := openImportBackend(appConfig, options, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	pageID := blocks.PageID(options.pageID)
	if pageID == "" {
		title := options.title
		if title == "" {
			base := filepath.Base(path)
			title = strings.TrimSuffix(base, filepath.Ext(base))
		}
		page, err := backend.CreatePage(ctx, pages.NewPage{Title: title})
		if err != nil {
			return err
		}
		pageID = page.ID
		logger.Info("page created for import", zap.String("page_id", pageID.String()), zap.String("title", page.Title))
	}

	controller, err := editor.NewController(editor.ControllerConfig{
		PageID:     pageID,
		Store:      backend,
		Pages:      backend,
		Delay:      appConfig.EditorDebounce,
		MaxRetries: appConfig.EditorMaxRetries,
		Logger:     logger,
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}
	if err := controller.Load(ctx); err != nil {
		return err
	}

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	flushed := controller.Engine().FlushOnSignal(watchCtx, os.Interrupt, syscall.SIGTERM)

	replayCtx, stopReplay := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	stats, replayErr := controller.Replay(replayCtx, file)
	stopReplay()
	closeErr := controller.Close(context.Background())
	stopWatching()
	if flushErr, ok := <-flushed; ok && flushErr != nil {
		logger.Warn("flush on signal failed", zap.Error(flushErr))
	}
	if err := errors.Join(replayErr, closeErr); err != nil {
		return err
	}

	engineStats := controller.Engine().Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "page %s: %d lines, %d blocks created, %d converted, %d text writes\n",
		pageID, stats.Lines, stats.Created, stats.Converted, engineStats.TextWrites)
	return nil
}

func openImportBackend(appConfig config.AppConfig, options importOptions, logger *zap.Logger) (importBackend, func(), error) {
	if options.serverURL != "" {
		client, err := remote.NewClient(remote.Config{
			BaseURL: options.serverURL,
			Token:   options.token,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}

	policy := sanitize.NewPolicy()
	db, err := database.OpenSQLite(appConfig.DatabasePath, policy, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	blockService, err := blocks.NewService(blocks.ServiceConfig{
		Database:   db,
		IDProvider: blocks.NewUUIDProvider(),
		Projector:  policy,
		Logger:     logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	pageService, err := pages.NewService(pages.ServiceConfig{
		Database:    db,
		IDProvider:  blocks.NewUUIDProvider(),
		Logger:      logger,
		SearchLimit: appConfig.SearchLimit,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return localBackend{Service: blockService, pages: pageService}, func() { _ = sqlDB.Close() }, nil
}

// localBackend joins the block store and page directory of one database.
type localBackend struct {
	*blocks.Service
	pages *pages.Service
}

func (b localBackend) SearchPages(ctx context.Context, query string) ([]pages.PageSummary, error) {
	return b.pages.SearchPages(ctx, query)
}

func (b localBackend) CreatePage(ctx context.Context, request pages.NewPage) (pages.PageSummary, error) {
	return b.pages.CreatePage(ctx, request)
}
