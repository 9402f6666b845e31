package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/auth"
	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/database"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"github.com/MarcoPoloResearchLab/blockpad/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	defaults := viper.GetViper()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().StringSlice("allowed-origins", nil, "Origins allowed by CORS (all when empty)")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if err := appConfig.RequireSigning(); err != nil {
		return err
	}

	policy := sanitize.NewPolicy()
	db, err := database.OpenSQLite(appConfig.DatabasePath, policy, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	blockService, err := blocks.NewService(blocks.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: blocks.NewUUIDProvider(),
		Projector:  policy,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	pageService, err := pages.NewService(pages.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  blocks.NewUUIDProvider(),
		Logger:      logger,
		SearchLimit: appConfig.SearchLimit,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:          sessions,
		BlocksService:     blockService,
		PagesService:      pageService,
		Sanitizer:         policy,
		Logger:            logger,
		AllowedOrigins:    appConfig.AllowedOrigins,
		HeartbeatInterval: appConfig.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
