package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fleetdesk/api/internal/app"
	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/catalog"
	"fleetdesk/api/internal/config"
	"fleetdesk/api/internal/drafts"
	"fleetdesk/api/internal/export"
	"fleetdesk/api/internal/logging"
	"fleetdesk/api/internal/photos"
	"fleetdesk/api/internal/search"
	"fleetdesk/api/internal/store"
)

func main() {
	issueToken := flag.Bool("issue-token", false, "print a signed operator token and exit")
	operatorID := flag.String("operator-id", "dev", "operator id for -issue-token")
	operatorName := flag.String("operator-name", "Developer", "operator name for -issue-token")
	role := flag.String("role", "admin", "operator role for -issue-token")
	companyID := flag.Int64("company", 1, "company id for -issue-token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime for -issue-token")
	flag.Parse()

	cfg := config.Load()

	if *issueToken {
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Operator{
			ID:        *operatorID,
			Name:      *operatorName,
			Role:      *role,
			CompanyID: *companyID,
		}, *ttl)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	sheets := store.NewPostgresStore(db).WithSequenceLockTimeout(cfg.SequenceLockTimeout)

	catalogProvider, err := catalog.Open(db)
	if err != nil {
		return err
	}

	draftStore, err := drafts.NewRedisStore(cfg.RedisURL, cfg.DraftTTL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer draftStore.Close()

	photoStore, err := photos.New(photos.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Region:    cfg.MinioRegion,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return fmt.Errorf("photo store init failed: %w", err)
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 15*time.Second)
	err = photoStore.EnsureBucket(bucketCtx)
	cancelBucket()
	if err != nil {
		return fmt.Errorf("photo bucket check failed: %w", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	} else {
		logger.Info("MEILI_URL not set, searching departure sheets in postgres only")
	}
	searchService := search.NewService(meiliClient, search.NewPgSearch(db), logger)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(context.Background())
	}

	service := app.New(cfg, app.Dependencies{
		Catalog: catalogProvider,
		Store:   sheets,
		Drafts:  draftStore,
		Photos:  photoStore,
		Search:  searchService,
		Export:  export.NewService(),
	}, logger)

	httpServer := app.NewHTTPServer(service, cfg, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("fleetdesk api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
