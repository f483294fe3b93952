package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"speakroom/internal/config"
	apphttp "speakroom/internal/http"
	"speakroom/internal/metrics"
	"speakroom/internal/password"
	"speakroom/internal/repository/sqlite"
	"speakroom/internal/service"
	"speakroom/internal/session"
	"speakroom/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	hasher, err := password.New(password.Config{
		Scheme:     password.Scheme(cfg.Password.Scheme),
		Rounds:     cfg.Password.Rounds,
		BcryptCost: cfg.Password.BcryptCost,
	})
	if err != nil {
		logger.Fatalf("setup password hasher: %v", err)
	}

	accounts := service.DefaultAccounts(cfg.Bootstrap.TeacherPassword, cfg.Bootstrap.StudentPassword)
	userService := service.NewUserService(userRepo, hasher, accounts, logger)
	if err := userService.Bootstrap(ctx); err != nil {
		logger.Fatalf("bootstrap accounts: %v", err)
	}

	avatarStore, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	profileService := service.NewProfileService(userRepo, avatarStore, cfg.Avatars.MaxBytes, logger)

	sessionStore, err := session.NewStore(cfg.Session.Driver, session.ResolveSecret(cfg.Session.Secret, logger), session.Options{
		Name:   cfg.Session.Name,
		MaxAge: cfg.Session.MaxAge,
		Secure: cfg.Session.Secure,
	})
	if err != nil {
		logger.Fatalf("setup sessions: %v", err)
	}
	sessions := session.NewManager(sessionStore, logger)

	gin.SetMode(ginMode(cfg.Server.Mode))
	router := gin.New()
	router.Use(gin.Recovery())

	opts := apphttp.Options{
		StaticDir:      cfg.Static.Dir,
		MaxAvatarBytes: cfg.Avatars.MaxBytes,
		Metrics:        metrics.New(),
		Logger:         logger,
	}
	if cfg.Avatars.Driver == "local" {
		opts.AvatarDir = cfg.Avatars.Dir
		opts.AvatarURLPrefix = cfg.Avatars.URLPrefix
	}
	handler := apphttp.NewHandler(userService, profileService, sessions, opts)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Avatars.Driver != "s3" {
		logger.Infof("storing avatars in %s", cfg.Avatars.Dir)
		return storage.NewLocalService(cfg.Avatars.Dir, cfg.Avatars.URLPrefix), nil
	}
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Infof("storing avatars in s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	svc, err := storage.NewS3Service(client, storage.S3Options{
		Bucket:        cfg.Storage.Bucket,
		KeyPrefix:     cfg.Storage.KeyPrefix,
		PublicBaseURL: publicBaseURL(cfg),
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// publicBaseURL is where browsers fetch avatars from when none is configured:
// the path-style endpoint for compatible services, the virtual-hosted AWS URL otherwise.
func publicBaseURL(cfg config.Config) string {
	if cfg.Storage.PublicBaseURL != "" {
		return cfg.Storage.PublicBaseURL
	}
	if cfg.Storage.Endpoint != "" {
		return strings.TrimRight(cfg.Storage.Endpoint, "/") + "/" + cfg.Storage.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Storage.Bucket, cfg.Storage.Region)
}
