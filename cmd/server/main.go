package main

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/auth"
	"github.com/apikit-go/apikit/internal/config"
	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/database"
	"github.com/apikit-go/apikit/internal/handler"
	"github.com/apikit-go/apikit/internal/logging"
	"github.com/apikit-go/apikit/internal/mailer"
	"github.com/apikit-go/apikit/internal/middleware"
	"github.com/apikit-go/apikit/internal/model"
	"github.com/apikit-go/apikit/internal/repository"
	"github.com/apikit-go/apikit/internal/router"
	"github.com/apikit-go/apikit/internal/token"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("database connect", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	reg := model.NewRegistry(model.Builtin()...)
	cts, err := repository.SyncContentTypes(ctx, db, reg.Names())
	if err != nil {
		log.Fatal("sync content types", zap.Error(err))
	}

	users := repository.NewUsers(db, cfg.BcryptCost, cfg.TempCodeTTL, cts)

	codec, err := token.NewCodec(cfg.PrivateKeyPEM, cfg.PublicKeyPEM, map[token.Kind]time.Duration{
		token.Access:  cfg.AccessTTL,
		token.Refresh: cfg.RefreshTTL,
	})
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}
	provider := auth.NewProvider(codec, cfg.CookiePath, cfg.CookieSecure)
	consumer := auth.NewConsumer(codec, cfg.AuthSources)
	guard := middleware.NewAuthGuard(consumer, users, log)

	mail := mailer.NewPublisher(cfg.AMQPURL, log)
	defer mail.Close()
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.AMQPURL != "" {
		go mailer.NewConsumer(cfg.AMQPURL, mailer.LogSender{Log: log}, log).Run(consumerCtx)
	}

	userCRUD, err := crud.NewService(db, reg, model.EntityUser,
		crud.WithPrefetchRelated("permissions", "groups"),
		crud.WithCreateHandler(model.EntityUser, users.CreateHandler()))
	if err != nil {
		log.Fatal("user service", zap.Error(err))
	}
	permCRUD, err := crud.NewService(db, reg, model.EntityPermission,
		crud.WithSelectRelated("content_type"))
	if err != nil {
		log.Fatal("permission service", zap.Error(err))
	}
	groupCRUD, err := crud.NewService(db, reg, model.EntityPermissionGroup,
		crud.WithPrefetchRelated("permissions"))
	if err != nil {
		log.Fatal("group service", zap.Error(err))
	}
	ctCRUD, err := crud.NewService(db, reg, model.EntityContentType)
	if err != nil {
		log.Fatal("content type service", zap.Error(err))
	}

	authHandler := handler.NewAuthHandler(users, userCRUD, provider, consumer, mail, log)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(log)
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))

	rdb := config.NewRedisClient()
	e.Use(middleware.RateLimit(config.LoadRateLimitConfig(), rdb, log))
	e.Use(middleware.ResponseCache(config.LoadCacheConfig(), rdb, log))

	router.Register(e, router.Deps{
		DB:           db,
		Guard:        guard,
		Auth:         authHandler,
		Log:          log,
		Users:        userCRUD,
		Permissions:  permCRUD,
		Groups:       groupCRUD,
		ContentTypes: ctCRUD,
	})

	log.Info("listening", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
