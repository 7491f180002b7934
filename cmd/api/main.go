package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/smb-connect/connect-api/internal/config"
	"github.com/smb-connect/connect-api/internal/database"
	"github.com/smb-connect/connect-api/internal/handler"
	"github.com/smb-connect/connect-api/internal/middleware"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/router"
	"github.com/smb-connect/connect-api/internal/service"
	cloud "github.com/smb-connect/connect-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Member{}, &models.Organization{}, &models.ConnectionRequest{},
		&models.Conversation{}, &models.Participant{}, &models.Message{},
		&models.Post{}, &models.PostLike{}, &models.PostComment{}, &models.Mention{},
		&models.Notification{}, &models.UploadRecord{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, events stay node-local")
		natsConn = nil
	} else {
		defer natsConn.Close()
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	postRepo := repository.NewPostRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	organizationRepo := repository.NewOrganizationRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	runCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()

	uploadService := service.NewUploadService(uploader, uploadRepo, cfg.UploadMaxSizeMB, cfg.UploadAllowedClasses, logger)
	streamService := service.NewStreamService(redisClient, cfg.ChannelBase, natsConn, logger)
	streamService.Start(runCtx)
	notificationService := service.NewNotificationService(notificationRepo, redisClient, cfg.ChannelBase, natsConn, validate, logger)
	notificationService.Start(runCtx)

	conversationService := service.NewConversationService(conversationRepo, messageRepo, memberRepo, validate, logger)
	messageService := service.NewMessageService(messageRepo, conversationRepo, memberRepo, uploadService, streamService, redisClient, cfg.ChannelBase, validate, logger)
	feedService := service.NewFeedService(postRepo, memberRepo, organizationRepo, uploadService, streamService, notificationService, validate, logger)
	connectionService := service.NewConnectionService(connectionRepo, memberRepo, streamService, notificationService, validate, logger)

	conversationHandler := handler.NewConversationHandler(conversationService, logger)
	messageHandler := handler.NewMessageHandler(messageService, logger)
	feedHandler := handler.NewFeedHandler(feedService, logger)
	connectionHandler := handler.NewConnectionHandler(connectionService, logger)
	notificationHandler := handler.NewNotificationHandler(notificationService, logger, 30*time.Second)
	streamHandler := handler.NewStreamHandler(streamService, logger)
	uploadHandler := handler.NewUploadHandler(uploadService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ConversationHandler: conversationHandler,
		MessageHandler:      messageHandler,
		FeedHandler:         feedHandler,
		ConnectionHandler:   connectionHandler,
		NotificationHandler: notificationHandler,
		StreamHandler:       streamHandler,
		UploadHandler:       uploadHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
