// Package server contains HTTP and WebSocket handlers for the messenger API.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"swarg/internal/config"
	"swarg/internal/delivery"
	"swarg/internal/featureflags"
	"swarg/internal/middleware"
	"swarg/internal/models"
	"swarg/internal/notifications"
	"swarg/internal/observability"
	"swarg/internal/repository"
	"swarg/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	userRepo    repository.UserRepository
	groupRepo   repository.GroupRepository
	messageRepo repository.MessageRepository

	presence *notifications.PresenceTracker
	hub      *notifications.Hub
	relay    *notifications.Relay
	router   *delivery.Router

	featureFlags        *featureflags.Manager
	groupService        *service.GroupService
	userService         *service.UserService
	messageService      *service.MessageService
	conversationService *service.ConversationService
	chatService         *service.ChatService
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("server requires config and database")
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("swarg-api"),
		userRepo:       repository.NewUserRepository(db),
		groupRepo:      repository.NewGroupRepository(db),
		messageRepo:    repository.NewMessageRepository(db),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}

	s.presence = notifications.NewPresenceTracker(redisClient, s.userRepo, notifications.PresenceConfig{})
	s.hub = notifications.NewHub(s.presence, notifications.HubOptions{MaxConnsPerUser: cfg.MaxConnsPerUser})

	opts := delivery.Options{Concurrency: cfg.FanoutConcurrency}
	if redisClient != nil && s.featureFlags.Enabled(featureflags.CrossNodeRelay, 0) {
		s.relay = notifications.NewRelay(redisClient, cfg.NodeID)
		opts.Relay = s.relay
	}
	s.router = delivery.NewRouter(s.hub, service.NewAudience(s.groupRepo, s.userRepo), opts)

	clock := service.NewClock()
	s.groupService = service.NewGroupService(s.groupRepo, s.userRepo, clock)
	s.userService = service.NewUserService(s.userRepo, s.presence)
	s.messageService = service.NewMessageService(s.messageRepo, s.userRepo, s.groupService, clock, s.featureFlags)
	s.conversationService = service.NewConversationService(s.messageRepo, s.groupRepo, s.userRepo, s.groupService)
	s.chatService = service.NewChatService(s.messageService, s.groupService, s.userService, s.router, s.featureFlags)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request and user ids into the user context for logging.
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware(s.config.NodeID))

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")

	// The websocket authenticates from the query string and touches presence
	// through the hub, so it sits outside the protected group.
	api.Get("/ws", middleware.WebSocketAuthRequired, s.WebSocketUpgrade, s.WebSocketHandler())

	protected := api.Group("", middleware.AuthRequired, s.TouchPresence())

	protected.Get("/feature-flags", s.GetFeatureFlags)

	messages := protected.Group("/messages")
	messages.Post("/users/:userId", middleware.RateLimit(
		s.redis, 60, time.Minute, "send_message"), s.SendUserMessage)
	messages.Post("/groups/:groupId", middleware.RateLimit(
		s.redis, 60, time.Minute, "send_message"), s.SendGroupMessage)
	messages.Put("/read", s.MarkMessagesRead)
	messages.Put("/delivered", s.MarkMessagesDelivered)
	// Specific /:id/:resource routes before generic /:id
	messages.Post("/:id/failed", s.MarkMessageFailed)
	messages.Post("/:id/reactions", s.AddReaction)
	messages.Delete("/:id/reactions", s.RemoveReaction)
	messages.Delete("/:id/everyone", s.DeleteMessageForEveryone)
	messages.Get("/:id", s.GetMessage)
	messages.Delete("/:id", s.DeleteMessageForMe)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetRecentConversations)
	conversations.Get("/unread", s.GetUnreadSummary)
	conversations.Get("/users/:userId/unread", s.GetUserUnreadCount)
	conversations.Get("/groups/:groupId/unread", s.GetGroupUnreadCount)
	conversations.Get("/users/:userId", s.GetUserHistory)
	conversations.Get("/groups/:groupId", s.GetGroupHistory)

	groups := protected.Group("/groups")
	groups.Post("/", middleware.RateLimit(
		s.redis, 10, 10*time.Minute, "create_group"), s.CreateGroup)
	groups.Get("/", s.ListGroups)
	groups.Post("/:groupId/members", s.AddGroupMember)
	groups.Put("/:groupId/members/:userId/role", s.UpdateGroupMemberRole)
	groups.Delete("/:groupId/members/:userId", s.RemoveGroupMember)
	groups.Put("/:groupId/settings", s.UpdateGroupSettings)
	groups.Get("/:groupId", s.GetGroup)

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me/privacy", s.UpdateMyPrivacy)
	users.Get("/me/contacts", s.ListMyContacts)
	users.Get("/lookup/:number", s.LookupUser)
	users.Post("/:userId/block", s.BlockUser)
	users.Delete("/:userId/block", s.UnblockUser)
	users.Post("/:userId/contacts", s.AddContact)
	users.Delete("/:userId/contacts", s.RemoveContact)
	users.Get("/:userId/presence", s.GetUserPresence)
}

// TouchPresence refreshes the caller's last-active time on every
// authenticated request. It must run after AuthRequired.
func (s *Server) TouchPresence() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID, ok := c.Locals("userID").(uint); ok && s.presence != nil {
			s.presence.Touch(c.UserContext(), userID)
		}
		return c.Next()
	}
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional, so
// only the database decides readiness.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	} else if redisStatus == "unhealthy" {
		overallStatus = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"node":   s.nodeID(),
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

func (s *Server) nodeID() string {
	if s.relay != nil {
		return s.relay.NodeID()
	}
	return s.config.NodeID
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Swarg Messenger API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(models.ErrorResponse{Error: e.Message})
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start wires the relay and starts listening.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	observability.SetLogger(middleware.Logger)
	s.app = s.App()

	if s.relay != nil {
		if err := s.hub.StartWiring(s.shutdownCtx, s.relay); err != nil {
			// Local delivery keeps working; other nodes just cannot reach us.
			log.Printf("failed to start %s wiring: %v", s.hub.Name(), err)
		}
	}

	log.Printf("Server starting on port %s (node %s)...", s.config.Port, s.nodeID())
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Stops the relay subscriber.
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		log.Printf("error shutting down %s: %v", s.hub.Name(), err)
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
