// @title           LexHaven Legal Services API
// @version         1.0
// @description     Backend for a legal services marketplace: clients open cases, freelancers and barristers take them on, consultations get booked and rated, payments settle through Stripe.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lexhaven/legal-services-backend/internal/auth"
	"github.com/lexhaven/legal-services-backend/internal/cases"
	"github.com/lexhaven/legal-services-backend/internal/consultations"
	"github.com/lexhaven/legal-services-backend/internal/identity"
	"github.com/lexhaven/legal-services-backend/internal/notifications"
	"github.com/lexhaven/legal-services-backend/internal/payments"
	"github.com/lexhaven/legal-services-backend/internal/professionals"
	"github.com/lexhaven/legal-services-backend/internal/storage"
	"github.com/lexhaven/legal-services-backend/pkg/config"
	"github.com/lexhaven/legal-services-backend/pkg/database"
	"github.com/lexhaven/legal-services-backend/pkg/logger"
	"github.com/lexhaven/legal-services-backend/pkg/models"
	"github.com/lexhaven/legal-services-backend/pkg/pricing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(true)
		bootLog.Fatal().Err(err).Msg("configuration error")
	}
	log := logger.New(cfg.DevMode())

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Freelancer{}, &models.Barrister{},
		&models.Case{}, &models.CaseHistory{},
		&models.Consultation{}, &models.Feedback{},
		&models.Notification{}, &models.EmailOutbox{},
		&models.Payment{},
	); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Document uploads are optional in dev: without CLOUDINARY_URL the
	// handlers reject uploads instead of the whole server refusing to start.
	var uploader storage.Uploader
	if cfg.CloudinaryURL != "" {
		cld, err := storage.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cloudinary initialization failed")
		}
		uploader = cld
	} else {
		log.Warn().Msg("CLOUDINARY_URL not set, document uploads disabled")
	}

	resolver := identity.NewResolver(db)
	dispatcher := notifications.NewDispatcher(db, resolver, log)
	prices := pricing.DefaultFlat()

	// Outbox drains into Kafka when a broker is configured; without one
	// the worker leaves rows pending for a later deployment to pick up.
	var publisher notifications.MailPublisher
	if cfg.KafkaBroker != "" {
		producer := notifications.NewProducer(cfg.KafkaBroker, cfg.KafkaMailTopic, cfg.KafkaUsername, cfg.KafkaPassword)
		defer producer.Close()
		publisher = producer
	} else {
		log.Warn().Msg("KAFKA_BROKER not set, email outbox will accumulate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outbox := notifications.NewOutboxWorker(db, publisher, 15*time.Second, log)
	go outbox.Run(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
		BodyLimit:    12 * 1024 * 1024, // documents cap at 10 MB plus multipart overhead
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")
	guard := auth.RequireAuth(cfg.JWTSecret)

	// Auth
	authH := auth.NewHandler(db, cfg.JWTSecret)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", guard, authH.Me)

	// Cases
	caseH := cases.NewHandler(db, uploader, dispatcher, prices, log)
	api.Post("/cases", guard, auth.RequireRole(models.RoleClient), caseH.Create)
	api.Get("/cases/mine", guard, caseH.ListMine)
	api.Get("/cases/open", guard, auth.RequireProfessional(), caseH.ListOpen)
	api.Get("/cases/:id", guard, caseH.GetDetail)
	api.Post("/cases/:id/assign", guard, auth.RequireRole(models.RoleClient), caseH.Assign)
	api.Post("/cases/:id/accept", guard, auth.RequireProfessional(), caseH.Accept)
	api.Patch("/cases/:id/status", guard, auth.RequireProfessional(), caseH.UpdateStatus)
	api.Post("/cases/:id/documents", guard, auth.RequireRole(models.RoleClient), caseH.UploadDocuments)

	// Consultations
	consH := consultations.NewHandler(db, dispatcher, prices, log)
	api.Post("/consultations", guard, auth.RequireRole(models.RoleClient), consH.Book)
	api.Get("/consultations/mine", guard, consH.ListMine)
	api.Patch("/consultations/:id", guard, consH.Update)
	api.Post("/consultations/:id/feedback", guard, auth.RequireRole(models.RoleClient), consH.SubmitFeedback)

	// Professionals & onboarding
	profH := professionals.NewHandler(db, dispatcher, log)
	api.Get("/freelancers", guard, profH.ListFreelancers)
	api.Patch("/professionals/me/expertise", guard, auth.RequireProfessional(), profH.UpdateExpertise)
	api.Patch("/professionals/me/availability", guard, auth.RequireProfessional(), profH.SetAvailability)
	api.Get("/barristers/me", guard, auth.RequireRole(models.RoleBarrister), profH.BarristerProfile)
	api.Patch("/barristers/me/stage", guard, auth.RequireRole(models.RoleBarrister), profH.AdvanceStage)
	api.Patch("/admin/freelancers/:id/verify", guard, auth.RequireRole(models.RoleAdmin), profH.VerifyFreelancer)
	api.Patch("/admin/barristers/:id/review", guard, auth.RequireRole(models.RoleAdmin), profH.ReviewBarrister)

	// Notifications
	notifH := notifications.NewHandler(db)
	api.Get("/notifications", guard, notifH.List)
	api.Patch("/notifications/:id/read", guard, notifH.MarkRead)
	api.Post("/notifications/read-all", guard, notifH.MarkAllRead)

	// Payments
	payH := payments.NewHandler(db, dispatcher, prices,
		cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.FrontendBaseURL, log)
	api.Post("/payments/checkout", guard, auth.RequireRole(models.RoleClient), payH.CreateCheckout)
	api.Get("/payments", guard, payH.ListMine)

	// Stripe calls this directly; signature verification is the auth.
	api.Post("/payments/webhook", payH.Webhook)

	log.Info().Str("port", cfg.Port).Msg("server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
