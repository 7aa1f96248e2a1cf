package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	StripeSecretKey     string
	StripeWebhookSecret string

	CloudinaryURL string

	KafkaBroker    string
	KafkaMailTopic string
	KafkaUsername  string
	KafkaPassword  string

	FrontendBaseURL string
}

// Load reads the .env file (if present) and binds environment variables
// into a typed Config. Only the values every deployment needs are hard
// requirements; Stripe/Cloudinary/Kafka settings may be empty, in which
// case the corresponding integration is disabled.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	bindings := map[string]string{
		"app.env":               "APP_ENV",
		"app.port":              "PORT",
		"database.url":          "DATABASE_URL",
		"jwt.secret":            "JWT_SECRET",
		"stripe.secret_key":     "STRIPE_SECRET_KEY",
		"stripe.webhook_secret": "STRIPE_WEBHOOK_SECRET",
		"cloudinary.url":        "CLOUDINARY_URL",
		"kafka.broker":          "KAFKA_BROKER",
		"kafka.mail_topic":      "KAFKA_MAIL_TOPIC",
		"kafka.username":        "KAFKA_USERNAME",
		"kafka.password":        "KAFKA_PASSWORD",
		"frontend.base_url":     "FRONTEND_BASE_URL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("could not bind %s: %w", key, err)
		}
	}

	viper.SetDefault("app.env", "dev")
	viper.SetDefault("app.port", "3000")
	viper.SetDefault("kafka.mail_topic", "mail.events")

	cfg := Config{
		AppEnv:              viper.GetString("app.env"),
		Port:                viper.GetString("app.port"),
		DatabaseURL:         viper.GetString("database.url"),
		JWTSecret:           viper.GetString("jwt.secret"),
		StripeSecretKey:     viper.GetString("stripe.secret_key"),
		StripeWebhookSecret: viper.GetString("stripe.webhook_secret"),
		CloudinaryURL:       viper.GetString("cloudinary.url"),
		KafkaBroker:         viper.GetString("kafka.broker"),
		KafkaMailTopic:      viper.GetString("kafka.mail_topic"),
		KafkaUsername:       viper.GetString("kafka.username"),
		KafkaPassword:       viper.GetString("kafka.password"),
		FrontendBaseURL:     viper.GetString("frontend.base_url"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set in environment or .env file")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set in environment or .env file")
	}

	return &cfg, nil
}

// DevMode reports whether the app runs with development conveniences.
func (c *Config) DevMode() bool {
	return c.AppEnv == "dev"
}
