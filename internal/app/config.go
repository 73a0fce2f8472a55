package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MAGOT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MAGOT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	WhatsApp    WhatsAppConfig
	Outbox      OutboxConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig points the client at the payment gateway. The server key is
// injected here once at startup; it both authenticates outbound calls and
// verifies inbound notification signatures.
type GatewayConfig struct {
	SnapURL     string        `default:"https://app.sandbox.midtrans.com" usage:"Gateway Snap API base URL" flag:"gateway-snap-url"`
	CoreURL     string        `default:"https://api.sandbox.midtrans.com" usage:"Gateway Core API base URL" flag:"gateway-core-url"`
	ServerKey   string        `usage:"Gateway merchant server key (MAGOT_GATEWAY_SERVER_KEY)" flag:"gateway-server-key"`
	CallbackURL string        `usage:"Order-status page URL used for finish/error/pending callbacks" flag:"gateway-callback-url"`
	Timeout     time.Duration `default:"10s" usage:"Outbound gateway call timeout" flag:"gateway-timeout"`
}

// WhatsAppConfig configures the messaging gateway used for order
// notifications.
type WhatsAppConfig struct {
	BaseURL string `usage:"WhatsApp gateway base URL" flag:"whatsapp-url"`
	Token   string `usage:"WhatsApp gateway account token (MAGOT_WHATSAPP_TOKEN)" flag:"whatsapp-token"`
}

// OutboxConfig tunes the notification outbox dispatcher.
type OutboxConfig struct {
	PollInterval time.Duration `default:"5s"  usage:"Outbox poll interval"`
	BatchSize    int           `default:"50"  usage:"Messages claimed per poll"`
	Workers      int           `default:"4"   usage:"Concurrent delivery workers"`
	SendTimeout  time.Duration `default:"10s" usage:"Per-message delivery timeout"`
	MaxAttempts  int           `default:"8"   usage:"Delivery attempts before a message is dead"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MAGOT",
		Files:     []string{"config.yaml", "/etc/magot/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MAGOT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.ServerKey == "" {
		// The signature verifier fails closed without it, so refuse to start.
		return nil, errors.New("gateway server key is required: set MAGOT_GATEWAY_SERVER_KEY")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's MAGOT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
