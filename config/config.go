package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ComputeConfig holds credentials for the remote compute/orchestration API.
type ComputeConfig struct {
	APIToken      string
	APIBaseURL    string // Optional with default
	ProjectIDs    []string
	EnvironmentID string
}

// IsConfigured returns true if all required compute provider configuration is present
func (c ComputeConfig) IsConfigured() bool {
	return c.APIToken != "" &&
		len(c.ProjectIDs) > 0 &&
		c.EnvironmentID != ""
}

// CredentialConfig holds the admin key used to mint per-instance LLM API keys.
type CredentialConfig struct {
	AdminAPIKey string
	WorkspaceID string
}

// IsConfigured returns true if all required credential provider configuration is present
func (c CredentialConfig) IsConfigured() bool {
	return c.AdminAPIKey != "" && c.WorkspaceID != ""
}

// MailboxConfig holds credentials for the inbox provider.
type MailboxConfig struct {
	APIToken string
	Domain   string
}

// IsConfigured returns true if all required inbox provider configuration is present
func (c MailboxConfig) IsConfigured() bool {
	return c.APIToken != "" && c.Domain != ""
}

// PhoneConfig holds credentials for the phone-number provider.
type PhoneConfig struct {
	AccountSID         string
	AuthToken          string
	MessagingProfileID string
}

// IsConfigured returns true if all required phone provider configuration is present
func (c PhoneConfig) IsConfigured() bool {
	return c.AccountSID != "" &&
		c.AuthToken != "" &&
		c.MessagingProfileID != ""
}

// PoolConfig tunes the reconciliation loop and claim protocol.
type PoolConfig struct {
	MinIdleInstances   int
	TickInterval       time.Duration
	HealthCheckTimeout time.Duration
	ProvisionTimeout   time.Duration
	StuckTimeout       time.Duration
	RuntimeImage       string
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL          string
	DatabaseSchema       string
	Port                 string // Optional with default "8080"
	CORSAllowedOrigins   string // Optional with default "*"
	Environment          string
	AdminAPIToken        string // Bearer token required on mutating routes
	ServerLogsURL        string
	SlackAlertWebhookURL string
	UseStrictConfig      bool // If true, error when any provider is not fully configured

	// Pool tuning
	PoolConfig PoolConfig

	// Provider configurations (grouped)
	ComputeConfig    ComputeConfig
	CredentialConfig CredentialConfig
	MailboxConfig    MailboxConfig
	PhoneConfig      PhoneConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	// Core required configuration
	databaseURL, err := getEnvRequired("DB_URL")
	if err != nil {
		return nil, err
	}

	databaseSchema, err := getEnvRequired("DB_SCHEMA")
	if err != nil {
		return nil, err
	}

	adminAPIToken, err := getEnvRequired("ADMIN_API_TOKEN")
	if err != nil {
		return nil, err
	}

	config := &AppConfig{
		// Core configuration
		DatabaseURL:          databaseURL,
		DatabaseSchema:       databaseSchema,
		Port:                 getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins:   getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:          getEnvWithDefault("ENVIRONMENT", "dev"),
		AdminAPIToken:        adminAPIToken,
		ServerLogsURL:        getEnvWithDefault("SERVER_LOGS_URL", ""),
		SlackAlertWebhookURL: getEnvWithDefault("SLACK_ALERT_WEBHOOK_URL", ""),
		UseStrictConfig:      getEnvWithDefault("USE_STRICT_CONFIG", "true") == "true",

		// Pool tuning
		PoolConfig: PoolConfig{
			MinIdleInstances:   getEnvIntWithDefault("POOL_MIN_IDLE", 3),
			TickInterval:       getEnvDurationWithDefault("POOL_TICK_INTERVAL", 30*time.Second),
			HealthCheckTimeout: getEnvDurationWithDefault("POOL_HEALTH_TIMEOUT", 5*time.Second),
			ProvisionTimeout:   getEnvDurationWithDefault("POOL_PROVISION_TIMEOUT", 60*time.Second),
			StuckTimeout:       getEnvDurationWithDefault("POOL_STUCK_TIMEOUT", 15*time.Minute),
			RuntimeImage:       getEnvWithDefault("POOL_RUNTIME_IMAGE", "ghcr.io/agentpool/agent-runtime:latest"),
		},

		// Compute provider configuration (required for pool management)
		ComputeConfig: ComputeConfig{
			APIToken:      os.Getenv("COMPUTE_API_TOKEN"),
			APIBaseURL:    getEnvWithDefault("COMPUTE_API_URL", "https://backboard.railway.com/api/v2"),
			ProjectIDs:    splitAndTrim(os.Getenv("COMPUTE_PROJECT_IDS")),
			EnvironmentID: os.Getenv("COMPUTE_ENVIRONMENT_ID"),
		},

		// Credential provider configuration (optional)
		CredentialConfig: CredentialConfig{
			AdminAPIKey: os.Getenv("ANTHROPIC_ADMIN_API_KEY"),
			WorkspaceID: os.Getenv("ANTHROPIC_WORKSPACE_ID"),
		},

		// Inbox provider configuration (optional)
		MailboxConfig: MailboxConfig{
			APIToken: os.Getenv("MAILBOX_API_TOKEN"),
			Domain:   os.Getenv("MAILBOX_DOMAIN"),
		},

		// Phone-number provider configuration (optional)
		PhoneConfig: PhoneConfig{
			AccountSID:         os.Getenv("PHONE_ACCOUNT_SID"),
			AuthToken:          os.Getenv("PHONE_AUTH_TOKEN"),
			MessagingProfileID: os.Getenv("PHONE_MESSAGING_PROFILE_ID"),
		},
	}

	// Log which providers are configured
	if config.ComputeConfig.IsConfigured() {
		log.Printf("✅ Compute provider configured (%d projects)", len(config.ComputeConfig.ProjectIDs))
	} else {
		log.Printf("⚠️ Compute provider not configured - pool management will be disabled")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("compute provider is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	if config.CredentialConfig.IsConfigured() {
		log.Printf("✅ Credential provider configured")
	} else {
		log.Printf("⚠️ Credential provider not configured - instances will launch without LLM keys")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("credential provider is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	if config.MailboxConfig.IsConfigured() {
		log.Printf("✅ Inbox provider configured")
	} else {
		log.Printf("⚠️ Inbox provider not configured - instances will launch without mailboxes")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("inbox provider is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	if config.PhoneConfig.IsConfigured() {
		log.Printf("✅ Phone-number provider configured")
	} else {
		log.Printf("⚠️ Phone-number provider not configured - instances will launch without phone numbers")
		if config.UseStrictConfig {
			return nil, fmt.Errorf("phone-number provider is not fully configured (USE_STRICT_CONFIG=true)")
		}
	}

	return config, nil
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Invalid integer for %s (%q), using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Invalid duration for %s (%q), using default %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
