package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xaenox/triage-bot/internal/provider"
)

type Config struct {
	Slack        SlackConfig        `mapstructure:"slack"`
	Server       ServerConfig       `mapstructure:"server"`
	AI           AIConfig           `mapstructure:"ai"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Database     DatabaseConfig     `mapstructure:"database"`
}

type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
	AppToken string `mapstructure:"app_token"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type AIConfig struct {
	DefaultProvider string           `mapstructure:"default_provider"`
	TimeoutSeconds  int              `mapstructure:"timeout_seconds"`
	MaxRetries      int              `mapstructure:"max_retries"`
	OpenAI          ProviderSettings `mapstructure:"openai"`
	Anthropic       ProviderSettings `mapstructure:"anthropic"`
	Gemini          ProviderSettings `mapstructure:"gemini"`
	Local           ProviderSettings `mapstructure:"local"`
}

type ProviderSettings struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

type ConversationConfig struct {
	MaxTurns       int `mapstructure:"max_turns"`
	MaxThreadDepth int `mapstructure:"max_thread_depth"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

// ProviderConfig builds the provider-level configuration for the given
// provider id from the loaded settings.
func (c *Config) ProviderConfig(id string) (provider.Config, error) {
	var settings ProviderSettings
	switch id {
	case "openai":
		settings = c.AI.OpenAI
	case "anthropic":
		settings = c.AI.Anthropic
	case "gemini":
		settings = c.AI.Gemini
	case "local":
		settings = c.AI.Local
	default:
		return provider.Config{}, fmt.Errorf("no configuration for provider %q", id)
	}

	return provider.Config{
		Provider:   id,
		Model:      settings.Model,
		APIKey:     settings.APIKey,
		Endpoint:   settings.Endpoint,
		Timeout:    time.Duration(c.AI.TimeoutSeconds) * time.Second,
		MaxRetries: c.AI.MaxRetries,
	}, nil
}

func (c *Config) Validate() error {
	switch c.AI.DefaultProvider {
	case "openai", "anthropic", "gemini", "local":
	default:
		return fmt.Errorf("unknown default provider %q", c.AI.DefaultProvider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Conversation.MaxTurns <= 0 {
		return fmt.Errorf("conversation max_turns must be positive, got %d", c.Conversation.MaxTurns)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("ai.default_provider", "openai")
	v.SetDefault("ai.timeout_seconds", 60)
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.openai.model", "gpt-4o")
	v.SetDefault("ai.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("ai.gemini.model", "gemini-2.0-flash")
	v.SetDefault("ai.local.model", "llama3.2")
	v.SetDefault("ai.local.endpoint", "http://localhost:11434/v1")
	v.SetDefault("conversation.max_turns", 10)
	v.SetDefault("conversation.max_thread_depth", 20)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", true)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
		config.Database.UseInMemory = false
	}

	// Get other environment variables
	if token := v.GetString("SLACK_BOT_TOKEN"); token != "" {
		config.Slack.BotToken = token
	}
	if token := v.GetString("SLACK_APP_TOKEN"); token != "" {
		config.Slack.AppToken = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if apiKey := v.GetString("ANTHROPIC_API_KEY"); apiKey != "" {
		config.AI.Anthropic.APIKey = apiKey
	}
	if apiKey := v.GetString("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if p := v.GetString("DEFAULT_AI_PROVIDER"); p != "" {
		config.AI.DefaultProvider = p
	}

	return &config, nil
}
