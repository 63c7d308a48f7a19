package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (ARA_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (ARA_SQLITE_PATH, default: ${DataDir}/ara.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LocalUser is an account of the built-in "local" login provider.
// Password is hashed into PasswordHash at load time and then cleared.
type LocalUser struct {
	Login        string `mapstructure:"login"`
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`
	Email        string `mapstructure:"email"`
	FirstName    string `mapstructure:"first_name"`
	LastName     string `mapstructure:"last_name"`
}

// Config holds all configuration for the ARA service
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Port           int           `mapstructure:"port"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		TLS            bool          `mapstructure:"tls"`
		CertFile       string        `mapstructure:"cert_file"`
		KeyFile        string        `mapstructure:"key_file"`
		Swagger        bool          `mapstructure:"swagger"`
		// TrustProxy enables X-Forwarded-For parsing for requests coming from TrustedProxyNetworks
		TrustProxy           bool     `mapstructure:"trust_proxy"`
		TrustedProxyNetworks []string `mapstructure:"trusted_proxy_networks"`
	} `mapstructure:"api"`

	Auth struct {
		Enabled       bool          `mapstructure:"enabled"`
		JWTSecret     string        `mapstructure:"jwt_secret"`
		JWTExpiry     time.Duration `mapstructure:"jwt_expiry"`
		Issuer        string        `mapstructure:"issuer"`
		BcryptCost    int           `mapstructure:"bcrypt_cost"`
		ProvidersFile string        `mapstructure:"providers_file"`
		LocalUsers    []LocalUser   `mapstructure:"local_users"`
	} `mapstructure:"auth"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	RateLimit struct {
		Enabled           bool `mapstructure:"enabled"`
		RequestsPerMinute int  `mapstructure:"requests_per_minute"`
		Burst             int  `mapstructure:"burst"`
		LoginPerMinute    int  `mapstructure:"login_per_minute"`
	} `mapstructure:"rate_limit"`

	Problems struct {
		AutoAssignOnImport bool `mapstructure:"auto_assign_on_import"`
	} `mapstructure:"problems"`

	Metrics struct {
		PoolInterval time.Duration `mapstructure:"pool_interval"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// LocalProviderName is the provider name of users defined in auth.local_users
const LocalProviderName = "local"

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "")

	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.swagger", true)
	viper.SetDefault("api.trust_proxy", false)

	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.jwt_expiry", 12*time.Hour)
	viper.SetDefault("auth.issuer", "ara")
	viper.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)
	viper.SetDefault("auth.providers_file", "")

	viper.SetDefault("secrets.provider", "env")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_minute", 600)
	viper.SetDefault("rate_limit.burst", 50)
	viper.SetDefault("rate_limit.login_per_minute", 10)

	viper.SetDefault("problems.auto_assign_on_import", true)

	viper.SetDefault("metrics.pool_interval", 15*time.Second)

	viper.SetDefault("logging.level", "info")
}

func loadFromEnv() {
	viper.SetEnvPrefix("ARA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("data_paths.data_dir", "ARA_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "ARA_SQLITE_PATH")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.Auth.Enabled && config.Auth.JWTSecret == "" && config.Secrets.Provider != "env" {
		if err := LoadSecrets(&config); err != nil {
			return nil, err
		}
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()

	return &config, nil
}

// validateAndHash checks the JWT secret and hashes plain local user passwords
func validateAndHash(config *Config) error {
	if config.Auth.Enabled {
		if config.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when authentication is enabled (set ARA_AUTH_JWT_SECRET)")
		}
		if len(config.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters (256 bits) for security")
		}
		weakSecrets := []string{"secret", "password", "changeme", "default", "example"}
		lowerSecret := strings.ToLower(config.Auth.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				return fmt.Errorf("JWT secret appears to contain weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	for i := range config.Auth.LocalUsers {
		user := &config.Auth.LocalUsers[i]
		if user.Password == "" {
			continue
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password of local user %s: %w", user.Login, err)
		}
		user.PasswordHash = string(hashed)
		user.Password = ""
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// ResolveDataPaths derives unset paths from the data directory
func (c *Config) ResolveDataPaths() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "ara.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
}

// GetDataDir returns the resolved base data directory
func (c *Config) GetDataDir() string {
	if c.DataPaths.DataDir == "" {
		return "./data"
	}
	return c.DataPaths.DataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join(c.GetDataDir(), "ara.db")
	}
	return c.DataPaths.SQLitePath
}

// FindLocalUser returns the local provider account with the given login
func (c *Config) FindLocalUser(login string) (*LocalUser, bool) {
	for i := range c.Auth.LocalUsers {
		if c.Auth.LocalUsers[i].Login == login {
			return &c.Auth.LocalUsers[i], true
		}
	}
	return nil, false
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api.port %d: must be between 1 and 65535", config.API.Port)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("api.cert_file and api.key_file are required when api.tls is enabled")
	}

	for _, cidr := range config.API.TrustedProxyNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid api.trusted_proxy_networks entry %q: %w", cidr, err)
		}
	}

	if config.Auth.Enabled && config.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("auth.jwt_expiry must be positive")
	}
	if config.Auth.BcryptCost < bcrypt.MinCost || config.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	seen := make(map[string]bool)
	for _, user := range config.Auth.LocalUsers {
		if strings.TrimSpace(user.Login) == "" {
			return fmt.Errorf("auth.local_users: login cannot be empty")
		}
		if seen[user.Login] {
			return fmt.Errorf("auth.local_users: duplicate login %q", user.Login)
		}
		seen[user.Login] = true
		if user.PasswordHash == "" {
			return fmt.Errorf("auth.local_users: user %q has no password", user.Login)
		}
	}

	switch config.Secrets.Provider {
	case "", "env", "vault", "aws":
	default:
		return fmt.Errorf("unsupported secrets.provider: %s", config.Secrets.Provider)
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.LoginPerMinute <= 0 {
			return fmt.Errorf("rate_limit limits must be positive")
		}
		if config.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive")
		}
	}

	return nil
}
