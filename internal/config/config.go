package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Key      KeyConfig      `json:"key"`
	Crypto   CryptoConfig   `json:"crypto"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	// IngestSecret gates the internal /internal/receive-proposal endpoint.
	IngestSecret      string `json:"ingest_secret"`
	BcryptCost        int    `json:"bcrypt_cost"`
	PasswordMinLength int    `json:"password_min_length"`
}

type KeyConfig struct {
	// KeyBits must be large enough to OAEP-wrap a 256-bit content key.
	KeyBits      int    `json:"key_bits"`
	DefaultKeyID string `json:"default_key_id"`
}

type CryptoConfig struct {
	DecryptTimeout time.Duration `json:"decrypt_timeout"`
	MaxEnvelopeMB  int64         `json:"max_envelope_mb"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DatabaseConfig struct {
	Driver          string `json:"driver"` // "postgres" or "sqlite"
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	Path            string `json:"path"` // sqlite only
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		if err = decoder.Decode(config); err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
	})

	return config, err
}

func applyDefaults(c *Configuration) {
	if c.Server.Port == "" {
		c.Server.Port = "8001"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Key.KeyBits == 0 {
		c.Key.KeyBits = 2048
	}
	if c.Key.DefaultKeyID == "" {
		c.Key.DefaultKeyID = "default"
	}
	if c.Crypto.DecryptTimeout == 0 {
		c.Crypto.DecryptTimeout = 10 * time.Second
	}
	if c.Crypto.MaxEnvelopeMB == 0 {
		c.Crypto.MaxEnvelopeMB = 64
	}
	if c.Security.BcryptCost == 0 {
		c.Security.BcryptCost = 10
	}
	if c.Security.PasswordMinLength == 0 {
		c.Security.PasswordMinLength = 8
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{
		Server: ServerConfig{
			Port:         "8001",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Security: SecurityConfig{
			IngestSecret:      "SHARED_SECRET",
			BcryptCost:        10,
			PasswordMinLength: 8,
		},
		Key: KeyConfig{
			KeyBits:      2048,
			DefaultKeyID: "default",
		},
		Crypto: CryptoConfig{
			DecryptTimeout: 10 * time.Second,
			MaxEnvelopeMB:  64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "sealedbid",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
	}

	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.Int("key_bits", config.Key.KeyBits),
		zap.String("default_key_id", config.Key.DefaultKeyID),
		zap.Duration("decrypt_timeout", config.Crypto.DecryptTimeout),
		zap.String("database_driver", config.Database.Driver),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
	)
}
