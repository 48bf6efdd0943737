package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Matching MatchingConfig `json:"matching"`
	SMS      SMSConfig      `json:"sms"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// MatchingConfig holds the agent-matching tunables. The weight defaults
// reproduce the documented 40/30/30 proximity/capacity/reputation split.
type MatchingConfig struct {
	MaxRadiusKm      float64       `json:"max_radius_km"`
	DefaultTopN      int           `json:"default_top_n"`
	ProximityWeight  float64       `json:"proximity_weight"`
	CapacityWeight   float64       `json:"capacity_weight"`
	ReputationWeight float64       `json:"reputation_weight"`
	AssignmentSLA    time.Duration `json:"assignment_sla"`
	SweepInterval    time.Duration `json:"sweep_interval"`
}

// SMSConfig represents the outbound SMS channel configuration
type SMSConfig struct {
	Enabled     bool          `json:"enabled"`
	Region      string        `json:"region"`
	SenderID    string        `json:"sender_id"`
	SendTimeout time.Duration `json:"send_timeout"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "gudam_marketplace",
			SSLMode: "disable",
		},
		Matching: MatchingConfig{
			MaxRadiusKm:      100.0,
			DefaultTopN:      5,
			ProximityWeight:  0.4,
			CapacityWeight:   0.3,
			ReputationWeight: 0.3,
			AssignmentSLA:    30 * time.Minute,
			SweepInterval:    5 * time.Minute,
		},
		SMS: SMSConfig{
			Enabled:     false,
			Region:      "ap-southeast-1",
			SenderID:    "GUDAM",
			SendTimeout: 10 * time.Second,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if radius := os.Getenv("MATCHING_MAX_RADIUS_KM"); radius != "" {
		if r, err := strconv.ParseFloat(radius, 64); err == nil {
			config.Matching.MaxRadiusKm = r
		}
	}
	if topN := os.Getenv("MATCHING_DEFAULT_TOP_N"); topN != "" {
		if n, err := strconv.Atoi(topN); err == nil {
			config.Matching.DefaultTopN = n
		}
	}
	if enabled := os.Getenv("SMS_ENABLED"); enabled != "" {
		config.SMS.Enabled = enabled == "true"
	}
	if region := os.Getenv("SMS_REGION"); region != "" {
		config.SMS.Region = region
	}
	if sender := os.Getenv("SMS_SENDER_ID"); sender != "" {
		config.SMS.SenderID = sender
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
