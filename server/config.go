// Copyright 2024 The Rankserver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"flag"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the rankserver core configuration.
type Config interface {
	GetName() string
	GetPort() int
	GetStatusPort() int
	GetDatabase() *DatabaseConfig
	GetLogger() *LoggerConfig
	GetRanking() *RankingConfig

	Validate(logger *zap.Logger)
}

func ParseArgs(logger *zap.Logger, args []string) Config {
	config := NewConfig()

	flagSet := flag.NewFlagSet("rankserver", flag.ExitOnError)
	var configPath string
	flagSet.StringVar(&configPath, "config", "", "The absolute file path to configuration YAML file.")
	flagSet.StringVar(&config.Name, "name", config.Name, "Server instance name, used in logs.")
	flagSet.IntVar(&config.Port, "port", config.Port, "Port to accept ladder requests on.")
	flagSet.IntVar(&config.StatusPort, "status-port", config.StatusPort, "Port to serve the status counter on.")
	flagSet.StringVar(&config.Database.Address, "database.address", config.Database.Address, "Database connection address.")
	flagSet.StringVar(&config.Logger.Level, "logger.level", config.Logger.Level, "Log level, one of DEBUG, INFO, WARN, ERROR.")
	flagSet.StringVar(&config.Logger.File, "logger.file", config.Logger.File, "Log file path, empty logs to stdout only.")

	if err := flagSet.Parse(args[1:]); err != nil {
		logger.Error("Could not parse command line arguments - ignoring command-line overrides", zap.Error(err))
		return config
	}

	if len(configPath) > 0 {
		data, err := os.ReadFile(configPath)
		if err != nil {
			logger.Fatal("Could not read config file", zap.String("path", configPath), zap.Error(err))
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			logger.Fatal("Could not parse config file", zap.String("path", configPath), zap.Error(err))
		}
		// Command line overrides win over file values.
		if err := flagSet.Parse(args[1:]); err != nil {
			logger.Error("Could not re-apply command line overrides", zap.Error(err))
		}
	}

	return config
}

type config struct {
	Name       string          `yaml:"name"`
	Port       int             `yaml:"port"`
	StatusPort int             `yaml:"status_port"`
	Database   *DatabaseConfig `yaml:"database"`
	Logger     *LoggerConfig   `yaml:"logger"`
	Ranking    *RankingConfig  `yaml:"ranking"`
}

// NewConfig constructs a config struct with default server settings.
func NewConfig() *config {
	return &config{
		Name:       "rankserver",
		Port:       4747,
		StatusPort: 4748,
		Database:   NewDatabaseConfig(),
		Logger:     NewLoggerConfig(),
		Ranking:    NewRankingConfig(),
	}
}

func (c *config) GetName() string {
	return c.Name
}

func (c *config) GetPort() int {
	return c.Port
}

func (c *config) GetStatusPort() int {
	return c.StatusPort
}

func (c *config) GetDatabase() *DatabaseConfig {
	return c.Database
}

func (c *config) GetLogger() *LoggerConfig {
	return c.Logger
}

func (c *config) GetRanking() *RankingConfig {
	return c.Ranking
}

func (c *config) Validate(logger *zap.Logger) {
	if c.Port < 1 || c.Port > 65535 {
		logger.Fatal("Server port must be between 1 and 65535", zap.Int("port", c.Port))
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		logger.Fatal("Status port must be between 0 and 65535", zap.Int("status_port", c.StatusPort))
	}
	if len(c.Database.Address) < 1 {
		logger.Fatal("Database address must be set")
	}
	if c.Ranking.KeepAPIDataDays < 1 {
		logger.Fatal("Ranking keep_api_data_days must be at least 1", zap.Int("keep_api_data_days", c.Ranking.KeepAPIDataDays))
	}
	if c.Ranking.RefreshIntervalSec < 1 {
		logger.Fatal("Ranking refresh_interval_sec must be at least 1", zap.Int("refresh_interval_sec", c.Ranking.RefreshIntervalSec))
	}
}

// DatabaseConfig is configuration relevant to the database storage.
type DatabaseConfig struct {
	Address           string `yaml:"address"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns"`
}

// NewDatabaseConfig creates a new DatabaseConfig struct.
func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Address:           "postgres@localhost:5432/sc2",
		ConnMaxLifetimeMs: 3600000,
		MaxOpenConns:      10,
		MaxIdleConns:      10,
	}
}

// LoggerConfig is configuration relevant to logging levels and output.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Stdout     bool   `yaml:"stdout"`
	File       string `yaml:"file"`
	Rotation   bool   `yaml:"rotation"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	LocalTime  bool   `yaml:"local_time"`
	Compress   bool   `yaml:"compress"`
}

// NewLoggerConfig creates a new LoggerConfig struct.
func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		Stdout:     true,
		File:       "",
		Rotation:   false,
		MaxSize:    100,
		MaxAge:     0,
		MaxBackups: 0,
	}
}

// RankingConfig is configuration relevant to serving and loading rankings.
type RankingConfig struct {
	// KeepAPIDataDays bounds how old records served from the api can be, older
	// records are dropped when a ranking is loaded.
	KeepAPIDataDays int `yaml:"keep_api_data_days"`
	// FromSeason filters which seasons are included in team history responses.
	FromSeason int `yaml:"from_season"`
	// RefreshIntervalSec is how often the ladder handler checks the store for a new
	// ranking.
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
}

// NewRankingConfig creates a new RankingConfig struct.
func NewRankingConfig() *RankingConfig {
	return &RankingConfig{
		KeepAPIDataDays:    14,
		FromSeason:         14,
		RefreshIntervalSec: 60,
	}
}
