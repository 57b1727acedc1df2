/*
Copyright 2024 Cardroom Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"CARDROOM_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"CARDROOM_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CARDROOM_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"CARDROOM_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"CARDROOM_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"CARDROOM_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CARDROOM_DATA_SOURCE_DNS"`
	// DirectDns points at the database without the transaction pooler in
	// front. Session-level features (advisory locks, LISTEN/NOTIFY) need it.
	DirectDns string `json:"direct_dns" envconfig:"CARDROOM_DATA_SOURCE_DIRECT_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CARDROOM_REDIS_DNS"`
}

// QueueConfig holds the tunables for the dividend job queue and its worker.
type QueueConfig struct {
	DividendQueue      string `json:"dividend_queue" envconfig:"CARDROOM_QUEUE_DIVIDEND"`
	MaxRetryAttempts   int    `json:"max_retry_attempts" envconfig:"CARDROOM_QUEUE_MAX_RETRY_ATTEMPTS"`
	RetryBaseDelaySec  int    `json:"retry_base_delay_sec" envconfig:"CARDROOM_QUEUE_RETRY_BASE_DELAY_SEC"`
	WorkerConcurrency  int    `json:"worker_concurrency" envconfig:"CARDROOM_QUEUE_WORKER_CONCURRENCY"`
	JobStartsPerWindow int    `json:"job_starts_per_window" envconfig:"CARDROOM_QUEUE_JOB_STARTS_PER_WINDOW"`
	RateWindowSec      int    `json:"rate_window_sec" envconfig:"CARDROOM_QUEUE_RATE_WINDOW_SEC"`
	RetentionDays      int    `json:"retention_days" envconfig:"CARDROOM_QUEUE_RETENTION_DAYS"`
	MonitoringPort     string `json:"monitoring_port" envconfig:"CARDROOM_QUEUE_MONITORING_PORT"`
}

// DividendsConfig drives the weekly distribution scheduler. Day follows
// time.Weekday numbering, so 0 is Sunday.
type DividendsConfig struct {
	Day             int `json:"day" envconfig:"CARDROOM_DIVIDENDS_DAY"`
	HourUTC         int `json:"hour_utc" envconfig:"CARDROOM_DIVIDENDS_HOUR_UTC"`
	StartupGraceSec int `json:"startup_grace_sec" envconfig:"CARDROOM_DIVIDENDS_STARTUP_GRACE_SEC"`
}

type HappyHourConfig struct {
	Enabled      bool    `json:"enabled" envconfig:"CARDROOM_HAPPY_HOUR_ENABLED"`
	Day          int     `json:"day" envconfig:"CARDROOM_HAPPY_HOUR_DAY"`
	HourUTC      int     `json:"hour_utc" envconfig:"CARDROOM_HAPPY_HOUR_HOUR_UTC"`
	DurationMin  int     `json:"duration_min" envconfig:"CARDROOM_HAPPY_HOUR_DURATION_MIN"`
	Multiplier   float64 `json:"multiplier" envconfig:"CARDROOM_HAPPY_HOUR_MULTIPLIER"`
	RandomChance float64 `json:"random_chance" envconfig:"CARDROOM_HAPPY_HOUR_RANDOM_CHANCE"`
	MinGapHours  int     `json:"min_gap_hours" envconfig:"CARDROOM_HAPPY_HOUR_MIN_GAP_HOURS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CARDROOM_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CARDROOM_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CARDROOM_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"CARDROOM_PROJECT_NAME"`
	Production      bool             `json:"production" envconfig:"CARDROOM_PRODUCTION"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"CARDROOM_ENABLE_TELEMETRY"`
	Version         string           `json:"version" envconfig:"CARDROOM_VERSION"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Pool            PoolConfig       `json:"pool"`
	Queue           QueueConfig      `json:"queue"`
	Dividends       DividendsConfig  `json:"dividends"`
	HappyHour       HappyHourConfig  `json:"happy_hour"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("cardroom", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called cardroom.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Cardroom Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.DirectDns = strings.TrimSpace(cnf.DataSource.DirectDns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// The direct connection falls back to the pooled DNS when not set.
	if cnf.DataSource.DirectDns == "" {
		cnf.DataSource.DirectDns = cnf.DataSource.Dns
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Pool.resolve()
	cnf.applyQueueDefaults()
	cnf.applyScheduleDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) applyQueueDefaults() {
	if cnf.Queue.DividendQueue == "" {
		cnf.Queue.DividendQueue = "dividends"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}
	if cnf.Queue.RetryBaseDelaySec <= 0 {
		cnf.Queue.RetryBaseDelaySec = 5
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 1
	}
	if cnf.Queue.JobStartsPerWindow <= 0 {
		cnf.Queue.JobStartsPerWindow = 10
	}
	if cnf.Queue.RateWindowSec <= 0 {
		cnf.Queue.RateWindowSec = 60
	}
	if cnf.Queue.RetentionDays <= 0 {
		cnf.Queue.RetentionDays = 7
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5002"
	}
}

func (cnf *Configuration) applyScheduleDefaults() {
	if cnf.Dividends.StartupGraceSec <= 0 {
		cnf.Dividends.StartupGraceSec = 30
	}
	if cnf.HappyHour.DurationMin <= 0 {
		cnf.HappyHour.DurationMin = 60
	}
	if cnf.HappyHour.Multiplier <= 0 {
		cnf.HappyHour.Multiplier = 2
	}
	if cnf.HappyHour.MinGapHours <= 0 {
		cnf.HappyHour.MinGapHours = 6
	}
	if cnf.HappyHour.RandomChance < 0 || cnf.HappyHour.RandomChance >= 1 {
		cnf.HappyHour.RandomChance = 0
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Pool.resolve()
	mockConfig.applyQueueDefaults()
	mockConfig.applyScheduleDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
