/*
Copyright 2024 Blnk Finance Authors.

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

	DefaultAggregatorBaseURL = "https://bankaccountdata.gocardless.com"
	DefaultImportBatchSize   = 100
	DefaultAutoMatchQueue    = "auto_match"

	ScorerTrigram     = "trigram"
	ScorerLevenshtein = "levenshtein"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"BANKLINK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"BANKLINK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"BANKLINK_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"BANKLINK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"BANKLINK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"BANKLINK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns                string `json:"dns" envconfig:"BANKLINK_DATA_SOURCE_DNS"`
	MaxOpenConns       int    `json:"max_open_conns" envconfig:"BANKLINK_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns       int    `json:"max_idle_conns" envconfig:"BANKLINK_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" envconfig:"BANKLINK_DATA_SOURCE_CONN_MAX_LIFETIME_SEC"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"BANKLINK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"BANKLINK_REDIS_SKIP_TLS_VERIFY"`
}

// AggregatorConfig holds the GoCardless Bank Account Data credentials.
type AggregatorConfig struct {
	BaseURL     string `json:"base_url" envconfig:"BANKLINK_AGGREGATOR_BASE_URL"`
	SecretID    string `json:"secret_id" envconfig:"BANKLINK_AGGREGATOR_SECRET_ID"`
	SecretKey   string `json:"secret_key" envconfig:"BANKLINK_AGGREGATOR_SECRET_KEY"`
	RedirectURL string `json:"redirect_url" envconfig:"BANKLINK_AGGREGATOR_REDIRECT_URL"`
	TimeoutSec  int    `json:"timeout_sec" envconfig:"BANKLINK_AGGREGATOR_TIMEOUT_SEC"`
	DailyQuota  int64  `json:"daily_quota" envconfig:"BANKLINK_AGGREGATOR_DAILY_QUOTA"`
}

// SchedulerConfig controls background syncing. An IntervalMinutes of zero
// selects the twice-daily 08:00/20:00 schedule.
type SchedulerConfig struct {
	Enabled           bool `json:"enabled" envconfig:"BANKLINK_SCHEDULER_ENABLED"`
	IntervalMinutes   int  `json:"interval_minutes" envconfig:"BANKLINK_SCHEDULER_INTERVAL_MINUTES"`
	MaxAttempts       int  `json:"max_attempts" envconfig:"BANKLINK_SCHEDULER_MAX_ATTEMPTS"`
	InitialBackoffSec int  `json:"initial_backoff_sec" envconfig:"BANKLINK_SCHEDULER_INITIAL_BACKOFF_SEC"`
	LockTTLSec        int  `json:"lock_ttl_sec" envconfig:"BANKLINK_SCHEDULER_LOCK_TTL_SEC"`
	StartupCheck      bool `json:"startup_check" envconfig:"BANKLINK_SCHEDULER_STARTUP_CHECK"`
}

type MatchingConfig struct {
	Scorer string `json:"scorer" envconfig:"BANKLINK_MATCHING_SCORER"`
}

type ImportConfig struct {
	BatchSize int `json:"batch_size" envconfig:"BANKLINK_IMPORT_BATCH_SIZE"`
}

type QueueConfig struct {
	AutoMatchQueue    string `json:"auto_match_queue" envconfig:"BANKLINK_QUEUE_AUTO_MATCH"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"BANKLINK_QUEUE_WORKER_CONCURRENCY"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"BANKLINK_QUEUE_MONITORING_PORT"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"BANKLINK_SLACK_WEBHOOK_URL"`
}

// NotificationConfig routes alerts for sync cycles that exhausted their retries.
type NotificationConfig struct {
	Slack SlackWebhook `json:"slack"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"BANKLINK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"BANKLINK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"BANKLINK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"BANKLINK_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"BANKLINK_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Aggregator      AggregatorConfig `json:"aggregator"`
	Scheduler       SchedulerConfig  `json:"scheduler"`
	Matching        MatchingConfig   `json:"matching"`
	Import          ImportConfig     `json:"import"`
	Queue           QueueConfig      `json:"queue"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`

	Notification NotificationConfig `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("banklink", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called banklink.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Banklink"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.addDataSourceDefaults()
	cnf.addAggregatorDefaults()
	if err := cnf.addSchedulerDefaults(); err != nil {
		return err
	}

	switch cnf.Matching.Scorer {
	case "":
		cnf.Matching.Scorer = ScorerTrigram
	case ScorerTrigram, ScorerLevenshtein:
	default:
		return errors.New("matching scorer must be one of trigram, levenshtein")
	}

	if cnf.Import.BatchSize <= 0 {
		cnf.Import.BatchSize = DefaultImportBatchSize
	}
	if cnf.Queue.AutoMatchQueue == "" {
		cnf.Queue.AutoMatchQueue = DefaultAutoMatchQueue
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

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
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) addDataSourceDefaults() {
	if cnf.DataSource.MaxOpenConns <= 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns <= 0 {
		cnf.DataSource.MaxIdleConns = 10
	}
	if cnf.DataSource.ConnMaxLifetimeSec <= 0 {
		cnf.DataSource.ConnMaxLifetimeSec = 1800
	}
}

func (cnf *Configuration) addAggregatorDefaults() {
	if cnf.Aggregator.BaseURL == "" {
		cnf.Aggregator.BaseURL = DefaultAggregatorBaseURL
	}
	if cnf.Aggregator.TimeoutSec <= 0 {
		cnf.Aggregator.TimeoutSec = 30
	}
	if cnf.Aggregator.DailyQuota <= 0 {
		cnf.Aggregator.DailyQuota = 4
	}
	cnf.Aggregator.SecretID = strings.TrimSpace(cnf.Aggregator.SecretID)
	if cnf.Aggregator.SecretID == "" || cnf.Aggregator.SecretKey == "" {
		log.Println("Warning: Aggregator credentials are not set. Bank syncing is disabled until they are configured.")
	}
}

func (cnf *Configuration) addSchedulerDefaults() error {
	if cnf.Scheduler.IntervalMinutes != 0 && (cnf.Scheduler.IntervalMinutes < 5 || cnf.Scheduler.IntervalMinutes > 24*60) {
		return errors.New("scheduler interval must be between 5 minutes and 24 hours")
	}
	if cnf.Scheduler.MaxAttempts <= 0 {
		cnf.Scheduler.MaxAttempts = 3
	}
	if cnf.Scheduler.InitialBackoffSec <= 0 {
		cnf.Scheduler.InitialBackoffSec = 2
	}
	if cnf.Scheduler.LockTTLSec <= 0 {
		cnf.Scheduler.LockTTLSec = 900
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
