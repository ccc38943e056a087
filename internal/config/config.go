package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// Config is the root configuration tree. Values are loaded from an
// optional YAML file and then overridden by environment variables.
type Config struct {
	Telemart Telemart `yaml:"telemart"`
}

type Telemart struct {
	Env       string    `yaml:"env" env:"TM_ENV" env-default:"production" env-description:"Environment name (production, staging, local)"`
	Logger    Logger    `yaml:"logger"`
	Postgres  Postgres  `yaml:"postgres"`
	Web       Web       `yaml:"web"`
	Oracle    Oracle    `yaml:"oracle"`
	Providers Providers `yaml:"providers"`
	Scheduler Scheduler `yaml:"scheduler"`
}

type Logger struct {
	Level  string `yaml:"level" env:"TM_LOGGER_LEVEL" env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"TM_LOGGER_PRETTY" env-default:"false"`
}

type Postgres struct {
	DataSource     string `yaml:"data_source" env:"TM_POSTGRES_DATA_SOURCE" env-description:"Postgres connection string"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"TM_POSTGRES_MIGRATE_ON_START" env-default:"true"`
}

type Web struct {
	Address string `yaml:"address" env:"TM_WEB_ADDRESS" env-default:"0.0.0.0"`
	Port    string `yaml:"port" env:"TM_WEB_PORT" env-default:"8080"`
}

// Oracle controls retry behavior for blockchain lookups.
type Oracle struct {
	RequestTimeout time.Duration `yaml:"request_timeout" env:"TM_ORACLE_REQUEST_TIMEOUT" env-default:"15s"`
	MaxRetries     int           `yaml:"max_retries" env:"TM_ORACLE_MAX_RETRIES" env-default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"TM_ORACLE_RETRY_BASE_DELAY" env-default:"500ms"`
}

type Providers struct {
	Etherscan  Etherscan  `yaml:"etherscan"`
	Blockchain Blockchain `yaml:"blockchain"`
	TONAPI     TONAPI     `yaml:"tonapi"`
}

type Etherscan struct {
	BaseURL string `yaml:"base_url" env:"TM_ETHERSCAN_BASE_URL" env-default:"https://api.etherscan.io/api"`
	APIKey  string `yaml:"api_key" env:"TM_ETHERSCAN_API_KEY"`
}

type Blockchain struct {
	BaseURL string `yaml:"base_url" env:"TM_BLOCKCHAIN_BASE_URL" env-default:"https://blockchain.info"`
	APIKey  string `yaml:"api_key" env:"TM_BLOCKCHAIN_API_KEY"`
}

type TONAPI struct {
	BaseURL string `yaml:"base_url" env:"TM_TONAPI_BASE_URL" env-default:"https://tonapi.io"`
	APIKey  string `yaml:"api_key" env:"TM_TONAPI_API_KEY"`
}

type Scheduler struct {
	// SweepCron drives the subscription expiration sweep.
	SweepCron string `yaml:"sweep_cron" env:"TM_SCHEDULER_SWEEP_CRON" env-default:"@hourly"`
	// ReminderCron drives expiration reminder delivery.
	ReminderCron string `yaml:"reminder_cron" env:"TM_SCHEDULER_REMINDER_CRON" env-default:"0 10 * * *"`
}

// New loads configuration from the given YAML file (optional) and the
// environment.
func New(configPath string) (*Config, error) {
	cfg := &Config{}

	var err error
	if configPath != "" {
		err = cleanenv.ReadConfig(configPath, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to read config")
	}

	return cfg, nil
}

// Description returns a help text describing all environment variables.
func Description() string {
	help, _ := cleanenv.GetDescription(&Config{}, nil)
	return help
}
