package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8000"`
	ServerDNS      string `env:"SERVER_DNS" envDefault:"http://localhost:8000"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"listingwatch.sqlite"`

	Monitor struct {
		DefaultIntervalMins int    `env:"DEFAULT_CHECK_INTERVAL_MINUTES" envDefault:"20"`
		MinIntervalSecs     int    `env:"MIN_CHECK_INTERVAL_SECONDS" envDefault:"300"`
		MaxIntervalSecs     int    `env:"MAX_CHECK_INTERVAL_SECONDS" envDefault:"3600"`
		QuietHoursStart     int    `env:"QUIET_HOURS_START" envDefault:"23"`
		QuietHoursEnd       int    `env:"QUIET_HOURS_END" envDefault:"8"`
		QuietHoursTimezone  string `env:"QUIET_HOURS_TIMEZONE" envDefault:"Asia/Jerusalem"`
		QuietRecheckSecs    int    `env:"QUIET_HOURS_RECHECK_SECONDS" envDefault:"1500"`
		RetentionHours      int    `env:"UNSEEN_RETENTION_HOURS" envDefault:"0"`
		RetentionSweepMins  int    `env:"RETENTION_SWEEP_MINUTES" envDefault:"60"`
	}
	Source struct {
		BaseURL          string `env:"SOURCE_BASE_URL" envDefault:"https://www.yad2.co.il"`
		FetchTimeoutSecs int    `env:"FETCH_TIMEOUT_SECONDS" envDefault:"30"`
	}
	Telegram struct {
		BotToken        string `env:"TELEGRAM_BOT_TOKEN"`
		BotUsername     string `env:"TELEGRAM_BOT_USERNAME"`
		APIURL          string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
		PollSecs        int    `env:"TELEGRAM_POLL_SECONDS" envDefault:"5"`
		SendDelayMillis int    `env:"TELEGRAM_SEND_DELAY_MILLIS" envDefault:"1500"`
		TimeoutSecs     int    `env:"TELEGRAM_TIMEOUT_SECONDS" envDefault:"10"`
	}
	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM" envDefault:"listingwatch@localhost"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECONDS" envDefault:"10"`
		APIBase     string `env:"MAILGUN_API_BASE"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "development" {
			cfg.log.Sugar().Infof("%s (auth is disabled in development env)", err)
		} else {
			return nil, err
		}
	}
	cfg.creds = creds

	return cfg, nil
}

// Validate checks the monitoring bounds for consistency.
func (cfg *Config) Validate() error {
	m := cfg.Monitor
	switch {
	case m.MinIntervalSecs <= 0:
		return errors.New("MIN_CHECK_INTERVAL_SECONDS must be positive")
	case m.MaxIntervalSecs < m.MinIntervalSecs:
		return errors.New("MAX_CHECK_INTERVAL_SECONDS must not be below MIN_CHECK_INTERVAL_SECONDS")
	case m.QuietHoursStart < 0 || m.QuietHoursStart > 23 || m.QuietHoursEnd < 0 || m.QuietHoursEnd > 23:
		return fmt.Errorf("quiet hours must be within 0-23, got %d-%d", m.QuietHoursStart, m.QuietHoursEnd)
	case m.QuietRecheckSecs <= 0:
		return errors.New("QUIET_HOURS_RECHECK_SECONDS must be positive")
	}
	return nil
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) MinInterval() time.Duration {
	return time.Duration(cfg.Monitor.MinIntervalSecs) * time.Second
}

func (cfg *Config) MaxInterval() time.Duration {
	return time.Duration(cfg.Monitor.MaxIntervalSecs) * time.Second
}

// ClampIntervalMinutes bounds a requested check interval to what the poller
// will honour anyway.
func (cfg *Config) ClampIntervalMinutes(mins int) int {
	if mins <= 0 {
		mins = cfg.Monitor.DefaultIntervalMins
	}
	lo := (cfg.Monitor.MinIntervalSecs + 59) / 60
	hi := cfg.Monitor.MaxIntervalSecs / 60
	if mins < lo {
		mins = lo
	}
	if hi >= lo && mins > hi {
		mins = hi
	}
	return mins
}

// QuietHoursLocation resolves the configured timezone, falling back to UTC.
func (cfg *Config) QuietHoursLocation() *time.Location {
	loc, err := time.LoadLocation(cfg.Monitor.QuietHoursTimezone)
	if err != nil {
		if cfg.log != nil {
			cfg.log.Sugar().Warnw("Unknown quiet hours timezone, using UTC", "tz", cfg.Monitor.QuietHoursTimezone, "err", err)
		}
		return time.UTC
	}
	return loc
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
