package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v3"

	"github.com/pavelc4/aether-queue/pkg/logger"
)

const (
	DefaultMaxConcurrency        = 4
	MaxAdaptiveConcurrency       = 32
	DefaultMaxPartBytes          = 1950 * 1024 * 1024 // just under the 2 GiB upload cap
	DefaultDailyQuotaBytes       = 5 * 1024 * 1024 * 1024
	DefaultRateLimitCount        = 5
	DefaultRateLimitWindow       = time.Minute
	DefaultMaxQueueLengthPerUser = 3
	DefaultArtifactTTL           = 5 * time.Minute
	DefaultSweepInterval         = time.Minute
	DefaultMaxRetryAttempts      = 3
	DefaultRetryBase             = 2 * time.Second
	DefaultRetryMax              = time.Minute
	DefaultDeliveryInterval      = time.Second
	DefaultQuotaSaveInterval     = time.Minute
	DefaultFetchTimeout          = 30 * time.Minute
	DefaultSessionDir            = "session"
	DefaultCookiesDir            = "cookies"
	DefaultStatsPath             = "data/stats.json"
)

type Config struct {
	BotToken   string
	AppID      int
	AppHash    string
	OwnerID    int64
	AdminIDs   []int64
	PremiumIDs []int64
	SessionDir string

	HTTPAddr    string
	APIToken    string
	CORSOrigins []string

	DatabaseURL string

	CobaltAPI    string
	CobaltAPIKey string

	WorkDir     string
	StatsPath   string
	CookiesDir  string
	YtdlpPath   string
	FFmpegPath  string
	FFprobePath string
	LogLevel    string

	MaxConcurrency        int
	DailyQuotaBytes       int64
	MaxPartBytes          int64
	RateLimitCount        int
	RateLimitWindow       time.Duration
	MaxQueueLengthPerUser int
	ArtifactTTL           time.Duration
	SweepInterval         time.Duration
	MaxRetryAttempts      int
	RetryBase             time.Duration
	RetryMax              time.Duration
	DeliveryInterval      time.Duration
	QuotaSaveInterval     time.Duration
	FetchTimeout          time.Duration
}

// Default returns a Config with the built-in limits. MaxConcurrency 0 means adaptive.
func Default() *Config {
	return &Config{
		SessionDir:            DefaultSessionDir,
		CookiesDir:            DefaultCookiesDir,
		StatsPath:             DefaultStatsPath,
		YtdlpPath:             "yt-dlp",
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		LogLevel:              "info",
		CORSOrigins:           []string{"*"},
		DailyQuotaBytes:       DefaultDailyQuotaBytes,
		MaxPartBytes:          DefaultMaxPartBytes,
		RateLimitCount:        DefaultRateLimitCount,
		RateLimitWindow:       DefaultRateLimitWindow,
		MaxQueueLengthPerUser: DefaultMaxQueueLengthPerUser,
		ArtifactTTL:           DefaultArtifactTTL,
		SweepInterval:         DefaultSweepInterval,
		MaxRetryAttempts:      DefaultMaxRetryAttempts,
		RetryBase:             DefaultRetryBase,
		RetryMax:              DefaultRetryMax,
		DeliveryInterval:      DefaultDeliveryInterval,
		QuotaSaveInterval:     DefaultQuotaSaveInterval,
		FetchTimeout:          DefaultFetchTimeout,
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by AETHER_CONFIG, and the environment, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("AETHER_CONFIG"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.ResolveConcurrency()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type yamlConfig struct {
	Telegram struct {
		BotToken   string  `yaml:"bot_token"`
		AppID      int     `yaml:"app_id"`
		AppHash    string  `yaml:"app_hash"`
		OwnerID    int64   `yaml:"owner_id"`
		AdminIDs   []int64 `yaml:"admin_ids"`
		PremiumIDs []int64 `yaml:"premium_ids"`
		SessionDir string  `yaml:"session_dir"`
	} `yaml:"telegram"`

	HTTP struct {
		Addr        string   `yaml:"addr"`
		APIToken    string   `yaml:"api_token"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`

	DatabaseURL string `yaml:"database_url"`

	Cobalt struct {
		API    string `yaml:"api"`
		APIKey string `yaml:"api_key"`
	} `yaml:"cobalt"`

	WorkDir     string `yaml:"work_dir"`
	StatsPath   string `yaml:"stats_path"`
	CookiesDir  string `yaml:"cookies_dir"`
	YtdlpPath   string `yaml:"ytdlp_path"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	LogLevel    string `yaml:"log_level"`

	Limits struct {
		MaxConcurrency        int    `yaml:"max_concurrency"`
		DailyQuota            string `yaml:"daily_quota"`
		MaxPartSize           string `yaml:"max_part_size"`
		MaxQueueLengthPerUser int    `yaml:"max_queue_length_per_user"`
		RateLimit             struct {
			Count  int    `yaml:"count"`
			Window string `yaml:"window"`
		} `yaml:"rate_limit"`
	} `yaml:"limits"`

	Artifacts struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"artifacts"`

	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		Base        string `yaml:"base"`
		Max         string `yaml:"max"`
	} `yaml:"retry"`

	DeliveryInterval  string `yaml:"delivery_interval"`
	QuotaSaveInterval string `yaml:"quota_save_interval"`
	FetchTimeout      string `yaml:"fetch_timeout"`
}

// LoadFromFile applies the values present in a YAML file.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&c.BotToken, y.Telegram.BotToken)
	setString(&c.AppHash, y.Telegram.AppHash)
	setString(&c.SessionDir, y.Telegram.SessionDir)
	setInt(&c.AppID, y.Telegram.AppID)
	if y.Telegram.OwnerID != 0 {
		c.OwnerID = y.Telegram.OwnerID
	}
	if len(y.Telegram.AdminIDs) > 0 {
		c.AdminIDs = y.Telegram.AdminIDs
	}
	if len(y.Telegram.PremiumIDs) > 0 {
		c.PremiumIDs = y.Telegram.PremiumIDs
	}

	setString(&c.HTTPAddr, y.HTTP.Addr)
	setString(&c.APIToken, y.HTTP.APIToken)
	if len(y.HTTP.CORSOrigins) > 0 {
		c.CORSOrigins = y.HTTP.CORSOrigins
	}

	setString(&c.DatabaseURL, y.DatabaseURL)
	setString(&c.CobaltAPI, y.Cobalt.API)
	setString(&c.CobaltAPIKey, y.Cobalt.APIKey)
	setString(&c.WorkDir, y.WorkDir)
	setString(&c.StatsPath, y.StatsPath)
	setString(&c.CookiesDir, y.CookiesDir)
	setString(&c.YtdlpPath, y.YtdlpPath)
	setString(&c.FFmpegPath, y.FFmpegPath)
	setString(&c.FFprobePath, y.FFprobePath)
	setString(&c.LogLevel, y.LogLevel)

	setInt(&c.MaxConcurrency, y.Limits.MaxConcurrency)
	setInt(&c.MaxQueueLengthPerUser, y.Limits.MaxQueueLengthPerUser)
	setInt(&c.RateLimitCount, y.Limits.RateLimit.Count)
	setInt(&c.MaxRetryAttempts, y.Retry.MaxAttempts)

	var errs []error
	collect := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	collect("limits.daily_quota", parseSize(&c.DailyQuotaBytes, y.Limits.DailyQuota))
	collect("limits.max_part_size", parseSize(&c.MaxPartBytes, y.Limits.MaxPartSize))
	collect("limits.rate_limit.window", parseDuration(&c.RateLimitWindow, y.Limits.RateLimit.Window))
	collect("artifacts.ttl", parseDuration(&c.ArtifactTTL, y.Artifacts.TTL))
	collect("artifacts.sweep_interval", parseDuration(&c.SweepInterval, y.Artifacts.SweepInterval))
	collect("retry.base", parseDuration(&c.RetryBase, y.Retry.Base))
	collect("retry.max", parseDuration(&c.RetryMax, y.Retry.Max))
	collect("delivery_interval", parseDuration(&c.DeliveryInterval, y.DeliveryInterval))
	collect("quota_save_interval", parseDuration(&c.QuotaSaveInterval, y.QuotaSaveInterval))
	collect("fetch_timeout", parseDuration(&c.FetchTimeout, y.FetchTimeout))

	if len(errs) > 0 {
		return fmt.Errorf("parse config file: %w", errors.Join(errs...))
	}
	return nil
}

// LoadFromEnv applies environment variables over the current values.
func (c *Config) LoadFromEnv() error {
	var errs []error
	collect := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", name, err))
		}
	}

	setString(&c.BotToken, os.Getenv("BOT_TOKEN"))
	setString(&c.AppHash, os.Getenv("APP_HASH"))
	setString(&c.SessionDir, os.Getenv("SESSION_DIR"))
	setString(&c.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&c.APIToken, os.Getenv("API_TOKEN"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.CobaltAPI, os.Getenv("COBALT_API"))
	setString(&c.CobaltAPIKey, os.Getenv("COBALT_API_KEY"))
	setString(&c.WorkDir, os.Getenv("WORK_DIR"))
	setString(&c.StatsPath, os.Getenv("STATS_PATH"))
	setString(&c.CookiesDir, os.Getenv("COOKIES_DIR"))
	setString(&c.YtdlpPath, os.Getenv("YTDLP_PATH"))
	setString(&c.FFmpegPath, os.Getenv("FFMPEG_PATH"))
	setString(&c.FFprobePath, os.Getenv("FFPROBE_PATH"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	collect("APP_ID", envInt("APP_ID", &c.AppID))
	collect("OWNER_ID", envInt64("OWNER_ID", &c.OwnerID))
	collect("ADMIN_IDS", envIDs("ADMIN_IDS", &c.AdminIDs))
	collect("PREMIUM_IDS", envIDs("PREMIUM_IDS", &c.PremiumIDs))

	collect("MAX_CONCURRENCY", envInt("MAX_CONCURRENCY", &c.MaxConcurrency))
	collect("MAX_QUEUE_LENGTH", envInt("MAX_QUEUE_LENGTH", &c.MaxQueueLengthPerUser))
	collect("RATE_LIMIT_COUNT", envInt("RATE_LIMIT_COUNT", &c.RateLimitCount))
	collect("MAX_RETRY_ATTEMPTS", envInt("MAX_RETRY_ATTEMPTS", &c.MaxRetryAttempts))
	collect("DAILY_QUOTA", parseSize(&c.DailyQuotaBytes, os.Getenv("DAILY_QUOTA")))
	collect("MAX_PART_SIZE", parseSize(&c.MaxPartBytes, os.Getenv("MAX_PART_SIZE")))
	collect("RATE_LIMIT_WINDOW", parseDuration(&c.RateLimitWindow, os.Getenv("RATE_LIMIT_WINDOW")))
	collect("ARTIFACT_TTL", parseDuration(&c.ArtifactTTL, os.Getenv("ARTIFACT_TTL")))
	collect("SWEEP_INTERVAL", parseDuration(&c.SweepInterval, os.Getenv("SWEEP_INTERVAL")))
	collect("RETRY_BASE", parseDuration(&c.RetryBase, os.Getenv("RETRY_BASE")))
	collect("RETRY_MAX", parseDuration(&c.RetryMax, os.Getenv("RETRY_MAX")))
	collect("DELIVERY_INTERVAL", parseDuration(&c.DeliveryInterval, os.Getenv("DELIVERY_INTERVAL")))
	collect("QUOTA_SAVE_INTERVAL", parseDuration(&c.QuotaSaveInterval, os.Getenv("QUOTA_SAVE_INTERVAL")))
	collect("FETCH_TIMEOUT", parseDuration(&c.FetchTimeout, os.Getenv("FETCH_TIMEOUT")))

	return errors.Join(errs...)
}

// ResolveConcurrency picks a worker count from the CPU count when none is configured.
func (c *Config) ResolveConcurrency() {
	if c.MaxConcurrency > 0 {
		logger.Info("Using fixed concurrency", "limit", c.MaxConcurrency)
		return
	}

	cores, err := cpu.Counts(true)
	if err != nil || cores < 1 {
		cores = 1
	}
	limit := cores * 2
	if limit < DefaultMaxConcurrency {
		limit = DefaultMaxConcurrency
	}
	if limit > MaxAdaptiveConcurrency {
		limit = MaxAdaptiveConcurrency
	}
	c.MaxConcurrency = limit
	logger.Info("Using adaptive concurrency", "cores", cores, "limit", limit)
}

func (c *Config) Validate() error {
	switch {
	case c.BotToken == "":
		return errors.New("config: BOT_TOKEN is required")
	case c.AppID == 0 || c.AppHash == "":
		return errors.New("config: APP_ID and APP_HASH are required")
	case c.MaxConcurrency < 1:
		return errors.New("config: max concurrency must be positive")
	case c.MaxPartBytes <= 0:
		return errors.New("config: max part size must be positive")
	case c.DailyQuotaBytes < 0:
		return errors.New("config: daily quota cannot be negative")
	case c.RateLimitCount < 0:
		return errors.New("config: rate limit count cannot be negative")
	case c.RateLimitCount > 0 && c.RateLimitWindow <= 0:
		return errors.New("config: rate limit window must be positive")
	case c.MaxQueueLengthPerUser < 0:
		return errors.New("config: max queue length cannot be negative")
	case c.ArtifactTTL < 0:
		return errors.New("config: artifact ttl cannot be negative")
	case c.SweepInterval <= 0:
		return errors.New("config: sweep interval must be positive")
	case c.MaxRetryAttempts < 1:
		return errors.New("config: max retry attempts must be at least 1")
	case c.RetryBase <= 0 || c.RetryMax < c.RetryBase:
		return errors.New("config: retry base must be positive and not above retry max")
	case c.HTTPAddr != "" && c.APIToken == "":
		return errors.New("config: API_TOKEN is required when HTTP_ADDR is set")
	}
	return nil
}

// IsOwner reports whether userID is the bot owner.
func (c *Config) IsOwner(userID int64) bool {
	return c.OwnerID != 0 && c.OwnerID == userID
}

func (c *Config) QuotaLabel() string {
	if c.DailyQuotaBytes == 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(c.DailyQuotaBytes))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func parseSize(dst *int64, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return err
	}
	*dst = int64(n)
	return nil
}

func parseDuration(dst *time.Duration, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func envInt64(name string, dst *int64) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func envIDs(name string, dst *[]int64) error {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return nil
	}
	ids, err := ParseIDs(v)
	if err != nil {
		return err
	}
	*dst = ids
	return nil
}

// ParseIDs parses a comma or space separated list of user IDs.
func ParseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, f := range splitList(v) {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", f, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
}
