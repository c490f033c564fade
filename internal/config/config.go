package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/logging"
	"livetalk-economy/internal/models"
)

// CurrentEconomyVersion is the economy schema this build understands.
const CurrentEconomyVersion = 1

// Config holds all application configuration
type Config struct {
	Environment string              `mapstructure:"environment"`
	Server      ServerConfig        `mapstructure:"server"`
	Store       StoreConfig         `mapstructure:"store"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Kafka       KafkaConfig         `mapstructure:"kafka"`
	JWT         JWTConfig           `mapstructure:"jwt"`
	Logging     logging.Config      `mapstructure:"logging"`
	Economy     EconomyConfig       `mapstructure:"economy"`
	Outbox      OutboxConfig        `mapstructure:"outbox"`
	RateLimit   RateLimit           `mapstructure:"rate_limit"`
	Gifts       []models.Gift       `mapstructure:"gifts"`
	StoreItems  []models.StoreItem  `mapstructure:"store_items"`
	VIPPackages []models.VIPPackage `mapstructure:"vip_packages"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the balance store backend: "redis" or "memory".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// EconomyConfig is loaded once, validated, and passed explicitly to the engine.
type EconomyConfig struct {
	Version               int                      `mapstructure:"version"`
	LuckyEnabled          bool                     `mapstructure:"lucky_enabled"`
	LuckyGiftWinRate      float64                  `mapstructure:"lucky_gift_win_rate"`
	LuckyMultipliers      []models.LuckyMultiplier `mapstructure:"lucky_multipliers"`
	EarningsShare         float64                  `mapstructure:"earnings_share"`
	AnnouncementThreshold int64                    `mapstructure:"announcement_threshold"`
	ComboExpiry           time.Duration            `mapstructure:"combo_expiry"`
	FlushDelay            time.Duration            `mapstructure:"flush_delay"`
	RoomSyncDelay         time.Duration            `mapstructure:"room_sync_delay"`
	BagExpiry             time.Duration            `mapstructure:"bag_expiry"`
	ClaimGate             time.Duration            `mapstructure:"claim_gate"`
	EmojiDuration         time.Duration            `mapstructure:"emoji_duration"`
	DiamondExchangeRate   float64                  `mapstructure:"diamond_exchange_rate"`
	SalaryBlock           int64                    `mapstructure:"salary_block"`
	AgencyBlockCredit     int64                    `mapstructure:"agency_block_credit"`
	DefaultMicCount       int                      `mapstructure:"default_mic_count"`
}

type OutboxConfig struct {
	Workers         int           `mapstructure:"workers"`
	MaxAttempts     uint64        `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	CommitTimeout   time.Duration `mapstructure:"commit_timeout"`
}

// RateLimit is requests per minute per user and action.
type RateLimit struct {
	Gifts  int `mapstructure:"gifts"`
	Combo  int `mapstructure:"combo"`
	Claims int `mapstructure:"claims"`
}

// Load reads filename (if it exists), applies environment overrides and validates.
func Load(filename string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			v.SetConfigFile(filename)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Economy.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", "redis")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topics", map[string]string{
		"gift_events":   "livetalk.gift-events",
		"announcements": "livetalk.announcements",
		"bag_events":    "livetalk.bag-events",
		"purchases":     "livetalk.purchases",
	})

	v.SetDefault("jwt.secret", "dev-only-change-me")
	v.SetDefault("jwt.expiration", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	d := DefaultEconomy()
	v.SetDefault("economy.version", d.Version)
	v.SetDefault("economy.lucky_enabled", d.LuckyEnabled)
	v.SetDefault("economy.lucky_gift_win_rate", d.LuckyGiftWinRate)
	v.SetDefault("economy.lucky_multipliers", []map[string]interface{}{})
	v.SetDefault("economy.earnings_share", d.EarningsShare)
	v.SetDefault("economy.announcement_threshold", d.AnnouncementThreshold)
	v.SetDefault("economy.combo_expiry", d.ComboExpiry)
	v.SetDefault("economy.flush_delay", d.FlushDelay)
	v.SetDefault("economy.room_sync_delay", d.RoomSyncDelay)
	v.SetDefault("economy.bag_expiry", d.BagExpiry)
	v.SetDefault("economy.claim_gate", d.ClaimGate)
	v.SetDefault("economy.emoji_duration", d.EmojiDuration)
	v.SetDefault("economy.diamond_exchange_rate", d.DiamondExchangeRate)
	v.SetDefault("economy.salary_block", d.SalaryBlock)
	v.SetDefault("economy.agency_block_credit", d.AgencyBlockCredit)
	v.SetDefault("economy.default_mic_count", d.DefaultMicCount)

	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.initial_interval", 200*time.Millisecond)
	v.SetDefault("outbox.max_interval", 10*time.Second)
	v.SetDefault("outbox.commit_timeout", 5*time.Second)

	v.SetDefault("rate_limit.gifts", 120)
	v.SetDefault("rate_limit.combo", 600)
	v.SetDefault("rate_limit.claims", 30)

	v.SetDefault("gifts", []map[string]interface{}{})
	v.SetDefault("store_items", []map[string]interface{}{})
	v.SetDefault("vip_packages", []map[string]interface{}{})
}

// DefaultEconomy returns the observed production values.
func DefaultEconomy() EconomyConfig {
	return EconomyConfig{
		Version:               CurrentEconomyVersion,
		LuckyEnabled:          false,
		LuckyGiftWinRate:      30,
		EarningsShare:         0.70,
		AnnouncementThreshold: 10000,
		ComboExpiry:           5 * time.Second,
		FlushDelay:            3 * time.Second,
		RoomSyncDelay:         2500 * time.Millisecond,
		BagExpiry:             5 * time.Minute,
		ClaimGate:             10 * time.Second,
		EmojiDuration:         4 * time.Second,
		DiamondExchangeRate:   0.5,
		SalaryBlock:           70000,
		AgencyBlockCredit:     80000,
		DefaultMicCount:       8,
	}
}

// Validate rejects malformed economy settings instead of silently accepting them.
func (e *EconomyConfig) Validate() error {
	if e.Version != CurrentEconomyVersion {
		return configError("unsupported economy version %d", e.Version)
	}
	if e.LuckyGiftWinRate < 0 || e.LuckyGiftWinRate > 100 {
		return configError("lucky_gift_win_rate must be within [0,100], got %v", e.LuckyGiftWinRate)
	}
	if e.LuckyEnabled {
		if len(e.LuckyMultipliers) == 0 {
			return configError("lucky_multipliers must not be empty when lucky gifts are enabled")
		}
		var total float64
		for i, m := range e.LuckyMultipliers {
			if m.Chance < 0 {
				return configError("lucky_multipliers[%d] has negative chance", i)
			}
			if m.Value <= 0 {
				return configError("lucky_multipliers[%d] must have a positive value", i)
			}
			total += m.Chance
		}
		if total <= 0 {
			return configError("lucky_multipliers chances must not all be zero")
		}
	}
	if e.EarningsShare <= 0 || e.EarningsShare > 1 {
		return configError("earnings_share must be within (0,1], got %v", e.EarningsShare)
	}
	if e.ComboExpiry <= 0 || e.FlushDelay <= 0 || e.RoomSyncDelay <= 0 || e.BagExpiry <= 0 {
		return configError("timer durations must be positive")
	}
	if e.FlushDelay >= e.ComboExpiry {
		return configError("flush_delay (%s) must be shorter than combo_expiry (%s)", e.FlushDelay, e.ComboExpiry)
	}
	if e.DiamondExchangeRate <= 0 {
		return configError("diamond_exchange_rate must be positive")
	}
	if e.SalaryBlock <= 0 || e.AgencyBlockCredit <= 0 {
		return configError("salary_block and agency_block_credit must be positive")
	}
	return nil
}

func configError(format string, args ...interface{}) error {
	return apperrors.NewWithDebug(apperrors.ErrConfigError, "invalid economy configuration", fmt.Sprintf(format, args...))
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Topic returns the configured Kafka topic for name, or name itself.
func (k KafkaConfig) Topic(name string) string {
	if t, ok := k.Topics[name]; ok && t != "" {
		return t
	}
	return name
}
