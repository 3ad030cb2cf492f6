package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultAlertWindowDays           = 7
	DefaultFiscalOrderNumberFormat   = "OP-{SEQ8}"
	DefaultInternalOrderNumberFormat = "OI-{SEQ8}"
)

// LedgerConfig holds the tunables of the payables ledger.
type LedgerConfig struct {
	// AlertWindowDays is how close to its due date an open document turns DUE_SOON.
	AlertWindowDays           int    `mapstructure:"alertWindowDays"`
	// Order number templates per channel, rendered by sequence.Format.
	FiscalOrderNumberFormat   string `mapstructure:"fiscalOrderNumberFormat"`
	InternalOrderNumberFormat string `mapstructure:"internalOrderNumberFormat"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		AlertWindowDays:           DefaultAlertWindowDays,
		FiscalOrderNumberFormat:   DefaultFiscalOrderNumberFormat,
		InternalOrderNumberFormat: DefaultInternalOrderNumberFormat,
	}
}

// OrderNumberFormat returns the template for the given channel name.
func (c LedgerConfig) OrderNumberFormat(channel string) string {
	if channel == "INTERNAL" {
		if c.InternalOrderNumberFormat == "" {
			return DefaultInternalOrderNumberFormat
		}
		return c.InternalOrderNumberFormat
	}
	if c.FiscalOrderNumberFormat == "" {
		return DefaultFiscalOrderNumberFormat
	}
	return c.FiscalOrderNumberFormat
}

func (c LedgerConfig) AlertWindow() time.Duration {
	return time.Duration(c.AlertWindowDays) * 24 * time.Hour
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewStaticLedgerConfig returns a holder that never reloads.
func NewStaticLedgerConfig(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLedgerConfigHolder(appCfg Config) (*LedgerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	if appCfg.LedgerConfigPath != "" {
		v.AddConfigPath(appCfg.LedgerConfigPath)
	}
	v.AddConfigPath("/etc/payables")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYABLES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.alertWindowDays", defaults.AlertWindowDays)
	v.SetDefault("ledger.fiscalOrderNumberFormat", defaults.FiscalOrderNumberFormat)
	v.SetDefault("ledger.internalOrderNumberFormat", defaults.InternalOrderNumberFormat)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return nil, err
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticLedgerConfig(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated LedgerConfig
			if err := v.UnmarshalKey("ledger", &updated); err != nil {
				log.Printf("[ledger-config] reload failed: %v", err)
				return
			}
			if err := validateLedgerConfig(updated); err != nil {
				log.Printf("[ledger-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[ledger-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	if h == nil {
		return DefaultLedgerConfig()
	}
	cfg, ok := h.current.Load().(LedgerConfig)
	if !ok {
		return DefaultLedgerConfig()
	}
	return cfg
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if cfg.AlertWindowDays < 0 {
		return errors.New("ledger.alertWindowDays cannot be negative")
	}
	return nil
}
