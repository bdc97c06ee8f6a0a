package testclient

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/app"
	"github.com/code-payments/code-test-client/pkg/ledger/memory"
	"github.com/code-payments/code-test-client/pkg/netutil"
	"github.com/code-payments/code-test-client/pkg/token"
)

const (
	LedgerMemory  = "memory"
	LedgerJsonRpc = "jsonrpc"
)

// Config is the test client's application config, decoded from the app
// section of the process config
type Config struct {
	// Ledger selects the ledger implementation, either memory or jsonrpc
	Ledger string `mapstructure:"ledger"`

	LedgerEndpoint        string        `mapstructure:"ledger_endpoint"`
	LedgerTimeout         time.Duration `mapstructure:"ledger_timeout"`
	RequireSecureEndpoint bool          `mapstructure:"require_secure_endpoint"`

	TokenID uint64 `mapstructure:"token_id"`

	// Fees is a comma separated token_id:fee list. Empty uses the default
	// minimum fees.
	Fees string `mapstructure:"fees"`

	// AccountKeysFile is the URL of a file of base58 private keys, one per
	// line. When empty, AccountCount keys are derived from AccountSeedPrefix.
	AccountKeysFile   string        `mapstructure:"account_keys_file"`
	AccountCount      int           `mapstructure:"account_count"`
	AccountSeedPrefix string        `mapstructure:"account_seed_prefix"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout"`

	// Duration bounds the run. Zero runs until the process is stopped.
	Duration time.Duration `mapstructure:"duration"`

	// Seed makes amount picking deterministic when non-zero
	Seed int64 `mapstructure:"seed"`

	Memory  MemoryConfig  `mapstructure:"memory"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// MemoryConfig configures the in memory ledger used for dry runs
type MemoryConfig struct {
	// Funding is the initial balance of every account, in MOB
	Funding           string             `mapstructure:"funding"`
	ConfirmationDelay time.Duration      `mapstructure:"confirmation_delay"`
	FaultRates        map[string]float64 `mapstructure:"fault_rates"`
	FaultSeed         int64              `mapstructure:"fault_seed"`

	// SubmitRatePerAccount limits submissions per source account. Zero
	// disables the limit.
	SubmitRatePerAccount float64 `mapstructure:"submit_rate_per_account"`
}

// ArchiveConfig configures the optional postgres outcome archive
type ArchiveConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	DbName             string `mapstructure:"db_name"`
	MaxOpenConnections int    `mapstructure:"max_open_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`

	Workers   uint `mapstructure:"workers"`
	QueueSize uint `mapstructure:"queue_size"`
}

// Enabled returns whether outcomes are archived
func (c ArchiveConfig) Enabled() bool {
	return len(c.Host) > 0
}

var defaultConfig = Config{
	Ledger:            LedgerMemory,
	LedgerTimeout:     10 * time.Second,
	TokenID:           uint64(token.MOB),
	AccountCount:      16,
	AccountSeedPrefix: "test-client",
	AcquireTimeout:    5 * time.Second,
	Memory: MemoryConfig{
		Funding:           "10",
		ConfirmationDelay: time.Second,
	},
	Archive: ArchiveConfig{
		Port:      5432,
		Workers:   4,
		QueueSize: 1024,
	},
}

// DecodeConfig decodes and validates the application config. Missing values
// take their defaults.
func DecodeConfig(raw app.Config) (*Config, error) {
	conf := defaultConfig
	conf.Memory.FaultRates = nil

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(raw)); err != nil {
		return nil, errors.Wrap(err, "invalid app config")
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) validate() error {
	switch c.Ledger {
	case LedgerMemory:
		if _, err := token.StrToPicoMob(c.Memory.Funding); err != nil {
			return errors.Wrap(err, "invalid memory funding")
		}

		var total float64
		for name, rate := range c.Memory.FaultRates {
			if _, err := memory.ParseFault(name); err != nil {
				return err
			}
			if rate < 0 {
				return errors.Errorf("negative rate for fault %s", name)
			}
			total += rate
		}
		if total > 1 {
			return errors.New("fault rates sum to more than 1")
		}
	case LedgerJsonRpc:
		endpoint, err := netutil.NormalizeEndpoint(c.LedgerEndpoint, c.RequireSecureEndpoint)
		if err != nil {
			return errors.Wrap(err, "invalid ledger endpoint")
		}
		c.LedgerEndpoint = endpoint
	default:
		return errors.Errorf("unknown ledger %q", c.Ledger)
	}

	if c.LedgerTimeout <= 0 {
		return errors.New("ledger timeout must be positive")
	}
	if len(c.AccountKeysFile) == 0 && c.AccountCount < 2 {
		return errors.New("at least two accounts are required")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("acquire timeout must be positive")
	}
	if c.Duration < 0 {
		return errors.New("duration cannot be negative")
	}
	if c.Archive.Enabled() && (len(c.Archive.DbName) == 0 || c.Archive.Workers == 0 || c.Archive.QueueSize == 0) {
		return errors.New("archive requires a db name, workers and a queue size")
	}

	return nil
}
