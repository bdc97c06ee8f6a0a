package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/config"
	"github.com/code-payments/code-test-client/pkg/config/env"
	"github.com/code-payments/code-test-client/pkg/config/memory"
	"github.com/code-payments/code-test-client/pkg/config/wrapper"
	"github.com/code-payments/code-test-client/pkg/confirmation"
	"github.com/code-payments/code-test-client/pkg/orchestrator"
	"github.com/code-payments/code-test-client/pkg/token"
)

const (
	envConfigPrefix = "TEST_CLIENT_"

	ConcurrencyConfigEnvName = envConfigPrefix + "CONCURRENCY"
	defaultConcurrency       = 4

	MaxInFlightConfigEnvName = envConfigPrefix + "MAX_IN_FLIGHT"
	defaultMaxInFlight       = 4

	SubmitRateConfigEnvName = envConfigPrefix + "SUBMIT_RATE"
	defaultSubmitRate       = 0

	ShutdownGracePeriodConfigEnvName = envConfigPrefix + "SHUTDOWN_GRACE_PERIOD"
	defaultShutdownGracePeriod       = 10 * time.Second

	MinAmountConfigEnvName = envConfigPrefix + "MIN_AMOUNT"
	defaultMinAmount       = "0.000001"

	MaxAmountConfigEnvName = envConfigPrefix + "MAX_AMOUNT"
	defaultMaxAmount       = "0.0001"

	RetryLimitConfigEnvName = envConfigPrefix + "RETRY_LIMIT"
	defaultRetryLimit       = 5

	SubmitRetryLimitConfigEnvName = envConfigPrefix + "SUBMIT_RETRY_LIMIT"
	defaultSubmitRetryLimit       = 3

	SubmitBackoffConfigEnvName = envConfigPrefix + "SUBMIT_BACKOFF"
	defaultSubmitBackoff       = 250 * time.Millisecond

	SubmitMaxBackoffConfigEnvName = envConfigPrefix + "SUBMIT_MAX_BACKOFF"
	defaultSubmitMaxBackoff       = 5 * time.Second

	LocalFailureBackoffConfigEnvName = envConfigPrefix + "LOCAL_FAILURE_BACKOFF"
	defaultLocalFailureBackoff       = 100 * time.Millisecond

	LocalFailureMaxBackoffConfigEnvName = envConfigPrefix + "LOCAL_FAILURE_MAX_BACKOFF"
	defaultLocalFailureMaxBackoff       = 10 * time.Second

	PollBaseIntervalConfigEnvName = envConfigPrefix + "POLL_BASE_INTERVAL"
	PollMaxIntervalConfigEnvName  = envConfigPrefix + "POLL_MAX_INTERVAL"
	PollTimeoutConfigEnvName      = envConfigPrefix + "POLL_TIMEOUT"
)

// maxTransferAmount bounds a single transfer to the signed 64-bit range
const maxTransferAmount = math.MaxInt64

var (
	ErrInvalidConfig = errors.New("invalid scheduler config")
)

// Config is the complete configuration of a run
type Config struct {
	// Concurrency is the number of orchestrators
	Concurrency int

	// MaxInFlight is the ceiling on attempts between submission and
	// resolution, across all orchestrators
	MaxInFlight int64

	// SubmitRate is the maximum number of submissions per second. Zero
	// disables the limit.
	SubmitRate float64

	// ShutdownGracePeriod is how long in-flight attempts get to resolve
	// after the stop signal, before they're discarded
	ShutdownGracePeriod time.Duration

	Orchestrator orchestrator.Config
	Poller       confirmation.Config
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:         defaultConcurrency,
		MaxInFlight:         defaultMaxInFlight,
		SubmitRate:          defaultSubmitRate,
		ShutdownGracePeriod: defaultShutdownGracePeriod,
		Orchestrator: orchestrator.Config{
			MinAmount:              token.MustStrToPicoMob(defaultMinAmount),
			MaxAmount:              token.MustStrToPicoMob(defaultMaxAmount),
			RetryLimit:             defaultRetryLimit,
			SubmitRetryLimit:       defaultSubmitRetryLimit,
			SubmitBackoff:          defaultSubmitBackoff,
			SubmitMaxBackoff:       defaultSubmitMaxBackoff,
			LocalFailureBackoff:    defaultLocalFailureBackoff,
			LocalFailureMaxBackoff: defaultLocalFailureMaxBackoff,
		},
		Poller: confirmation.DefaultConfig(),
	}
}

// Validate validates the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.Wrap(ErrInvalidConfig, "concurrency must be at least 1")
	case c.MaxInFlight < 1:
		return errors.Wrap(ErrInvalidConfig, "max in flight must be at least 1")
	case c.SubmitRate < 0:
		return errors.Wrap(ErrInvalidConfig, "submit rate cannot be negative")
	case c.ShutdownGracePeriod < 0:
		return errors.Wrap(ErrInvalidConfig, "shutdown grace period cannot be negative")
	case c.Orchestrator.MinAmount == 0:
		return errors.Wrap(ErrInvalidConfig, "min amount must be positive")
	case c.Orchestrator.MaxAmount < c.Orchestrator.MinAmount:
		return errors.Wrap(ErrInvalidConfig, "max amount must be at least the min amount")
	case c.Orchestrator.MaxAmount > maxTransferAmount:
		return errors.Wrapf(ErrInvalidConfig, "max amount cannot exceed %s", token.StrFromPicoMob(maxTransferAmount))
	case c.Orchestrator.RetryLimit < 0:
		return errors.Wrap(ErrInvalidConfig, "retry limit cannot be negative")
	case c.Orchestrator.SubmitBackoff < 0 || c.Orchestrator.SubmitMaxBackoff < c.Orchestrator.SubmitBackoff:
		return errors.Wrap(ErrInvalidConfig, "invalid submit backoff")
	case c.Orchestrator.LocalFailureBackoff < 0 || c.Orchestrator.LocalFailureMaxBackoff < c.Orchestrator.LocalFailureBackoff:
		return errors.Wrap(ErrInvalidConfig, "invalid local failure backoff")
	}

	if err := c.Poller.Validate(); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}

type conf struct {
	concurrency            config.Int64
	maxInFlight            config.Int64
	submitRate             config.Float64
	shutdownGracePeriod    config.Duration
	minAmount              config.String
	maxAmount              config.String
	retryLimit             config.Int64
	submitRetryLimit       config.Uint64
	submitBackoff          config.Duration
	submitMaxBackoff       config.Duration
	localFailureBackoff    config.Duration
	localFailureMaxBackoff config.Duration
	pollBaseInterval       config.Duration
	pollMaxInterval        config.Duration
	pollTimeout            config.Duration
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables.
// Unrecognized variables carrying the TEST_CLIENT_ prefix are logged, since
// they're almost always a typo.
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		log := logrus.StandardLogger().WithField("type", "scheduler/config")
		for _, name := range env.UnknownKeys(envConfigPrefix, knownConfigEnvNames) {
			log.WithField("name", name).Warn("ignoring unknown environment variable")
		}

		return newConf(env.NewConfig)
	}
}

// WithMemoryConfigs returns configuration pulled from an in memory store,
// keyed by the environment variable names.
func WithMemoryConfigs(store *memory.Store) ConfigProvider {
	return func() *conf {
		return newConf(store.Config)
	}
}

var knownConfigEnvNames = []string{
	ConcurrencyConfigEnvName,
	MaxInFlightConfigEnvName,
	SubmitRateConfigEnvName,
	ShutdownGracePeriodConfigEnvName,
	MinAmountConfigEnvName,
	MaxAmountConfigEnvName,
	RetryLimitConfigEnvName,
	SubmitRetryLimitConfigEnvName,
	SubmitBackoffConfigEnvName,
	SubmitMaxBackoffConfigEnvName,
	LocalFailureBackoffConfigEnvName,
	LocalFailureMaxBackoffConfigEnvName,
	PollBaseIntervalConfigEnvName,
	PollMaxIntervalConfigEnvName,
	PollTimeoutConfigEnvName,
}

func newConf(source func(key string) config.Config) *conf {
	return &conf{
		concurrency:            wrapper.NewInt64Config(source(ConcurrencyConfigEnvName), defaultConcurrency),
		maxInFlight:            wrapper.NewInt64Config(source(MaxInFlightConfigEnvName), defaultMaxInFlight),
		submitRate:             wrapper.NewFloat64Config(source(SubmitRateConfigEnvName), defaultSubmitRate),
		shutdownGracePeriod:    wrapper.NewDurationConfig(source(ShutdownGracePeriodConfigEnvName), defaultShutdownGracePeriod),
		minAmount:              wrapper.NewStringConfig(source(MinAmountConfigEnvName), defaultMinAmount),
		maxAmount:              wrapper.NewStringConfig(source(MaxAmountConfigEnvName), defaultMaxAmount),
		retryLimit:             wrapper.NewInt64Config(source(RetryLimitConfigEnvName), defaultRetryLimit),
		submitRetryLimit:       wrapper.NewUint64Config(source(SubmitRetryLimitConfigEnvName), defaultSubmitRetryLimit),
		submitBackoff:          wrapper.NewDurationConfig(source(SubmitBackoffConfigEnvName), defaultSubmitBackoff),
		submitMaxBackoff:       wrapper.NewDurationConfig(source(SubmitMaxBackoffConfigEnvName), defaultSubmitMaxBackoff),
		localFailureBackoff:    wrapper.NewDurationConfig(source(LocalFailureBackoffConfigEnvName), defaultLocalFailureBackoff),
		localFailureMaxBackoff: wrapper.NewDurationConfig(source(LocalFailureMaxBackoffConfigEnvName), defaultLocalFailureMaxBackoff),
		pollBaseInterval:       wrapper.NewDurationConfig(source(PollBaseIntervalConfigEnvName), confirmation.DefaultBaseInterval),
		pollMaxInterval:        wrapper.NewDurationConfig(source(PollMaxIntervalConfigEnvName), confirmation.DefaultMaxInterval),
		pollTimeout:            wrapper.NewDurationConfig(source(PollTimeoutConfigEnvName), confirmation.DefaultTimeout),
	}
}

// LoadConfig resolves the provided configuration into a validated Config.
// Amounts are configured in MOB.
func LoadConfig(ctx context.Context, provider ConfigProvider) (Config, error) {
	c := provider()

	minAmount, err := token.StrToPicoMob(c.minAmount.Get(ctx))
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	maxAmount, err := token.StrToPicoMob(c.maxAmount.Get(ctx))
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	res := Config{
		Concurrency:         int(c.concurrency.Get(ctx)),
		MaxInFlight:         c.maxInFlight.Get(ctx),
		SubmitRate:          c.submitRate.Get(ctx),
		ShutdownGracePeriod: c.shutdownGracePeriod.Get(ctx),
		Orchestrator: orchestrator.Config{
			MinAmount:              minAmount,
			MaxAmount:              maxAmount,
			RetryLimit:             int(c.retryLimit.Get(ctx)),
			SubmitRetryLimit:       uint(c.submitRetryLimit.Get(ctx)),
			SubmitBackoff:          c.submitBackoff.Get(ctx),
			SubmitMaxBackoff:       c.submitMaxBackoff.Get(ctx),
			LocalFailureBackoff:    c.localFailureBackoff.Get(ctx),
			LocalFailureMaxBackoff: c.localFailureMaxBackoff.Get(ctx),
		},
		Poller: confirmation.Config{
			BaseInterval: c.pollBaseInterval.Get(ctx),
			MaxInterval:  c.pollMaxInterval.Get(ctx),
			Timeout:      c.pollTimeout.Get(ctx),
		},
	}

	if err := res.Validate(); err != nil {
		return Config{}, err
	}
	return res, nil
}
