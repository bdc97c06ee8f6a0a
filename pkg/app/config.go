package app

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the application specific configuration.
// It is passed to the App.Init function, and is optional.
type Config map[string]interface{}

// BaseConfig contains the base configuration for the process, as well as the
// application itself.
type BaseConfig struct {
	LogLevel string `mapstructure:"log_level"`

	AppName string `mapstructure:"app_name"`

	DebugListenAddress string `mapstructure:"debug_listen_address"`

	// ShutdownGracePeriod bounds how long the application gets to stop after
	// a shutdown signal, before the process gives up on it
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	EnablePprof   bool `mapstructure:"enable_pprof"`
	EnableExpvar  bool `mapstructure:"enable_expvar"`
	EnableMetrics bool `mapstructure:"enable_metrics"`

	// Ballast for improving Go GC performance. Note that capacity will be
	// limited to 50% of the total memory.
	// https://blog.twitch.tv/en/2019/04/10/go-memory-ballast-how-i-learnt-to-stop-worrying-and-love-the-heap/
	EnableBallast   bool    `mapstructure:"enable_ballast"`
	BallastCapacity float32 `mapstructure:"ballast_capacity"`

	// ReportCronSchedule is the cron schedule of the application's summary
	// report. Empty disables scheduled reports.
	ReportCronSchedule string `mapstructure:"report_cron_schedule"`

	// Metrics configuration across many providers
	NewRelicLicenseKey string `mapstructure:"new_relic_license_key"`

	// Arbitrary configuration that the application can define / implement.
	//
	// Users should use mapstructure.Decode for AppConfig.
	AppConfig Config `mapstructure:"app"`
}

var defaultConfig = BaseConfig{
	LogLevel: "info",

	AppName: "test-client",

	DebugListenAddress: ":8123",

	ShutdownGracePeriod: 90 * time.Second,

	EnablePprof:   true,
	EnableExpvar:  true,
	EnableMetrics: true,

	EnableBallast:   false,
	BallastCapacity: 0.333,

	ReportCronSchedule: "@every 1m",
}

var envBindings = map[string]string{
	"log_level":             "LOG_LEVEL",
	"app_name":              "APP_NAME",
	"debug_listen_address":  "DEBUG_LISTEN_ADDRESS",
	"shutdown_grace_period": "SHUTDOWN_GRACE_PERIOD",
	"enable_pprof":          "ENABLE_PPROF",
	"enable_expvar":         "ENABLE_EXPVAR",
	"enable_metrics":        "ENABLE_METRICS",
	"enable_ballast":        "ENABLE_BALLAST",
	"ballast_capacity":      "BALLAST_CAPACITY",
	"report_cron_schedule":  "REPORT_CRON_SCHEDULE",
	"new_relic_license_key": "NEW_RELIC_LICENSE_KEY",
}

// LoadConfig loads the base configuration from the config file at path, if it
// exists, and from environment variables, which take precedence
func LoadConfig(path string) (BaseConfig, error) {
	v := viper.New()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	// viper.ReadInConfig only returns ConfigFileNotFoundError if it has to search
	// for a default config file because one hasn't been explicitly set. That is,
	// if we explicitly set a config file, and it does not exist, viper will not
	// return a ConfigFileNotFoundError, so we do it ourselves.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
	} else if !os.IsNotExist(err) {
		return BaseConfig{}, errors.Wrap(err, "failed to check if config exists")
	}

	err := v.ReadInConfig()
	_, isConfigNotFound := err.(viper.ConfigFileNotFoundError)
	if err != nil && !isConfigNotFound {
		return BaseConfig{}, errors.Wrap(err, "failed to load config")
	}

	config := defaultConfig
	if err := v.Unmarshal(&config); err != nil {
		return BaseConfig{}, errors.Wrap(err, "failed to unmarshal config")
	}

	if len(config.AppName) == 0 {
		return BaseConfig{}, errors.New("must specify an application name")
	}
	if config.ShutdownGracePeriod <= 0 {
		return BaseConfig{}, errors.New("shutdown grace period must be positive")
	}

	return config, nil
}
