package env

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/code-payments/code-test-client/pkg/config"
	"github.com/code-payments/code-test-client/pkg/config/wrapper"
)

type conf struct {
	val string
}

// NewConfig returns a config backed by the upper cased environment variable
// key. The value is read once, at construction time, and surrounding
// whitespace is ignored.
func NewConfig(key string) config.Config {
	val, _ := os.LookupEnv(strings.ToUpper(key))
	return &conf{
		val: strings.TrimSpace(val),
	}
}

// Get implements Config.Get
func (c *conf) Get(_ context.Context) (interface{}, error) {
	if len(c.val) == 0 {
		return nil, config.ErrNoValue
	}

	return []byte(c.val), nil
}

// Shutdown implements Config.Shutdown
func (c *conf) Shutdown() {
}

// UnknownKeys returns the sorted names of set environment variables that
// start with prefix, but aren't one of the known names.
func UnknownKeys(prefix string, known []string) []string {
	prefix = strings.ToUpper(prefix)

	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[strings.ToUpper(k)] = struct{}{}
	}

	var unknown []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := knownSet[name]; !ok {
			unknown = append(unknown, name)
		}
	}

	sort.Strings(unknown)
	return unknown
}

// NewInt64Config creates a env-based int64 config
func NewInt64Config(key string, defaultValue int64) config.Int64 {
	return wrapper.NewInt64Config(NewConfig(key), defaultValue)
}

// NewUint64Config creates a env-based uint64 config
func NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(NewConfig(key), defaultValue)
}

// NewFloat64Config creates a env-based float64 config
func NewFloat64Config(key string, defaultValue float64) config.Float64 {
	return wrapper.NewFloat64Config(NewConfig(key), defaultValue)
}

// NewStringConfig creates a env-based string config
func NewStringConfig(key string, defaultValue string) config.String {
	return wrapper.NewStringConfig(NewConfig(key), defaultValue)
}

// NewDurationConfig creates a env-based duration config
func NewDurationConfig(key string, defaultValue time.Duration) config.Duration {
	return wrapper.NewDurationConfig(NewConfig(key), defaultValue)
}
