package wrapper

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/config"
)

// ErrUnsuportedConversion indicates the wrapper does not implement conversion from the source type
var ErrUnsuportedConversion = errors.New("config: wrapper conversion from source type not implemented")

// Converter converts a raw config value into T. Raw values are either []byte
// (env and file backed configs) or an already typed value (in memory configs).
type Converter[T any] func(raw interface{}) (T, error)

// TypedConfig is a utility wrapper that converts a raw config.Config into a
// typed value with a default.
type TypedConfig[T any] struct {
	override     config.Config
	defaultValue T
	convert      Converter[T]

	stateMu   sync.RWMutex
	lastValue T
}

// NewTypedConfig returns a new typed config utility wrapper
func NewTypedConfig[T any](override config.Config, defaultValue T, convert Converter[T]) config.Typed[T] {
	return &TypedConfig[T]{
		override:     override,
		defaultValue: defaultValue,
		convert:      convert,
		lastValue:    defaultValue,
	}
}

// GetSafe gets a config value and propagates any errors that arise. A best-effort
// attempt is made to return the last known value
func (c *TypedConfig[T]) GetSafe(ctx context.Context) (T, error) {
	override, err := c.override.Get(ctx)

	c.stateMu.RLock()
	lastValue := c.lastValue
	c.stateMu.RUnlock()

	if err == config.ErrNoValue {
		c.setLast(c.defaultValue)
		return c.defaultValue, nil
	} else if err != nil {
		return lastValue, err
	}

	newValue, err := c.convert(override)
	if err != nil {
		return lastValue, err
	}

	c.setLast(newValue)
	return newValue, nil
}

// Get is a wrapper for GetSafe that ignores the returned error
func (c *TypedConfig[T]) Get(ctx context.Context) T {
	val, _ := c.GetSafe(ctx)
	return val
}

// Shutdown signals the config to stop all underlying resources
func (c *TypedConfig[T]) Shutdown() {
	c.override.Shutdown()
}

func (c *TypedConfig[T]) setLast(value T) {
	c.stateMu.Lock()
	c.lastValue = value
	c.stateMu.Unlock()
}

// NewBoolConfig returns a new bool config utility wrapper
func NewBoolConfig(override config.Config, defaultValue bool) config.Bool {
	return NewTypedConfig(override, defaultValue, fromParsedBytes(strconv.ParseBool))
}

// NewInt64Config returns a new int64 config utility wrapper
func NewInt64Config(override config.Config, defaultValue int64) config.Int64 {
	return NewTypedConfig(override, defaultValue, fromParsedBytes(func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	}))
}

// NewUint64Config returns a new uint64 config utility wrapper
func NewUint64Config(override config.Config, defaultValue uint64) config.Uint64 {
	return NewTypedConfig(override, defaultValue, fromParsedBytes(func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	}))
}

// NewFloat64Config returns a new float64 config utility wrapper
func NewFloat64Config(override config.Config, defaultValue float64) config.Float64 {
	return NewTypedConfig(override, defaultValue, fromParsedBytes(func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}))
}

// NewStringConfig returns a new string config utility wrapper
func NewStringConfig(override config.Config, defaultValue string) config.String {
	return NewTypedConfig(override, defaultValue, fromParsedBytes(func(s string) (string, error) {
		return s, nil
	}))
}

// NewDurationConfig returns a new time.Duration config utility wrapper.
//
// Raw byte values are parsed with time.ParseDuration (eg. "250ms"), while
// integers are interpreted as nanoseconds.
func NewDurationConfig(override config.Config, defaultValue time.Duration) config.Duration {
	return NewTypedConfig(override, defaultValue, func(raw interface{}) (time.Duration, error) {
		switch typed := raw.(type) {
		case int64:
			return time.Duration(typed), nil
		case int:
			return time.Duration(typed), nil
		default:
			return fromParsedBytes(time.ParseDuration)(raw)
		}
	})
}

// fromParsedBytes accepts either a []byte that is parsed with parse, or a
// value that is already of type T.
func fromParsedBytes[T any](parse func(string) (T, error)) Converter[T] {
	return func(raw interface{}) (T, error) {
		switch typed := raw.(type) {
		case []byte:
			return parse(string(typed))
		case T:
			return typed, nil
		default:
			var zero T
			return zero, ErrUnsuportedConversion
		}
	}
}
