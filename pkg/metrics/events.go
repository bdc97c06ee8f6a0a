package metrics

import (
	"context"
	"fmt"
	"time"
)

// maxAttributeLength is New Relic's limit on custom event string attributes.
// Longer values are rejected, which drops the whole event.
const maxAttributeLength = 4095

// RecordEvent records a new event with a name and set of key-value pairs.
// Values that New Relic can't store as-is are converted to strings.
func RecordEvent(ctx context.Context, eventName string, kvPairs map[string]interface{}) {
	nr, ok := FromContext(ctx)
	if !ok {
		return
	}

	attributes := make(map[string]interface{}, len(kvPairs))
	for k, v := range kvPairs {
		attributes[k] = toEventAttribute(v)
	}
	nr.RecordCustomEvent(eventName, attributes)
}

func toEventAttribute(v interface{}) interface{} {
	switch typed := v.(type) {
	case nil:
		return ""
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return typed
	case string:
		return truncate(typed)
	case time.Duration:
		return typed.Milliseconds()
	case error:
		return truncate(typed.Error())
	case fmt.Stringer:
		return truncate(typed.String())
	default:
		return truncate(fmt.Sprintf("%v", typed))
	}
}

func truncate(s string) string {
	if len(s) <= maxAttributeLength {
		return s
	}
	return s[:maxAttributeLength]
}
