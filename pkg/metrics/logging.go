package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// LogFormatter is a logrus.Formatter that forwards every log line to New
// Relic, including all logrus.Entry.Fields, which isn't supported out of the
// box. Lines logged with a context carrying a transaction are linked to it,
// so a cycle's logs show up alongside its trace.
//
// Based off of: https://github.com/newrelic/go-agent/blob/f1942e10f0819e2c854d5d7289eb0dc1c52a00af/v3/integrations/logcontext-v2/nrlogrus/formatter.go
type LogFormatter struct {
	app       *newrelic.Application
	formatter logrus.Formatter
}

// NewLogFormatter wraps formatter. A nil app disables forwarding.
func NewLogFormatter(app *newrelic.Application, formatter logrus.Formatter) *LogFormatter {
	return &LogFormatter{
		app:       app,
		formatter: formatter,
	}
}

// Format implements logrus.Formatter.Format
func (f *LogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	logBytes, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}
	if f.app == nil {
		return logBytes, nil
	}

	logData := newrelic.LogData{
		Severity: e.Level.String(),
		Message:  forwardedMessage(e),
	}

	b := bytes.NewBuffer(bytes.TrimRight(logBytes, "\n"))

	var txn *newrelic.Transaction
	if e.Context != nil {
		txn = newrelic.FromContext(e.Context)
	}

	if txn != nil {
		txn.RecordLog(logData)
		err = newrelic.EnrichLog(b, newrelic.FromTxn(txn))
	} else {
		f.app.RecordLog(logData)
		err = newrelic.EnrichLog(b, newrelic.FromApp(f.app))
	}
	if err != nil {
		return nil, err
	}

	b.WriteString("\n")
	return b.Bytes(), nil
}

// forwardedMessage flattens the entry's message, error and fields into a
// single line, with fields in a stable order
func forwardedMessage(e *logrus.Entry) string {
	if len(e.Data) == 0 {
		return e.Message
	}

	errorString := "<nil>"
	keys := make([]string, 0, len(e.Data))
	for k, v := range e.Data {
		if k == logrus.ErrorKey {
			if typed, ok := v.(error); ok {
				errorString = fmt.Sprintf("%q", typed.Error())
			}
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data bytes.Buffer
	data.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			data.WriteString(",")
		}

		key, _ := json.Marshal(k)
		value, err := json.Marshal(e.Data[k])
		if err != nil {
			value, _ = json.Marshal(fmt.Sprint(e.Data[k]))
		}
		data.Write(key)
		data.WriteString(":")
		data.Write(value)
	}
	data.WriteString("}")

	return fmt.Sprintf("message=%q, error=%s, data=%s", e.Message, errorString, data.String())
}
