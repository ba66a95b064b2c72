package logger

import (
	"fmt"
	"sort"
	"strings"

	"callwatch/shared/notifications"

	"go.uber.org/zap/zapcore"
)

var levelPrefixes = map[zapcore.Level]string{
	zapcore.WarnLevel:  "🟡 *WARN:* ",
	zapcore.ErrorLevel: "🔴 *ERROR:* ",
	zapcore.FatalLevel: "💀 *FATAL:* ",
}

var codeSpanEscaper = strings.NewReplacer("\\", "\\\\", "`", "\\`")

func mirrorToTelegram(level zapcore.Level, msg string, keysAndValues ...interface{}) {
	notifications.SendSystemLogMessage(formatForTelegram(level, msg, keysAndValues...))
}

// formatForTelegram renders a log entry as MarkdownV2 with the message and
// every value escaped.
func formatForTelegram(level zapcore.Level, msg string, keysAndValues ...interface{}) string {
	return levelPrefixes[level] + notifications.EscapeMarkdownV2(msg) + formatKeyValuesForTelegram(keysAndValues...)
}

type keyValue struct {
	key   string
	value string
}

// flattenKeyValues accepts the same mix of zap.Field values and loose
// key-value pairs as the sugared logger.
func flattenKeyValues(keysAndValues []interface{}) []keyValue {
	var out []keyValue
	for i := 0; i < len(keysAndValues); {
		if f, ok := keysAndValues[i].(zapcore.Field); ok {
			enc := zapcore.NewMapObjectEncoder()
			f.AddTo(enc)
			keys := make([]string, 0, len(enc.Fields))
			for k := range enc.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, keyValue{k, fmt.Sprintf("%v", enc.Fields[k])})
			}
			i++
			continue
		}
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			out = append(out, keyValue{key, "INVALID_ARGS"})
			break
		}
		var valStr string
		if err, ok := keysAndValues[i+1].(error); ok {
			valStr = err.Error()
		} else {
			valStr = fmt.Sprintf("%v", keysAndValues[i+1])
		}
		out = append(out, keyValue{key, valStr})
		i += 2
	}
	return out
}

func formatKeyValuesForTelegram(keysAndValues ...interface{}) string {
	kvs := flattenKeyValues(keysAndValues)
	if len(kvs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(" \\|")
	for _, kv := range kvs {
		// inside a code span only ` and \ need escaping
		sb.WriteString(fmt.Sprintf(" %s=`%s`", notifications.EscapeMarkdownV2(kv.key), codeSpanEscaper.Replace(kv.value)))
	}
	return sb.String()
}
