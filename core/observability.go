package core

import (
	"context"
	"sort"
	"strings"
	"time"
)

const metricPrefix = "crowdauth."

// instrumentation is shared by the sync engine and the validator so both emit
// the same log and metric shape.
type instrumentation struct {
	logger  Logger
	metrics MetricsRecorder
}

func (i instrumentation) observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt).Milliseconds()

	logFields := cloneFields(fields)
	logFields["event_type"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	if err != nil {
		logFields["error"] = err.Error()
		if reason, ok := RejectReasonOf(err); ok {
			logFields["reason"] = string(reason)
			tags["reason"] = string(reason)
		}
	}

	i.counter(ctx, metricPrefix+operation+".total", 1, tags)
	i.histogram(ctx, metricPrefix+operation+".duration_ms", float64(elapsed), tags)

	if err != nil {
		// Directory inconsistencies and faults log at error, ordinary refusals at warn.
		if rejectedErr, ok := asRejected(err); ok {
			switch rejectedErr.Reason {
			case RejectBadCredentials, RejectNotPermitted:
				i.log(ctx, "warn", operation+" rejected", logFields)
				return
			}
		}
		i.log(ctx, "error", operation+" failed", logFields)
		return
	}
	i.log(ctx, "info", operation+" succeeded", logFields)
}

func (i instrumentation) log(ctx context.Context, level string, message string, fields map[string]any) {
	if i.logger == nil {
		return
	}
	logger := i.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (i instrumentation) counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (i instrumentation) histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if i.metrics == nil {
		return
	}
	i.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
