package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(writer io.Writer, level Level) *JSONLogger {
	return &JSONLogger{
		writer: writer,
		level:  level,
		fields: make([]Field, 0),
	}
}

// NewDefaultLogger creates a logger that writes to stdout at INFO level
func NewDefaultLogger() *JSONLogger {
	return NewJSONLogger(os.Stdout, InfoLevel)
}

// log builds and writes one LogEntry. component, collection, and
// table_index are lifted out of the generic field map onto LogEntry's own
// struct fields: those three identifiers recur on nearly every line this
// tree emits (pkg/engine, pkg/wire, pkg/client all set at least one of
// them via With), so a consumer filtering logs by collection or table
// shouldn't have to reach into an arbitrary "fields" object to do it.
func (l *JSONLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fieldMap := make(map[string]any)
	for _, f := range l.fields {
		fieldMap[f.Key] = f.Value
	}
	for _, f := range fields {
		fieldMap[f.Key] = f.Value
	}

	entry := LogEntry{
		Time:    time.Now().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	}
	if v, ok := fieldMap["component"].(string); ok {
		entry.Component = v
		delete(fieldMap, "component")
	}
	if v, ok := fieldMap["collection"].(string); ok {
		entry.Collection = v
		delete(fieldMap, "collection")
	}
	if v, ok := fieldMap["table_index"].(uint64); ok {
		entry.TableIndex = &v
		delete(fieldMap, "table_index")
	}

	if len(fieldMap) > 0 {
		entry.Fields = fieldMap
	}

	// Marshal to JSON
	data, err := json.Marshal(entry)
	if err != nil {
		// Fallback to simple text logging if JSON marshal fails
		fmt.Fprintf(l.writer, "[ERROR] Failed to marshal log entry: %v\n", err)
		return
	}

	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}

// Debug logs a debug-level message
func (l *JSONLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an info-level message
func (l *JSONLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning-level message
func (l *JSONLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error-level message
func (l *JSONLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

// With creates a child logger with the given fields pre-set
func (l *JSONLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Create a copy of existing fields
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &JSONLogger{
		writer: l.writer,
		level:  l.level,
		fields: newFields,
	}
}

// SetLevel sets the minimum log level
func (l *JSONLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *JSONLogger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// StartTimer begins timing an engine operation. Every call site in this
// tree threads its own *JSONLogger through explicitly (via Options.Logger /
// NewNopLogger); there is no global default logger to fall back to here — a
// nil logger is a caller bug, not a configuration gap.
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: logger,
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

// StartSlowTimer is StartTimer plus a threshold: EndSlow logs at Warn once
// the operation has run longer than threshold, Info otherwise. Flush and
// compaction are the two operations the engine wants flagged
// when they run long, since both hold the memtable/list write path either
// wholly or partially blocked while they run.
func StartSlowTimer(logger Logger, threshold time.Duration, msg string, fields ...Field) *TimedOperation {
	t := StartTimer(logger, msg, fields...)
	t.slowThreshold = threshold
	return t
}

// End logs the operation with its duration
func (t *TimedOperation) End() {
	elapsed := time.Since(t.start)
	t.logger.Info(t.msg, append(t.fields, Latency(elapsed))...)
}

// EndSlow logs the operation with its duration, at Warn if the elapsed time
// reached the threshold set by StartSlowTimer (or was passed as 0, which
// disables the check and always logs at Info).
func (t *TimedOperation) EndSlow() {
	elapsed := time.Since(t.start)
	fields := append(t.fields, Latency(elapsed))
	if t.slowThreshold != 0 && elapsed >= t.slowThreshold {
		t.logger.Warn(t.msg+" (slow)", fields...)
		return
	}
	t.logger.Info(t.msg, fields...)
}

// EndWithLevel logs the operation at the specified level with its duration
func (t *TimedOperation) EndWithLevel(level Level, msg string) {
	elapsed := time.Since(t.start)
	fields := append(t.fields, Latency(elapsed))
	switch level {
	case DebugLevel:
		t.logger.Debug(msg, fields...)
	case InfoLevel:
		t.logger.Info(msg, fields...)
	case WarnLevel:
		t.logger.Warn(msg, fields...)
	case ErrorLevel:
		t.logger.Error(msg, fields...)
	}
}

// EndError logs the operation as an error with its duration
func (t *TimedOperation) EndError(err error) {
	elapsed := time.Since(t.start)
	t.logger.Error(t.msg, append(t.fields, Latency(elapsed), Error(err))...)
}
