// Package logx provides agent-scoped logging with context-aware, domain-filtered debug output.
// Output goes through zap: a console encoder on stderr and, once InitializeLogFile is called,
// a JSON encoder on a rotated log file.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	agentID string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

type ctxKey struct{}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	// base is rebuilt whenever the sinks change.
	base     *zap.Logger
	console  io.Writer
	fileSink *lumberjack.Logger
	teeFile  bool
	baseMu   sync.RWMutex
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
	rebuild()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.CallerKey = ""
	cfg.NameKey = "agent"
	cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func fileEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.NameKey = "agent_id"
	return zapcore.NewJSONEncoder(cfg)
}

// rebuild assembles the zap core from the current sinks.
func rebuild() {
	baseMu.Lock()
	defer baseMu.Unlock()

	var cores []zapcore.Core
	out := console
	if out == nil {
		out = os.Stderr
	}
	if fileSink == nil || teeFile {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(out), zapcore.DebugLevel))
	}
	if fileSink != nil {
		cores = append(cores, zapcore.NewCore(fileEncoder(), zapcore.AddSync(fileSink), zapcore.DebugLevel))
	}
	base = zap.New(zapcore.NewTee(cores...))
}

func current() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// SetOutput redirects console output and returns a function restoring the previous writer.
func SetOutput(w io.Writer) func() {
	baseMu.Lock()
	prev := console
	console = w
	baseMu.Unlock()
	rebuild()

	return func() {
		baseMu.Lock()
		console = prev
		baseMu.Unlock()
		rebuild()
	}
}

// InitializeLogFile routes log output into logDir/promptsmith.log, rotated at maxSizeMB.
// With tee set, console output is kept as well.
func InitializeLogFile(logDir string, maxSizeMB int, tee bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}

	baseMu.Lock()
	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "promptsmith.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	teeFile = tee
	baseMu.Unlock()

	rebuild()
	return nil
}

// CloseLogFile flushes and closes the rotated log file, returning output to the console.
func CloseLogFile() error {
	_ = current().Sync()

	baseMu.Lock()
	sink := fileSink
	fileSink = nil
	baseMu.Unlock()
	rebuild()

	if sink == nil {
		return nil
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

func NewLogger(agentID string) *Logger {
	return &Logger{agentID: agentID}
}

// SetDebugConfig configures global debug logging settings.
func SetDebugConfig(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains configures which domains should have debug logging enabled.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (l *Logger) log(level Level, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	zl := current().Named(l.agentID)
	switch level {
	case LevelDebug:
		zl.Debug(message)
	case LevelWarn:
		zl.Warn(message)
	case LevelError:
		zl.Error(message)
	default:
		zl.Info(message)
	}
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// DebugState logs state transition information.
func (l *Logger) DebugState(action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	l.Debug("State %s: %s%s", action, state, extraInfo)
}

func (l *Logger) GetAgentID() string {
	return l.agentID
}

func (l *Logger) WithAgentID(agentID string) *Logger {
	return &Logger{agentID: agentID}
}

// WithAgentContext returns a context carrying agentID for the package-level debug helpers.
func WithAgentContext(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, agentID)
}

func agentFromContext(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// Debug logs a debug message with context and domain filtering.
//
//	logx.Debug(ctx, "scorer", "final=%.2f", score)
//
// Environment variable control:
//
//	DEBUG=1                               # Enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=scorer,patterns # Enable debug for selected domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	current().Named(agentFromContext(ctx)).Debug(
		fmt.Sprintf(format, args...),
		zap.String("domain", domain),
	)
}

// DebugFlow logs workflow step information with context and domain.
func DebugFlow(ctx context.Context, domain, step, status string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "Flow %s: %s%s", step, status, extraInfo)
}

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
//
//	if err != nil { return logx.Wrap(err, "open store") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrappedErr.Error())
	return wrappedErr
}
