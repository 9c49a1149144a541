// Package logging installs the project logger behind dragonboat's logger.ILogger.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var ErrInvalidLevel = errors.New("invalid log level")

// --------------------------------------------------------------------------
// Logger (implements logger.ILogger)
// --------------------------------------------------------------------------

type tempoLogger struct {
	mu     sync.RWMutex
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *tempoLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *tempoLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *tempoLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *tempoLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *tempoLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *tempoLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *tempoLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", msg)
	panic(msg)
}

func (l *tempoLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-12s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Factory
// --------------------------------------------------------------------------

var names = struct {
	sync.Mutex
	known map[string]struct{}
}{known: map[string]struct{}{}}

// CreateLogger is the logger.Factory installed for every package.
func CreateLogger(pkgName string) logger.ILogger {
	return &tempoLogger{
		name:   pkgName,
		level:  logger.WARNING,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

func init() {
	logger.SetLoggerFactory(CreateLogger)
}

// GetLogger returns the named logger and remembers the name so SetLevel reaches it.
func GetLogger(pkgName string) logger.ILogger {
	names.Lock()
	names.known[pkgName] = struct{}{}
	names.Unlock()
	return logger.GetLogger(pkgName)
}

// SetLevel applies level to every logger obtained through GetLogger.
func SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	names.Lock()
	defer names.Unlock()
	for name := range names.known {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}

func ParseLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, errors.WithHintf(errors.Wrapf(ErrInvalidLevel, "%q", level), "must be one of debug, info, warn, error")
	}
}
