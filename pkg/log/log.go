// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is a logging severity level.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})

	// Println emits an informational message, for interoperability with promhttp.
	Println(args ...interface{})

	// DebugBlock formats and emits a multiline debug message, one prefixed line at a time.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline informational message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables or disables debug messages for this Logger, returning the old state.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
	// SlogHandler returns an slog.Handler emitting messages through this Logger.
	SlogHandler() slog.Handler
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// logging is the runtime state shared by all loggers.
type logging struct {
	sync.RWMutex
	level   Level
	dbgmap  srcmap
	prefix  bool
	loggers map[string]logger
}

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		loggers: make(map[string]logger),
	}
	deflog = log.get("default")
)

// Get returns the named Logger, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the logging severity level.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

func (log *logging) get(source string) logger {
	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}

	l := logger{source: source}
	log.loggers[source] = l

	return l
}

func (log *logging) setDbgMap(m srcmap) {
	log.dbgmap = m
}

func (log *logging) setPrefix(prefix bool) {
	log.prefix = prefix
}

func (log *logging) debugEnabledLocked(source string) bool {
	if state, ok := log.dbgmap[source]; ok {
		return state
	}
	return log.dbgmap["*"]
}

func (log *logging) debugEnabled(source string) bool {
	log.RLock()
	defer log.RUnlock()
	if state, ok := log.dbgmap[source]; ok {
		return state
	}
	return log.level <= LevelDebug || log.dbgmap["*"]
}

func (l logger) format(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)

	log.RLock()
	prefix := log.prefix
	log.RUnlock()

	if prefix {
		return "[" + l.source + "] " + msg
	}
	return msg
}

func (l logger) passes(level Level) bool {
	return passes(level)
}

func passes(level Level) bool {
	log.RLock()
	defer log.RUnlock()
	return level >= log.level
}

func (l logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, "D: "+l.format(format, args...))
}

func (l logger) Info(format string, args ...interface{}) {
	if !l.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Warn(format string, args ...interface{}) {
	if !l.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, l.format(format, args...))
}

func (l logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(format, args...))
}

func (l logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(1, l.format(format, args...))
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := l.format(format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (l logger) Debugf(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	klog.InfoDepth(1, "D: "+l.format(format, args...))
}

func (l logger) Infof(format string, args ...interface{}) {
	if !l.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Warnf(format string, args ...interface{}) {
	if !l.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, l.format(format, args...))
}

func (l logger) Errorf(format string, args ...interface{}) {
	klog.ErrorDepth(1, l.format(format, args...))
}

func (l logger) Println(args ...interface{}) {
	klog.InfoDepth(1, l.format("%s", strings.TrimSuffix(fmt.Sprintln(args...), "\n")))
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, "D: "+l.format("%s%s", prefix, line))
	}
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if !l.passes(LevelInfo) {
		return
	}
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(1, l.format("%s%s", prefix, line))
	}
}

func (l logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	old := log.debugEnabledLocked(l.source)
	log.dbgmap[l.source] = state

	return old
}

func (l logger) DebugEnabled() bool {
	return log.debugEnabled(l.source)
}

func (l logger) Source() string {
	return l.source
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
