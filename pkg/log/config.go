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
	"os"
	"slices"
	"strings"

	cfgapi "github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/log"
	"github.com/gpuheap/gpuheap/pkg/log/klogcontrol"
	"github.com/gpuheap/gpuheap/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// DebugEnvVar seeds per-source debugging, for instance "on:libheap,off:hostmem".
	DebugEnvVar = "GPUHEAP_DEBUG"
	// LogSourceEnvVar turns on source prefixing when set.
	LogSourceEnvVar = "GPUHEAP_LOG_SOURCE"
)

// srcmap maps logger sources to debug state, "*" matching any source.
type srcmap map[string]bool

var klogctl = klogcontrol.Get()

// ParseLevel parses a logging severity level.
func ParseLevel(value string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return DefaultLevel, loggerError("invalid log level %q", value)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("<level %d>", int(l))
}

// parse updates the map from a comma-separated list of [state:]source
// entries. A missing state inherits the previous one, or "on".
func (m srcmap) parse(value string) error {
	state := "on"
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		src := entry
		if s, rest, ok := strings.Cut(entry, ":"); ok {
			if strings.Contains(rest, ":") {
				return loggerError("invalid debug entry %q", entry)
			}
			state, src = strings.TrimSpace(s), strings.TrimSpace(rest)
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state %q in debug entry %q", state, entry)
		}
		if src == "all" {
			src = "*"
		}
		m[src] = enabled
	}

	return nil
}

func (m srcmap) String() string {
	var on, off []string
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	slices.Sort(on)
	slices.Sort(off)

	var parts []string
	if len(on) > 0 {
		parts = append(parts, "on:"+strings.Join(on, ","))
	}
	if len(off) > 0 {
		parts = append(parts, "off:"+strings.Join(off, ","))
	}
	return strings.Join(parts, ",")
}

// Configure updates the logging configuration.
func Configure(cfg *cfgapi.Config) error {
	if cfg == nil {
		cfg = &cfgapi.Config{}
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	dbgmap := make(srcmap)
	for _, value := range cfg.Debug {
		if err := dbgmap.parse(value); err != nil {
			return err
		}
	}

	// klog prints no headers of its own, so tag messages with their source.
	prefix := cfg.LogSource
	if isSet(cfg.Klog.Logtostderr) && isSet(cfg.Klog.Skip_headers) {
		prefix = true
	}

	log.Lock()
	log.level = level
	log.setDbgMap(dbgmap)
	log.setPrefix(prefix)
	log.Unlock()

	deflog.Debug("logging configured: level %s, debug %q, source prefix %v",
		level, dbgmap.String(), prefix)

	return klogctl.Configure(&cfg.Klog)
}

func isSet(b *bool) bool {
	return b != nil && *b
}

// configFromEnv returns the initial configuration seeded from the environment.
func configFromEnv() *cfgapi.Config {
	cfg := &cfgapi.Config{
		LogSource: os.Getenv(LogSourceEnvVar) != "",
	}

	if value, ok := os.LookupEnv(DebugEnvVar); ok {
		dbgmap := make(srcmap)
		if err := dbgmap.parse(value); err != nil {
			deflog.Error("ignoring $%s: %v", DebugEnvVar, err)
		} else {
			cfg.Debug = []string{dbgmap.String()}
		}
	}

	return cfg
}

func init() {
	if err := Configure(configFromEnv()); err != nil {
		deflog.Error("initial logging configuration failed: %v", err)
	}
}
