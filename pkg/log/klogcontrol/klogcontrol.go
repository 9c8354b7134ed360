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

// Package klogcontrol exposes klog command line flags for runtime configuration.
package klogcontrol

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	cfgapi "github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/log/klogcontrol"
)

const (
	// EnvPrefix prefixes environment variables holding klog flag defaults,
	// for instance GPUHEAP_KLOG_V=4.
	EnvPrefix = "GPUHEAP_KLOG_"
)

// Control implements runtime control for klog.
type Control struct {
	flags *flag.FlagSet
}

var ctl = newControl()

// Get returns the klog Control singleton.
func Get() *Control {
	return ctl
}

func newControl() *Control {
	c := &Control{
		flags: flag.NewFlagSet("klog", flag.ContinueOnError),
	}
	c.flags.SetOutput(io.Discard)
	klog.InitFlags(c.flags)
	return c
}

// Configure sets every klog flag present in the configuration. A nil
// configuration leaves klog untouched.
func (c *Control) Configure(cfg *cfgapi.Config) error {
	if cfg == nil {
		return nil
	}

	var errs *multierror.Error
	c.flags.VisitAll(func(f *flag.Flag) {
		value, ok := cfg.GetByFlag(f.Name)
		if !ok {
			return
		}
		if err := c.flags.Set(f.Name, value); err != nil {
			errs = multierror.Append(errs,
				fmt.Errorf("klogcontrol: failed to set flag %s=%q: %w", f.Name, value, err))
		}
	})

	return errs.ErrorOrNil()
}

// Get returns the current value of the named klog flag.
func (c *Control) Get(name string) (string, bool) {
	f := c.flags.Lookup(name)
	if f == nil {
		return "", false
	}
	return f.Value.String(), true
}

// Flags returns the sorted names of all klog flags.
func (c *Control) Flags() []string {
	var names []string
	c.flags.VisitAll(func(f *flag.Flag) {
		names = append(names, f.Name)
	})
	sort.Strings(names)
	return names
}

// envName returns the environment variable for the given klog flag.
func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// seedFromEnv applies klog flag defaults from the environment.
func (c *Control) seedFromEnv() {
	for _, name := range c.Flags() {
		value, ok := os.LookupEnv(envName(name))
		if !ok {
			// journald adds its own timestamps.
			if name == "skip_headers" && os.Getenv("JOURNAL_STREAM") != "" {
				value, ok = "true", true
			}
		}
		if !ok {
			continue
		}
		if err := c.flags.Set(name, value); err != nil {
			klog.Errorf("klogcontrol: ignoring $%s=%q: %v", envName(name), value, err)
		}
	}
}

func init() {
	ctl.seedFromEnv()
}
