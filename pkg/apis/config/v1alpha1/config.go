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

package v1alpha1

import (
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/gpuheap/gpuheap/pkg/apis/config/v1alpha1/log"
	libheap "github.com/gpuheap/gpuheap/pkg/gfx/lib/heap"
)

const (
	// APIVersion is the version of this configuration API.
	APIVersion = "config.gpuheap.io/v1alpha1"
	// Kind is the kind of our configuration.
	Kind = "HeapConfig"
)

// Config is the configuration of a set of heap caches over a common
// backing memory provider.
type Config struct {
	metav1.TypeMeta `json:",inline"`
	// +optional
	metav1.ObjectMeta `json:"metadata,omitempty"`
	// Provider configures the backing memory provider.
	// +optional
	Provider ProviderConfig `json:"provider,omitempty"`
	// Caches lists the heap caches to create.
	// +optional
	Caches []CacheConfig `json:"caches,omitempty"`
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}

// ProviderConfig configures the backing memory provider.
type ProviderConfig struct {
	// Limit is the maximum total size of live backing allocations.
	// Zero or unset means no limit.
	// +optional
	// +kubebuilder:example="512Mi"
	Limit *resource.Quantity `json:"limit,omitempty"`
	// Mapped controls whether backing allocations are host-visible.
	// +optional
	// +kubebuilder:default=true
	Mapped *bool `json:"mapped,omitempty"`
}

// CacheConfig configures a single heap cache.
type CacheConfig struct {
	// Name of the cache.
	Name string `json:"name"`
	// BlockSize is the unit of backing allocation size. Unset means
	// backing allocations are sized for the request creating them.
	// +optional
	// +kubebuilder:example="8Mi"
	BlockSize *resource.Quantity `json:"blockSize,omitempty"`
	// BlockCount is the number of blocks per backing allocation.
	// +optional
	// +kubebuilder:default=1
	BlockCount int `json:"blockCount,omitempty"`
	// DedicatedThreshold is the request size from which allocations get a
	// backing allocation of their own. It defaults to the block size.
	// +optional
	DedicatedThreshold *resource.Quantity `json:"dedicatedThreshold,omitempty"`
	// FrameCount enables frame-delayed release with this many frames in flight.
	// +optional
	FrameCount int `json:"frameCount,omitempty"`
}

// DefaultConfig returns the default configuration: a triple-buffered
// staging cache and a buffer cache.
func DefaultConfig() *Config {
	cfg := &Config{
		Caches: []CacheConfig{
			{
				Name:       "staging",
				BlockSize:  quantityPtr("8Mi"),
				BlockCount: 3,
			},
			{
				Name:       "buffers",
				BlockSize:  quantityPtr("16Mi"),
				BlockCount: 1,
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = APIVersion
	}
	if c.Kind == "" {
		c.Kind = Kind
	}
	if c.Provider.Mapped == nil {
		mapped := true
		c.Provider.Mapped = &mapped
	}
	for i := range c.Caches {
		c.Caches[i].SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIVersion != APIVersion || c.Kind != Kind {
		return errors.Errorf("unsupported configuration %s/%s, expected %s/%s",
			c.APIVersion, c.Kind, APIVersion, Kind)
	}

	if c.Provider.Limit != nil && c.Provider.Limit.Sign() < 0 {
		return errors.Errorf("invalid negative provider limit %s", c.Provider.Limit)
	}

	names := map[string]struct{}{}
	for i := range c.Caches {
		cc := &c.Caches[i]
		if err := cc.Validate(); err != nil {
			return errors.Wrapf(err, "cache #%d", i)
		}
		if _, ok := names[cc.Name]; ok {
			return errors.Errorf("duplicate cache name %q", cc.Name)
		}
		names[cc.Name] = struct{}{}
	}

	return nil
}

// ProviderLimit returns the provider limit in bytes, 0 if unlimited.
func (c *Config) ProviderLimit() uint64 {
	return quantityBytes(c.Provider.Limit)
}

// ProviderMapped returns true if backing allocations should be host-visible.
func (c *Config) ProviderMapped() bool {
	return c.Provider.Mapped == nil || *c.Provider.Mapped
}

// SetDefaults fills in defaults for unset fields of a cache.
func (c *CacheConfig) SetDefaults() {
	if c.BlockCount == 0 {
		c.BlockCount = libheap.DefaultBlockCount
	}
	if c.DedicatedThreshold == nil && c.BlockSize != nil {
		threshold := c.BlockSize.DeepCopy()
		c.DedicatedThreshold = &threshold
	}
}

// Validate checks the cache configuration for errors.
func (c *CacheConfig) Validate() error {
	if c.Name == "" {
		return errors.New("missing cache name")
	}
	for _, q := range []struct {
		name string
		val  *resource.Quantity
	}{
		{"blockSize", c.BlockSize},
		{"dedicatedThreshold", c.DedicatedThreshold},
	} {
		if q.val != nil && q.val.Sign() < 0 {
			return errors.Errorf("cache %s: invalid negative %s %s", c.Name, q.name, q.val)
		}
	}
	if c.BlockCount < 0 {
		return errors.Errorf("cache %s: invalid block count %d", c.Name, c.BlockCount)
	}
	if c.FrameCount < 0 {
		return errors.Errorf("cache %s: invalid frame count %d", c.Name, c.FrameCount)
	}
	return nil
}

// Options returns the libheap options for creating the configured cache.
func (c *CacheConfig) Options() []libheap.CacheOption {
	opts := []libheap.CacheOption{
		libheap.WithName(c.Name),
		libheap.WithBlockSize(quantityBytes(c.BlockSize)),
		libheap.WithDedicatedThreshold(quantityBytes(c.DedicatedThreshold)),
		libheap.WithFrameCount(c.FrameCount),
	}
	if c.BlockCount > 0 {
		opts = append(opts, libheap.WithBlockCount(c.BlockCount))
	}
	return opts
}

func quantityPtr(s string) *resource.Quantity {
	q := resource.MustParse(s)
	return &q
}

func quantityBytes(q *resource.Quantity) uint64 {
	if q == nil || q.Sign() <= 0 {
		return 0
	}
	return uint64(q.Value())
}
