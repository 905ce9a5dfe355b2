/*
Copyright (c) The acip Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bootstrap

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/acip-chat/acip/acip/protocol"
)

// ACIPHostDefaultPort is the fallback host port used when a participant
// has no UPnP mapping, §4.3.
const ACIPHostDefaultPort uint16 = 9090

// Backoff modes, mirroring ptp/sptp/client's BackoffConfig.
const (
	BackoffNone        = ""
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// BackoffConfig describes a retry shape. ReadConfig validates it, but no
// timing reads it: probe retries follow ProbeRetryDelays and
// dissemination retransmits follow DisseminationRetryIntervalMs.
type BackoffConfig struct {
	Mode     string `yaml:"mode"`
	StepMs   int    `yaml:"step_ms"`
	MaxMs    int    `yaml:"max_ms"`
}

// Validate checks BackoffConfig is sane, mirroring
// ptp/sptp/client.BackoffConfig.Validate.
func (c *BackoffConfig) Validate() error {
	switch c.Mode {
	case BackoffNone, BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("backoff mode must be one of %q, %q, %q, %q", BackoffNone, BackoffFixed, BackoffLinear, BackoffExponential)
	}
	if c.Mode != BackoffNone {
		if c.StepMs <= 0 {
			return fmt.Errorf("backoff step_ms must be positive")
		}
		if c.Mode != BackoffFixed && c.MaxMs <= 0 {
			return fmt.Errorf("backoff max_ms must be positive")
		}
	}
	return nil
}

// Config holds every tunable named or implied by SPEC_FULL.md §9.2.
type Config struct {
	FreshnessBudgetMs uint64 `yaml:"freshness_budget_ms"`

	ProbeDeadlineMs       uint64 `yaml:"probe_deadline_ms"`
	NegotiationDeadlineMs uint64 `yaml:"negotiation_deadline_ms"`
	CollectionDeadlineMs  uint64 `yaml:"collection_deadline_ms"`
	DisseminationDeadlineMs uint64 `yaml:"dissemination_deadline_ms"`
	BootstrapDeadlineMs   uint64 `yaml:"bootstrap_deadline_ms"`

	DefaultHostPort uint16 `yaml:"default_host_port"`

	StunServers []string `yaml:"stun_servers"`

	MaxCollectionRounds int `yaml:"max_collection_rounds"`
	DisseminationRetries int `yaml:"dissemination_retries"`
	DisseminationRetryIntervalMs uint64 `yaml:"dissemination_retry_interval_ms"`
	FollowerRetransmitDelayMs uint64 `yaml:"follower_retransmit_delay_ms"`

	ProbeRetryBackoff BackoffConfig `yaml:"probe_retry_backoff"`
}

// DefaultConfig returns the defaults named throughout spec.md §3/§4/§5.
func DefaultConfig() *Config {
	return &Config{
		FreshnessBudgetMs:             protocol.DefaultFreshnessBudgetMs,
		ProbeDeadlineMs:               10_000,
		NegotiationDeadlineMs:         15_000,
		CollectionDeadlineMs:          8_000,
		DisseminationDeadlineMs:       5_000,
		BootstrapDeadlineMs:           45_000,
		DefaultHostPort:               ACIPHostDefaultPort,
		StunServers:                   nil,
		MaxCollectionRounds:           3,
		DisseminationRetries:          5,
		DisseminationRetryIntervalMs:  1_000,
		FollowerRetransmitDelayMs:     2_000,
		ProbeRetryBackoff:             BackoffConfig{Mode: BackoffFixed, StepMs: 500, MaxMs: 2000},
	}
}

// ReadConfig reads a Config from a YAML file, applying defaults first,
// mirroring ptp/sptp/client.ReadConfig.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := c.ProbeRetryBackoff.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return c, nil
}

// ProbeRetryDelays returns the fixed STUN-probe retry backoff sequence
// from §4.1: 500ms, 1000ms, 2000ms.
func ProbeRetryDelays() []time.Duration {
	return []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond}
}
