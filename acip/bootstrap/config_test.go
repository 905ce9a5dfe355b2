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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesSpecDeadlines(t *testing.T) {
	cfg := DefaultConfig()
	require.EqualValues(t, 10_000, cfg.ProbeDeadlineMs)
	require.EqualValues(t, 15_000, cfg.NegotiationDeadlineMs)
	require.EqualValues(t, 8_000, cfg.CollectionDeadlineMs)
	require.EqualValues(t, 5_000, cfg.DisseminationDeadlineMs)
	require.EqualValues(t, 45_000, cfg.BootstrapDeadlineMs)
	require.EqualValues(t, ACIPHostDefaultPort, cfg.DefaultHostPort)
	require.Equal(t, 3, cfg.MaxCollectionRounds)
	require.Equal(t, 5, cfg.DisseminationRetries)
	require.NoError(t, cfg.ProbeRetryBackoff.Validate())
}

func TestReadConfigOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acipd.yaml")
	contents := "probe_deadline_ms: 2500\nstun_servers:\n  - stun1.example:3478\n  - stun2.example:3478\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	require.EqualValues(t, 2500, cfg.ProbeDeadlineMs)
	require.Equal(t, []string{"stun1.example:3478", "stun2.example:3478"}, cfg.StunServers)
	require.EqualValues(t, 15_000, cfg.NegotiationDeadlineMs, "unset fields keep their default")
}

func TestReadConfigMissingFileErrors(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBackoffConfigValidateRejectsUnknownMode(t *testing.T) {
	c := BackoffConfig{Mode: "quadratic", StepMs: 10}
	require.Error(t, c.Validate())
}

func TestBackoffConfigValidateRequiresStepAndMax(t *testing.T) {
	require.NoError(t, (&BackoffConfig{Mode: BackoffNone}).Validate())
	require.Error(t, (&BackoffConfig{Mode: BackoffFixed}).Validate(), "fixed mode still needs step_ms")
	require.NoError(t, (&BackoffConfig{Mode: BackoffFixed, StepMs: 500}).Validate())
	require.Error(t, (&BackoffConfig{Mode: BackoffLinear, StepMs: 500}).Validate(), "non-fixed modes need max_ms")
	require.NoError(t, (&BackoffConfig{Mode: BackoffLinear, StepMs: 500, MaxMs: 2000}).Validate())
}

func TestProbeRetryDelaysMatchesSpecSequence(t *testing.T) {
	delays := ProbeRetryDelays()
	require.Len(t, delays, 3)
	require.Equal(t, []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond}, delays)
}
