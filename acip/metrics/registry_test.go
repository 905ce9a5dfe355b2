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

package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveBootstrapTerminalIncrementsCompletedCounter(t *testing.T) {
	r := NewRegistry()
	r.ObserveBootstrapTerminal(true, 120*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(r.BootstrapCompleted))
	require.Equal(t, float64(0), testutil.ToFloat64(r.BootstrapFailed))
}

func TestObserveBootstrapTerminalIncrementsFailedCounter(t *testing.T) {
	r := NewRegistry()
	r.ObserveBootstrapTerminal(false, 30*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(r.BootstrapFailed))
	require.Equal(t, float64(0), testutil.ToFloat64(r.BootstrapCompleted))
}

func TestCountersIncrementIndependently(t *testing.T) {
	r := NewRegistry()
	r.ProbeSuccessTotal.Inc()
	r.ProbeSuccessTotal.Inc()
	r.ProbeFailureTotal.Inc()
	r.CollectionRetries.Inc()
	r.DisseminationFailed.Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(r.ProbeSuccessTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(r.ProbeFailureTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(r.CollectionRetries))
	require.Equal(t, float64(1), testutil.ToFloat64(r.DisseminationFailed))
}

func TestHandlerServesMetricsEndpoint(t *testing.T) {
	r := NewRegistry()
	r.BootstrapCompleted.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "acip_bootstrap_completed_total")
}
