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
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSysStatsCollectSetsPositiveGauges(t *testing.T) {
	r := NewRegistry()
	s, err := NewSysStats(r)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	s.collect()

	require.Greater(t, testutil.ToFloat64(s.goroutines), float64(0))
	require.Greater(t, testutil.ToFloat64(s.rssBytes), float64(0))
	require.GreaterOrEqual(t, testutil.ToFloat64(s.uptimeSec), float64(0))
}

func TestSysStatsRunStopsOnContextCancel(t *testing.T) {
	r := NewRegistry()
	s, err := NewSysStats(r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SysStats.Run did not stop after context cancellation")
	}
}
