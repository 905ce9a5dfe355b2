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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"golang.org/x/sync/errgroup"

	"github.com/acip-chat/acip/acip/protocol"
)

var errNoStunServers = errors.New("probe requires at least one stun server")

// ProbeDeps bundles the collaborators C1 needs: a STUN client, a UPnP
// client, and a clock for deadline math.
type ProbeDeps struct {
	Stun  Stun
	Upnp  Upnp
	Clock Clock
}

// Probe implements C1: runs the STUN binding probe, NAT-behaviour probe,
// UPnP IGD probe, and bandwidth estimate concurrently under one overall
// deadline, §4.1. A sub-probe's failure never fails the call as a whole:
// its fields take conservative defaults and detectionComplete is always
// true on return, so the only error path is a malformed call.
func Probe(ctx context.Context, deps ProbeDeps, stunServers []string, localPort uint16, cfg *Config) (protocol.NatQuality, error) {
	if len(stunServers) == 0 {
		return protocol.NatQuality{}, protocol.NewError(protocol.ErrInvalidParam, errNoStunServers)
	}

	startMs := deps.Clock.NowMs()
	deadline := time.Now().Add(time.Duration(cfg.ProbeDeadlineMs) * time.Millisecond)
	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	acc := &probeAccumulator{}

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		acc.mergeStunBinding(stunBindingProbe(gctx, deps.Stun, stunServers[0]))
		return nil
	})
	g.Go(func() error {
		acc.mergeTier(natBehaviorProbe(gctx, deps.Stun, stunServers))
		return nil
	})
	g.Go(func() error {
		acc.mergeUPnP(upnpProbe(gctx, deps.Upnp, localPort))
		return nil
	})
	g.Go(func() error {
		acc.mergeBandwidth(bandwidthProbe(gctx, deps.Clock, deps.Stun, stunServers[0]))
		return nil
	})
	// sub-probes never return an error: this Wait only observes
	// cancellation of gctx, which each sub-probe already honours.
	_ = g.Wait()

	nowMs := deps.Clock.NowMs()
	q := acc.result(startMs, uint32(nowMs-startMs))
	q.DetectionComplete = true
	return q, nil
}

// probeAccumulator collects sub-probe results behind a single-writer
// guard, per the §5 "shared resources" rule.
type probeAccumulator struct {
	mu sync.Mutex

	haveReflexive bool
	addr          string
	port          uint16
	rttMs         uint16
	stunSuccesses int
	stunAttempts  int

	haveSecondPort bool
	secondPort     uint16

	upnpAvailable bool
	upnpPort      uint16

	uploadKbps uint32
}

func (a *probeAccumulator) mergeStunBinding(addr string, port uint16, rttMs uint16, successes, attempts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.haveReflexive = addr != ""
	a.addr = addr
	a.port = port
	a.rttMs = rttMs
	a.stunSuccesses = successes
	a.stunAttempts = attempts
}

func (a *probeAccumulator) mergeTier(secondPort uint16, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.haveSecondPort = ok
	a.secondPort = secondPort
}

func (a *probeAccumulator) mergeUPnP(available bool, mappedPort uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upnpAvailable = available
	a.upnpPort = mappedPort
}

func (a *probeAccumulator) mergeBandwidth(uploadKbps uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploadKbps = uploadKbps
}

// result derives the final NatQuality and classifies tier from whatever
// the sub-probes managed to collect, §4.1's "conservative defaults"
// clause.
func (a *probeAccumulator) result(measurementTimeMs uint64, windowMs uint32) protocol.NatQuality {
	a.mu.Lock()
	defer a.mu.Unlock()

	stunPct := uint8(0)
	if a.stunAttempts > 0 {
		stunPct = uint8(100 * a.stunSuccesses / a.stunAttempts)
	}

	q := protocol.NatQuality{
		UploadKbps:          a.uploadKbps,
		RTTMs:               a.rttMs,
		StunProbeSuccessPct: stunPct,
		PublicPort:          a.port,
		UPnPAvailable:       a.upnpAvailable,
		UPnPMappedPort:      a.upnpPort,
		MeasurementTimeMs:   measurementTimeMs,
		MeasurementWindowMs: windowMs,
	}
	if a.haveReflexive {
		q.PublicAddress = a.addr
	}

	q.Tier = classifyTier(a.haveReflexive, a.haveSecondPort, a.port, a.secondPort)
	q.HasPublicIP = q.Tier == protocol.TierPublic
	switch {
	case q.Tier == protocol.TierPublic:
		q.ConnectionType = protocol.ConnectionDirectPublic
	case a.upnpAvailable:
		q.ConnectionType = protocol.ConnectionUPnP
	default:
		q.ConnectionType = protocol.ConnectionSTUN
	}
	return q
}

// classifyTier implements the NAT-behaviour half of §4.1: comparing
// reflexive ports seen from two different STUN endpoints tells apart a
// cone NAT (stable port, reported as full cone) and a symmetric NAT (port
// varies per destination). It never returns TierPublic.
func classifyTier(haveFirst, haveSecond bool, firstPort, secondPort uint16) protocol.Tier {
	if !haveFirst {
		return protocol.TierSymmetric
	}
	if !haveSecond {
		return protocol.TierFullCone
	}
	if firstPort == secondPort {
		return protocol.TierFullCone
	}
	return protocol.TierSymmetric
}

// stunBindingProbe sends a binding request with the retry backoff from
// §4.1: an initial attempt, then 3 retries after waits of 500ms, 1000ms
// and 2000ms (4 attempts in all). Returns zero values on total failure.
func stunBindingProbe(ctx context.Context, stun Stun, server string) (addr string, port uint16, rttMs uint16, successes, attempts int) {
	delays := ProbeRetryDelays()
	for i := 0; i <= len(delays); i++ {
		attempts++
		a, p, rtt, err := stun.BindingRequest(ctx, server)
		if err == nil {
			return a, p, rtt, successes + 1, attempts
		}
		if i == len(delays) {
			break
		}
		select {
		case <-ctx.Done():
			return "", 0, 0, successes, attempts
		case <-time.After(delays[i]):
		}
	}
	return "", 0, 0, successes, attempts
}

// natBehaviorProbe queries a second STUN endpoint, when available, for
// classifyTier to compare against.
func natBehaviorProbe(ctx context.Context, stun Stun, servers []string) (secondPort uint16, ok bool) {
	if len(servers) < 2 {
		return 0, false
	}
	_, port, _, err := stun.BindingRequest(ctx, servers[1])
	if err != nil {
		return 0, false
	}
	return port, true
}

// upnpProbe runs SSDP discovery and, on success, maps localPort, §4.1.
func upnpProbe(ctx context.Context, upnp Upnp, localPort uint16) (available bool, mappedPort uint16) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	gw, err := upnp.Probe(pctx)
	if err != nil || gw == nil {
		return false, 0
	}
	if err := upnp.MapPort(pctx, localPort, localPort, time.Hour); err != nil {
		return false, 0
	}
	return true, localPort
}

// bandwidthProbeWindow is the "1s of paced probing" window, §4.1.
const bandwidthProbeWindow = 1 * time.Second

// bandwidthProbeSamples is how many binding requests are paced across
// bandwidthProbeWindow.
const bandwidthProbeSamples = 4

// bandwidthProbePayloadBits is the nominal STUN datagram size used to turn
// a binding request's round-trip time into a throughput sample. No
// separate bandwidth collaborator is exposed at the core boundary (§6), so
// BindingRequest's RTT is the only signal a probe has to work with.
const bandwidthProbePayloadBits = 1200 * 8

// bandwidthProbe estimates sustained upload by pacing binding requests
// across a 1s window and averaging the per-sample throughput with a
// Welford accumulator, §4.1. A server that doesn't support the probing
// (every request fails or times out) leaves no samples, and the zero
// value is the "unsupported" fallback §4.1 names.
func bandwidthProbe(ctx context.Context, clock Clock, stun Stun, server string) uint32 {
	pctx, cancel := context.WithTimeout(ctx, bandwidthProbeWindow)
	defer cancel()

	interval := uint64(bandwidthProbeWindow.Milliseconds()) / bandwidthProbeSamples
	nextMs := clock.NowMs()

	stats := welford.New()
	samples := 0
	for i := 0; i < bandwidthProbeSamples; i++ {
		if err := clock.SleepUntil(pctx, nextMs); err != nil {
			break
		}
		if _, _, rttMs, err := stun.BindingRequest(pctx, server); err == nil && rttMs > 0 {
			stats.Add(bandwidthProbePayloadBits / (float64(rttMs) / 1000))
			samples++
		}
		nextMs += interval
	}
	if samples == 0 {
		return 0
	}
	return uint32(stats.Mean() / 1000)
}
