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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acip-chat/acip/acip/protocol"
)

func shortSessionConfig() *Config {
	cfg := DefaultConfig()
	cfg.ProbeDeadlineMs = 200
	cfg.NegotiationDeadlineMs = 500
	cfg.CollectionDeadlineMs = 300
	cfg.DisseminationDeadlineMs = 300
	cfg.DisseminationRetryIntervalMs = 40
	cfg.BootstrapDeadlineMs = 2000
	cfg.FollowerRetransmitDelayMs = 2000 // long enough not to fire during a clean test run
	return cfg
}

func TestBootstrapSingleParticipantCompletesTrivially(t *testing.T) {
	var session protocol.SessionID
	self := idFor(0x01)
	b := &Bootstrap{
		Clock:       newFakeClock(1000),
		Config:      shortSessionConfig(),
		StunServers: []string{"s:1"},
		LocalPort:   9090,
	}
	h := b.Start(context.Background(), session, self, []protocol.ParticipantID{self})
	h.Wait()
	status, decision, errv := h.Status()
	require.Equal(t, protocol.StatusComplete, status)
	require.Nil(t, errv)
	require.Equal(t, self, decision.HostID)
	require.Equal(t, self, decision.BackupID)
}

func TestBootstrapPairwiseConvergesOnSameHost(t *testing.T) {
	var session protocol.SessionID
	a, peerB := idFor(0x01), idFor(0x02)
	members := []protocol.ParticipantID{a, peerB}

	tA := newFakeTransport(a)
	tB := newFakeTransport(peerB)
	linkFakeTransports(tA, tB)

	cfg := shortSessionConfig()
	bsA := &Bootstrap{
		Transport:   tA,
		Stun:        &fakeStun{addr: "203.0.113.1", port: 9090, rttMs: 10},
		Upnp:        &fakeUpnp{},
		Clock:       newFakeClock(1000),
		Config:      cfg,
		StunServers: []string{"s:1"},
		LocalPort:   9090,
	}
	bsB := &Bootstrap{
		Transport:   tB,
		Stun:        &fakeStun{addr: "203.0.113.2", port: 9091, rttMs: 10},
		Upnp:        &fakeUpnp{},
		Clock:       newFakeClock(1000),
		Config:      cfg,
		StunServers: []string{"s:1"},
		LocalPort:   9091,
	}

	hA := bsA.Start(context.Background(), session, a, members)
	hB := bsB.Start(context.Background(), session, peerB, members)
	hA.Wait()
	hB.Wait()

	statusA, decA, errA := hA.Status()
	statusB, decB, errB := hB.Status()
	require.Equal(t, protocol.StatusComplete, statusA)
	require.Equal(t, protocol.StatusComplete, statusB)
	require.Nil(t, errA)
	require.Nil(t, errB)
	require.Equal(t, a, decA.HostID, "lower participant id hosts when nat quality is tied")
	require.Equal(t, decA.HostID, decB.HostID, "both peers converge on the same host")
	require.Equal(t, decA.HostAddress, decB.HostAddress)
}

func TestBootstrapThreeWayConsensusAgreesAcrossParticipants(t *testing.T) {
	var session protocol.SessionID
	a, peerB, peerC := idFor(0x01), idFor(0x02), idFor(0x03)
	members := []protocol.ParticipantID{a, peerB, peerC}

	tA := newFakeTransport(a)
	tB := newFakeTransport(peerB)
	tC := newFakeTransport(peerC)
	linkFakeTransports(tA, tB, tC)

	cfg := shortSessionConfig()
	newBS := func(tr *fakeTransport, addr string, port uint16) *Bootstrap {
		return &Bootstrap{
			Transport:   tr,
			Stun:        &fakeStun{addr: addr, port: port, rttMs: 10},
			Upnp:        &fakeUpnp{},
			Clock:       newFakeClock(1000),
			Config:      cfg,
			StunServers: []string{"s:1"},
			LocalPort:   port,
		}
	}
	bsA := newBS(tA, "203.0.113.1", 9090)
	bsB := newBS(tB, "203.0.113.2", 9091)
	bsC := newBS(tC, "203.0.113.3", 9092)

	hA := bsA.Start(context.Background(), session, a, members)
	hB := bsB.Start(context.Background(), session, peerB, members)
	hC := bsC.Start(context.Background(), session, peerC, members)

	hA.Wait()
	hB.Wait()
	hC.Wait()

	statusA, decA, errA := hA.Status()
	statusB, decB, errB := hB.Status()
	statusC, decC, errC := hC.Status()
	require.Equal(t, protocol.StatusComplete, statusA, "%v", errA)
	require.Equal(t, protocol.StatusComplete, statusB, "%v", errB)
	require.Equal(t, protocol.StatusComplete, statusC, "%v", errC)
	require.Equal(t, a, decA.HostID, "lowest participant id hosts when nat quality is tied")
	require.Equal(t, decA.HostID, decB.HostID)
	require.Equal(t, decA.HostID, decC.HostID)
	require.Equal(t, decA.Generation, decB.Generation)
	require.Equal(t, decA.Generation, decC.Generation)
}

func TestBootstrapCancelStopsTheDriver(t *testing.T) {
	var session protocol.SessionID
	a, peerB := idFor(0x01), idFor(0x02)
	members := []protocol.ParticipantID{a, peerB}

	tA := newFakeTransport(a)
	bs := &Bootstrap{
		Transport:   tA,
		Stun:        &fakeStun{addr: "203.0.113.1", port: 9090},
		Upnp:        &fakeUpnp{},
		Clock:       newFakeClock(1000),
		Config:      shortSessionConfig(),
		StunServers: []string{"s:1"},
		LocalPort:   9090,
	}
	h := bs.Start(context.Background(), session, a, members)
	h.Cancel()

	waited := make(chan struct{})
	go func() { h.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("bootstrap did not observe cancellation")
	}
	status, _, errv := h.Status()
	require.Equal(t, protocol.StatusFailed, status)
	require.NotNil(t, errv)
	require.Equal(t, protocol.ErrCancelled, errv.Kind)
}
