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

func shortDisseminationConfig() *Config {
	cfg := DefaultConfig()
	cfg.DisseminationDeadlineMs = 300
	cfg.DisseminationRetryIntervalMs = 40
	cfg.DisseminationRetries = 5
	return cfg
}

func TestDisseminatorReachesQuorumOnFirstBroadcast(t *testing.T) {
	a, b, c := idFor(0x01), idFor(0x02), idFor(0x03)
	ring := testRing(a, []protocol.ParticipantID{a, b, c})
	deps := ProbeDeps{Clock: newFakeClock(1000)}
	disem := NewDisseminator(ring, &fakeTransport{}, deps, shortDisseminationConfig())

	go func() {
		time.Sleep(5 * time.Millisecond)
		disem.HandleStatsAck(protocol.StatsAck{ParticipantID: b, RoundID: ring.Generation, AckStatus: protocol.AckOK})
		disem.HandleStatsAck(protocol.StatsAck{ParticipantID: c, RoundID: ring.Generation, AckStatus: protocol.AckOK})
	}()

	decision := protocol.HostDecision{HostID: a, BackupID: b}
	err := disem.RunLeader(context.Background(), decision)
	require.NoError(t, err)
	require.Equal(t, protocol.RoundDone, ring.Round)
}

func TestDisseminatorFailsBelowQuorumWithinBudget(t *testing.T) {
	a, b, c := idFor(0x01), idFor(0x02), idFor(0x03)
	ring := testRing(a, []protocol.ParticipantID{a, b, c})
	deps := ProbeDeps{Clock: newFakeClock(1000)}
	disem := NewDisseminator(ring, &fakeTransport{}, deps, shortDisseminationConfig())

	decision := protocol.HostDecision{HostID: a, BackupID: b}
	err := disem.RunLeader(context.Background(), decision)
	require.Error(t, err)
	require.Equal(t, protocol.ErrDisseminationFailed, protocol.KindOf(err))
	require.Equal(t, protocol.RoundFailed, ring.Round)
}

func TestDisseminatorMismatchAckDoesNotOverruleLeader(t *testing.T) {
	a, b, c := idFor(0x01), idFor(0x02), idFor(0x03)
	ring := testRing(a, []protocol.ParticipantID{a, b, c})
	deps := ProbeDeps{Clock: newFakeClock(1000)}
	disem := NewDisseminator(ring, &fakeTransport{}, deps, shortDisseminationConfig())

	go func() {
		time.Sleep(5 * time.Millisecond)
		disem.HandleStatsAck(protocol.StatsAck{ParticipantID: b, RoundID: ring.Generation, AckStatus: protocol.AckMismatch})
		disem.HandleStatsAck(protocol.StatsAck{ParticipantID: c, RoundID: ring.Generation, AckStatus: protocol.AckOK})
	}()

	decision := protocol.HostDecision{HostID: a, BackupID: b}
	err := disem.RunLeader(context.Background(), decision)
	require.Error(t, err, "a lone OK plus self still falls short of a 3-of-3 quorum")
}

func TestHandleResultPersistsDecisionAndAcksOK(t *testing.T) {
	a, b := idFor(0x01), idFor(0x02)
	ring := testRing(b, []protocol.ParticipantID{a, b})

	result := protocol.RingElectionResult{
		SessionID:       ring.SessionID,
		LeaderID:        a,
		RoundID:         ring.Generation,
		HostID:          a,
		HostAddress:     "203.0.113.1",
		HostPort:        9090,
		BackupID:        b,
		NumParticipants: 2,
	}
	decision, ack := HandleResult(ring, result)
	require.Equal(t, a, decision.HostID)
	require.Equal(t, "203.0.113.1", decision.HostAddress)
	require.Equal(t, protocol.AckOK, ack.AckStatus)
	require.Equal(t, protocol.RoundDone, ring.Round)
}

func TestHandleResultDetectsSessionMismatch(t *testing.T) {
	a, b := idFor(0x01), idFor(0x02)
	ring := testRing(b, []protocol.ParticipantID{a, b})

	var wrongSession protocol.SessionID
	wrongSession[0] = 0xff
	result := protocol.RingElectionResult{SessionID: wrongSession, RoundID: ring.Generation}
	_, ack := HandleResult(ring, result)
	require.Equal(t, protocol.AckMismatch, ack.AckStatus)
}

func TestHandleResultDetectsStaleRound(t *testing.T) {
	a, b := idFor(0x01), idFor(0x02)
	ring := testRing(b, []protocol.ParticipantID{a, b})
	ring.Generation = 5

	result := protocol.RingElectionResult{SessionID: ring.SessionID, RoundID: 3}
	_, ack := HandleResult(ring, result)
	require.Equal(t, protocol.AckStale, ack.AckStatus)
}
