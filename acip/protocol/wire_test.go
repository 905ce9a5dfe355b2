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

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleQuality() NatQuality {
	return NatQuality{
		Tier:                TierPortRestricted,
		UploadKbps:           12345,
		RTTMs:                42,
		StunProbeSuccessPct:  87,
		PublicAddress:        "203.0.113.7",
		PublicPort:           9090,
		HasPublicIP:          false,
		UPnPAvailable:        true,
		UPnPMappedPort:       41000,
		ConnectionType:       ConnectionUPnP,
		MeasurementTimeMs:    1_700_000_000_000,
		MeasurementWindowMs:  10_000,
		DetectionComplete:    true,
	}
}

func TestNatQualityRoundTrip(t *testing.T) {
	q := sampleQuality()
	b, err := q.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, NatQualityWireLen)

	var got NatQuality
	require.NoError(t, got.UnmarshalBinary(b))
	require.Equal(t, q, got)
}

func TestQualityOfferRoundTrip(t *testing.T) {
	p := &QualityOffer{
		SessionID: SessionID{1, 2, 3},
		SenderID:  ParticipantID{4, 5, 6},
		Quality:   sampleQuality(),
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*QualityOffer)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestStatsCollectionStartRoundTrip(t *testing.T) {
	p := &StatsCollectionStart{
		SessionID:   SessionID{9},
		InitiatorID: ParticipantID{1},
		RoundID:     7,
		DeadlineMs:  1_700_000_008_000,
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2+44)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*StatsCollectionStart)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestStatsUpdateRoundTrip(t *testing.T) {
	p := &StatsUpdate{
		SessionID: SessionID{1},
		SenderID:  ParticipantID{2},
		RoundID:   3,
		Metrics:   []NatQuality{sampleQuality(), sampleQuality()},
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2+37+2*NatQualityWireLen)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*StatsUpdate)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestRingElectionResultRoundTrip(t *testing.T) {
	p := &RingElectionResult{
		SessionID:       SessionID{1},
		LeaderID:        ParticipantID{2},
		RoundID:         4,
		HostID:          ParticipantID{3},
		HostAddress:     "203.0.113.1",
		HostPort:        9090,
		BackupID:        ParticipantID{4},
		BackupAddress:   "203.0.113.2",
		BackupPort:      9091,
		ElectedAtMs:     1_700_000_000_000,
		NumParticipants: 5,
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2+ringElectionResultBody)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*RingElectionResult)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestStatsAckRoundTrip(t *testing.T) {
	p := &StatsAck{
		SessionID:      SessionID{1},
		ParticipantID:  ParticipantID{2},
		RoundID:        1,
		AckStatus:      AckMismatch,
		StoredHostID:   ParticipantID{3},
		StoredBackupID: ParticipantID{4},
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2+statsAckBody)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*StatsAck)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestRingMembersRoundTrip(t *testing.T) {
	p := &RingMembers{
		SessionID:   SessionID{1},
		Members:     []ParticipantID{{1}, {2}, {3}},
		LeaderIndex: 0,
		Generation:  2,
	}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 2+ringMembersBody)

	decoded, err := Decode(b)
	require.NoError(t, err)
	got, ok := decoded.(*RingMembers)
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestSortParticipantIDsPermutationInvariant(t *testing.T) {
	a := []ParticipantID{{9}, {1}, {5}, {3}}
	b := []ParticipantID{{3}, {5}, {1}, {9}}
	SortParticipantIDs(a)
	SortParticipantIDs(b)
	require.Equal(t, a, b)
}
