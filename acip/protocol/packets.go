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
	"encoding/binary"
	"fmt"
)

// QualityOffer carries one side's NatQuality during pairwise negotiation
// (C3), §6: type(2) + sessionId(16) + senderId(16) + NatQuality(103).
type QualityOffer struct {
	SessionID SessionID
	SenderID  ParticipantID
	Quality   NatQuality
}

// Type implements Packet.
func (*QualityOffer) Type() PacketType { return TypeQualityOffer }

// MarshalBinary implements Packet.
func (p *QualityOffer) MarshalBinary() ([]byte, error) {
	qb, err := p.Quality.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+IDLen+IDLen+NatQualityWireLen)
	binary.BigEndian.PutUint16(buf, uint16(TypeQualityOffer))
	off := 2
	off = putID(buf, off, p.SessionID)
	off = putID(buf, off, p.SenderID)
	copy(buf[off:], qb)
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *QualityOffer) UnmarshalBinary(buf []byte) error {
	want := 2 + IDLen + IDLen + NatQualityWireLen
	if len(buf) < want {
		return fmt.Errorf("qualityOffer: want %d bytes, got %d", want, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	p.SenderID, off = getID(buf, off)
	return p.Quality.UnmarshalBinary(buf[off:])
}

// StatsCollectionStart is the leader's round announcement (C5), §6:
// sessionId(16) + initiatorId(16) + roundId(4) + deadline(8) = 44 bytes body.
type StatsCollectionStart struct {
	SessionID   SessionID
	InitiatorID ParticipantID
	RoundID     uint32
	DeadlineMs  uint64
}

// Type implements Packet.
func (*StatsCollectionStart) Type() PacketType { return TypeStatsCollectionStart }

// MarshalBinary implements Packet.
func (p *StatsCollectionStart) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2+44)
	binary.BigEndian.PutUint16(buf, uint16(TypeStatsCollectionStart))
	off := 2
	off = putID(buf, off, p.SessionID)
	off = putID(buf, off, p.InitiatorID)
	binary.BigEndian.PutUint32(buf[off:], p.RoundID)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], p.DeadlineMs)
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *StatsCollectionStart) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2+44 {
		return fmt.Errorf("statsCollectionStart: want %d bytes, got %d", 2+44, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	p.InitiatorID, off = getID(buf, off)
	p.RoundID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.DeadlineMs = binary.BigEndian.Uint64(buf[off:])
	return nil
}

// StatsUpdate is a follower's reply to StatsCollectionStart, §6:
// sessionId(16) + senderId(16) + roundId(4) + numMetrics(1) + 103*n = body.
type StatsUpdate struct {
	SessionID SessionID
	SenderID  ParticipantID
	RoundID   uint32
	Metrics   []NatQuality
}

// Type implements Packet.
func (*StatsUpdate) Type() PacketType { return TypeStatsUpdate }

// MarshalBinary implements Packet.
func (p *StatsUpdate) MarshalBinary() ([]byte, error) {
	if len(p.Metrics) > 255 {
		return nil, fmt.Errorf("statsUpdate: %d metrics exceeds wire limit of 255", len(p.Metrics))
	}
	body := 37 + NatQualityWireLen*len(p.Metrics)
	buf := make([]byte, 2+body)
	binary.BigEndian.PutUint16(buf, uint16(TypeStatsUpdate))
	off := 2
	off = putID(buf, off, p.SessionID)
	off = putID(buf, off, p.SenderID)
	binary.BigEndian.PutUint32(buf[off:], p.RoundID)
	off += 4
	buf[off] = byte(len(p.Metrics))
	off++
	for i := range p.Metrics {
		qb, err := p.Metrics[i].MarshalBinary()
		if err != nil {
			return nil, err
		}
		copy(buf[off:], qb)
		off += NatQualityWireLen
	}
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *StatsUpdate) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2+37 {
		return fmt.Errorf("statsUpdate: want at least %d bytes, got %d", 2+37, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	p.SenderID, off = getID(buf, off)
	p.RoundID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	n := int(buf[off])
	off++
	want := off + NatQualityWireLen*n
	if len(buf) < want {
		return fmt.Errorf("statsUpdate: want %d bytes for %d metrics, got %d", want, n, len(buf))
	}
	p.Metrics = make([]NatQuality, n)
	for i := 0; i < n; i++ {
		if err := p.Metrics[i].UnmarshalBinary(buf[off:]); err != nil {
			return fmt.Errorf("statsUpdate: metric %d: %w", i, err)
		}
		off += NatQualityWireLen
	}
	return nil
}

// RingElectionResult is the leader's election announcement (C7), §6:
// sessionId(16)+leaderId(16)+roundId(4)+hostId(16)+hostAddress(64)+
// hostPort(2)+backupId(16)+backupAddress(64)+backupPort(2)+
// electedAtMs(8)+numParticipants(1) = 209 bytes body.
type RingElectionResult struct {
	SessionID       SessionID
	LeaderID        ParticipantID
	RoundID         uint32
	HostID          ParticipantID
	HostAddress     string
	HostPort        uint16
	BackupID        ParticipantID
	BackupAddress   string
	BackupPort      uint16
	ElectedAtMs     uint64
	NumParticipants uint8
}

// Type implements Packet.
func (*RingElectionResult) Type() PacketType { return TypeRingElectionResult }

const ringElectionResultBody = 209

// MarshalBinary implements Packet.
func (p *RingElectionResult) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2+ringElectionResultBody)
	binary.BigEndian.PutUint16(buf, uint16(TypeRingElectionResult))
	off := 2
	off = putID(buf, off, p.SessionID)
	off = putID(buf, off, p.LeaderID)
	binary.BigEndian.PutUint32(buf[off:], p.RoundID)
	off += 4
	off = putID(buf, off, p.HostID)
	var err error
	off, err = putAddr(buf, off, p.HostAddress)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[off:], p.HostPort)
	off += 2
	off = putID(buf, off, p.BackupID)
	off, err = putAddr(buf, off, p.BackupAddress)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[off:], p.BackupPort)
	off += 2
	binary.BigEndian.PutUint64(buf[off:], p.ElectedAtMs)
	off += 8
	buf[off] = p.NumParticipants
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *RingElectionResult) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2+ringElectionResultBody {
		return fmt.Errorf("ringElectionResult: want %d bytes, got %d", 2+ringElectionResultBody, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	p.LeaderID, off = getID(buf, off)
	p.RoundID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.HostID, off = getID(buf, off)
	p.HostAddress, off = getAddr(buf, off)
	p.HostPort = binary.BigEndian.Uint16(buf[off:])
	off += 2
	p.BackupID, off = getID(buf, off)
	p.BackupAddress, off = getAddr(buf, off)
	p.BackupPort = binary.BigEndian.Uint16(buf[off:])
	off += 2
	p.ElectedAtMs = binary.BigEndian.Uint64(buf[off:])
	off += 8
	p.NumParticipants = buf[off]
	return nil
}

// StatsAck is a follower's reply to RingElectionResult, §6:
// sessionId(16)+participantId(16)+roundId(4)+ackStatus(1)+storedHostId(16)+
// storedBackupId(16) = 69 bytes body.
type StatsAck struct {
	SessionID      SessionID
	ParticipantID  ParticipantID
	RoundID        uint32
	AckStatus      AckStatus
	StoredHostID   ParticipantID
	StoredBackupID ParticipantID
}

// Type implements Packet.
func (*StatsAck) Type() PacketType { return TypeStatsAck }

const statsAckBody = 69

// MarshalBinary implements Packet.
func (p *StatsAck) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2+statsAckBody)
	binary.BigEndian.PutUint16(buf, uint16(TypeStatsAck))
	off := 2
	off = putID(buf, off, p.SessionID)
	off = putID(buf, off, p.ParticipantID)
	binary.BigEndian.PutUint32(buf[off:], p.RoundID)
	off += 4
	buf[off] = byte(p.AckStatus)
	off++
	off = putID(buf, off, p.StoredHostID)
	off = putID(buf, off, p.StoredBackupID)
	_ = off
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *StatsAck) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2+statsAckBody {
		return fmt.Errorf("statsAck: want %d bytes, got %d", 2+statsAckBody, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	p.ParticipantID, off = getID(buf, off)
	p.RoundID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.AckStatus = AckStatus(buf[off])
	off++
	p.StoredHostID, off = getID(buf, off)
	p.StoredBackupID, off = getID(buf, off)
	return nil
}

// RingMembers carries the ring membership and generation, §6:
// sessionId(16) + 64*16 ids + count(1) + leaderIdx(1) + generation(4) =
// 1046 bytes body.
type RingMembers struct {
	SessionID   SessionID
	Members     []ParticipantID
	LeaderIndex uint8
	Generation  uint32
}

// Type implements Packet.
func (*RingMembers) Type() PacketType { return TypeRingMembers }

const ringMembersBody = IDLen + maxRingMembers*IDLen + 1 + 1 + 4

// MarshalBinary implements Packet.
func (p *RingMembers) MarshalBinary() ([]byte, error) {
	if len(p.Members) > maxRingMembers {
		return nil, fmt.Errorf("ringMembers: %d members exceeds wire limit of %d", len(p.Members), maxRingMembers)
	}
	buf := make([]byte, 2+ringMembersBody)
	binary.BigEndian.PutUint16(buf, uint16(TypeRingMembers))
	off := 2
	off = putID(buf, off, p.SessionID)
	for i := 0; i < maxRingMembers; i++ {
		var id ParticipantID
		if i < len(p.Members) {
			id = p.Members[i]
		}
		off = putID(buf, off, id)
	}
	buf[off] = byte(len(p.Members))
	off++
	buf[off] = p.LeaderIndex
	off++
	binary.BigEndian.PutUint32(buf[off:], p.Generation)
	return buf, nil
}

// UnmarshalBinary implements Packet.
func (p *RingMembers) UnmarshalBinary(buf []byte) error {
	if len(buf) < 2+ringMembersBody {
		return fmt.Errorf("ringMembers: want %d bytes, got %d", 2+ringMembersBody, len(buf))
	}
	off := 2
	p.SessionID, off = getID(buf, off)
	all := make([]ParticipantID, maxRingMembers)
	for i := 0; i < maxRingMembers; i++ {
		all[i], off = getID(buf, off)
	}
	count := int(buf[off])
	off++
	if count > maxRingMembers {
		return fmt.Errorf("ringMembers: count %d exceeds wire limit of %d", count, maxRingMembers)
	}
	p.Members = all[:count]
	p.LeaderIndex = buf[off]
	off++
	p.Generation = binary.BigEndian.Uint32(buf[off:])
	return nil
}
