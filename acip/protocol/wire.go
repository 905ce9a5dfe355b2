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

// PacketType is the two-byte type tag leading every control message, §6.
type PacketType uint16

// Wire packet type IDs, §6.
const (
	TypeRingMembers         PacketType = 6100
	TypeQualityOffer        PacketType = 6050
	TypeStatsCollectionStart PacketType = 6101
	TypeStatsUpdate         PacketType = 6102
	TypeRingElectionResult  PacketType = 6103
	TypeStatsAck            PacketType = 6104
)

// maxRingMembers bounds RING_MEMBERS' fixed-size member array, §6: 64.
const maxRingMembers = 64

// Packet is any control message that can be framed for the wire.
type Packet interface {
	Type() PacketType
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

// ProbeType reads just the leading PacketType from a raw buffer, without
// decoding the rest, mirroring ptp/protocol's ProbeMsgType.
func ProbeType(b []byte) (PacketType, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("packet too short to contain a type: %d bytes", len(b))
	}
	return PacketType(binary.BigEndian.Uint16(b)), nil
}

// Decode dispatches a raw buffer to the right Packet implementation based
// on its leading type tag, mirroring ptp/protocol.DecodePacket.
func Decode(b []byte) (Packet, error) {
	t, err := ProbeType(b)
	if err != nil {
		return nil, err
	}
	var p Packet
	switch t {
	case TypeQualityOffer:
		p = &QualityOffer{}
	case TypeStatsCollectionStart:
		p = &StatsCollectionStart{}
	case TypeStatsUpdate:
		p = &StatsUpdate{}
	case TypeRingElectionResult:
		p = &RingElectionResult{}
	case TypeStatsAck:
		p = &StatsAck{}
	case TypeRingMembers:
		p = &RingMembers{}
	default:
		return nil, fmt.Errorf("unknown packet type %d", t)
	}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}

// --- shared field helpers -------------------------------------------------

func putID(buf []byte, off int, id [IDLen]byte) int {
	copy(buf[off:off+IDLen], id[:])
	return off + IDLen
}

func getID(buf []byte, off int) ([IDLen]byte, int) {
	var id [IDLen]byte
	copy(id[:], buf[off:off+IDLen])
	return id, off + IDLen
}

// addrFieldLen is the wire size of a 1-byte-length + fixed-buffer address
// field, matching the encoding used for publicAddress throughout §6.
const addrFieldLen = 1 + MaxAddressLen

func putAddr(buf []byte, off int, addr string) (int, error) {
	if len(addr) > MaxAddressLen {
		return 0, fmt.Errorf("address %q exceeds %d bytes", addr, MaxAddressLen)
	}
	buf[off] = byte(len(addr))
	copy(buf[off+1:off+1+MaxAddressLen], addr)
	return off + addrFieldLen, nil
}

func getAddr(buf []byte, off int) (string, int) {
	n := int(buf[off])
	if n > MaxAddressLen {
		n = MaxAddressLen
	}
	addr := string(buf[off+1 : off+1+n])
	return addr, off + addrFieldLen
}

func putBool(buf []byte, off int, v bool) int {
	if v {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	return off + 1
}

func getBool(buf []byte, off int) (bool, int) {
	return buf[off] != 0, off + 1
}
