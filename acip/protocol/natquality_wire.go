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

// NatQualityWireLen is the exact on-wire size of a NatQuality record, §6:
// 103 bytes, byte-packed, no padding. 11 bytes are reserved for future
// extension so the record size stays stable across wire versions.
const NatQualityWireLen = 103

const natQualityReservedLen = 11

// MarshalBinary encodes q to exactly NatQualityWireLen bytes.
func (q *NatQuality) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NatQualityWireLen)
	off := 0
	buf[off] = byte(q.Tier)
	off++
	binary.BigEndian.PutUint32(buf[off:], q.UploadKbps)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], q.RTTMs)
	off += 2
	buf[off] = q.StunProbeSuccessPct
	off++
	var err error
	off, err = putAddr(buf, off, q.PublicAddress)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[off:], q.PublicPort)
	off += 2
	off = putBool(buf, off, q.HasPublicIP)
	off = putBool(buf, off, q.UPnPAvailable)
	binary.BigEndian.PutUint16(buf[off:], q.UPnPMappedPort)
	off += 2
	buf[off] = byte(q.ConnectionType)
	off++
	binary.BigEndian.PutUint64(buf[off:], q.MeasurementTimeMs)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], q.MeasurementWindowMs)
	off += 4
	off = putBool(buf, off, q.DetectionComplete)
	off += natQualityReservedLen
	if off != NatQualityWireLen {
		return nil, fmt.Errorf("internal error: encoded %d bytes, want %d", off, NatQualityWireLen)
	}
	return buf, nil
}

// UnmarshalBinary decodes q from exactly NatQualityWireLen bytes.
func (q *NatQuality) UnmarshalBinary(buf []byte) error {
	if len(buf) < NatQualityWireLen {
		return fmt.Errorf("natQuality: want %d bytes, got %d", NatQualityWireLen, len(buf))
	}
	off := 0
	q.Tier = Tier(buf[off])
	off++
	q.UploadKbps = binary.BigEndian.Uint32(buf[off:])
	off += 4
	q.RTTMs = binary.BigEndian.Uint16(buf[off:])
	off += 2
	q.StunProbeSuccessPct = buf[off]
	off++
	q.PublicAddress, off = getAddr(buf, off)
	q.PublicPort = binary.BigEndian.Uint16(buf[off:])
	off += 2
	q.HasPublicIP, off = getBool(buf, off)
	q.UPnPAvailable, off = getBool(buf, off)
	q.UPnPMappedPort = binary.BigEndian.Uint16(buf[off:])
	off += 2
	q.ConnectionType = ConnectionType(buf[off])
	off++
	q.MeasurementTimeMs = binary.BigEndian.Uint64(buf[off:])
	off += 8
	q.MeasurementWindowMs = binary.BigEndian.Uint32(buf[off:])
	off += 4
	q.DetectionComplete, off = getBool(buf, off)
	off += natQualityReservedLen
	_ = off
	return nil
}
