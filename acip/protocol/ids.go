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

// Package protocol defines the data model and wire encoding of the acip
// session bootstrap subsystem: identifiers, NAT quality records, election
// artifacts, and the control packets exchanged while bootstrapping a
// session.
package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// IDLen is the fixed length, in bytes, of a SessionID or ParticipantID.
const IDLen = 16

// SessionID identifies a single video-chat session across all participants.
type SessionID [IDLen]byte

// ParticipantID identifies one participant within a session.
type ParticipantID [IDLen]byte

// String renders the identifier as hex, for logging.
func (s SessionID) String() string { return hex.EncodeToString(s[:]) }

// String renders the identifier as hex, for logging.
func (p ParticipantID) String() string { return hex.EncodeToString(p[:]) }

// Less reports whether p sorts lexicographically before other. Ring
// ordering and initiator selection both rely on this total order.
func (p ParticipantID) Less(other ParticipantID) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// Equal reports whether p and other are the same participant.
func (p ParticipantID) Equal(other ParticipantID) bool {
	return p == other
}

// ParseParticipantID decodes a hex-encoded participant identifier.
func ParseParticipantID(s string) (ParticipantID, error) {
	var p ParticipantID
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("parsing participant id %q: %w", s, err)
	}
	if len(b) != IDLen {
		return p, fmt.Errorf("participant id %q: want %d bytes, got %d", s, IDLen, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// ParseSessionID decodes a hex-encoded session identifier.
func ParseSessionID(s string) (SessionID, error) {
	var id SessionID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing session id %q: %w", s, err)
	}
	if len(b) != IDLen {
		return id, fmt.Errorf("session id %q: want %d bytes, got %d", s, IDLen, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// SortParticipantIDs sorts ids ascending lexicographically, in place.
func SortParticipantIDs(ids []ParticipantID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j].Less(ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
