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

// Package bmc implements the quality comparator (C2) and elector (C6):
// the two pure functions that turn NatQuality measurements into a host
// decision, one for the pairwise case and one for the N-way case.
package bmc

import "github.com/acip-chat/acip/acip/protocol"

// minUploadFloorKbps is the minimum uploadKbps the higher side must
// reach before bandwidth can decide anything, §4.2 step 2.
const minUploadFloorKbps = 500

// minRTTDeltaMs is the smallest rttMs difference treated as significant,
// §4.2 step 3.
const minRTTDeltaMs = 20

// minStunDelta is the smallest stunProbeSuccessPct difference treated as
// significant, §4.2 step 4.
const minStunDelta = 10

// Compare implements the decision ladder of spec §4.2: -1 means a hosts,
// +1 means b hosts, ties never reach the caller unresolved because the
// initiator tie-break always decides. aIsInitiator reflects a's view of
// who initiated (selfId < peerId); the caller is responsible for calling
// this symmetrically so both peers agree (§8 invariant).
func Compare(a, b protocol.NatQuality, aIsInitiator bool) int {
	// 1. tier, lower wins.
	if a.Tier != b.Tier {
		if a.Tier < b.Tier {
			return -1
		}
		return 1
	}

	// 2. uploadKbps, higher wins only past the noise threshold.
	if c := compareUpload(a.UploadKbps, b.UploadKbps); c != 0 {
		return c
	}

	// 3. rttMs, lower wins, minimum delta 20ms.
	if c := compareLowerWins(int64(a.RTTMs), int64(b.RTTMs), minRTTDeltaMs); c != 0 {
		return c
	}

	// 4. stunProbeSuccessPct, higher wins, minimum delta 10.
	if c := compareHigherWins(int64(a.StunProbeSuccessPct), int64(b.StunProbeSuccessPct), minStunDelta); c != 0 {
		return c
	}

	// 5. upnpAvailable, true wins.
	if a.UPnPAvailable != b.UPnPAvailable {
		if a.UPnPAvailable {
			return -1
		}
		return 1
	}

	// 6. tie-breaker: the initiator always hosts.
	if aIsInitiator {
		return -1
	}
	return 1
}

func compareUpload(a, b uint32) int {
	hi, lo := a, b
	sign := -1
	if lo > hi {
		hi, lo = b, a
		sign = 1
	}
	if hi == lo {
		return 0
	}
	if hi < minUploadFloorKbps {
		return 0
	}
	// hi/lo >= 1.25 without floating point: 4*hi >= 5*lo.
	if 4*uint64(hi) < 5*uint64(lo) {
		return 0
	}
	return sign
}

func compareLowerWins(a, b, minDelta int64) int {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	if delta < minDelta {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func compareHigherWins(a, b, minDelta int64) int {
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	if delta < minDelta {
		return 0
	}
	if a > b {
		return -1
	}
	return 1
}
