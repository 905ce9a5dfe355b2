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

import "github.com/acip-chat/acip/acip/protocol"

// BuildRing implements C4: a deterministic ordering of members into a
// ring with a leader, §4.4. Sorting is stable so any permutation of the
// same member set produces an identical ring.
func BuildRing(sessionID protocol.SessionID, selfID protocol.ParticipantID, members []protocol.ParticipantID) protocol.RingContext {
	sorted := make([]protocol.ParticipantID, len(members))
	copy(sorted, members)
	protocol.SortParticipantIDs(sorted)

	return protocol.RingContext{
		SessionID:   sessionID,
		SelfID:      selfID,
		Members:     sorted,
		LeaderIndex: 0,
		Generation:  1,
	}
}
