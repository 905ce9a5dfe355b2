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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acip-chat/acip/acip/protocol"
)

func idFor(b byte) protocol.ParticipantID {
	var id protocol.ParticipantID
	id[0] = b
	return id
}

func TestBuildRingIsPermutationInvariant(t *testing.T) {
	a, b, c := idFor(0x03), idFor(0x01), idFor(0x02)
	var session protocol.SessionID

	r1 := BuildRing(session, a, []protocol.ParticipantID{a, b, c})
	r2 := BuildRing(session, a, []protocol.ParticipantID{c, a, b})
	r3 := BuildRing(session, a, []protocol.ParticipantID{b, c, a})

	require.Equal(t, r1.Members, r2.Members)
	require.Equal(t, r1.Members, r3.Members)
	require.Equal(t, b, r1.Leader(), "lowest id leads")
	require.Equal(t, uint32(1), r1.Generation)
}

func TestRingContextIsLeader(t *testing.T) {
	a, b := idFor(0x01), idFor(0x02)
	var session protocol.SessionID
	r := BuildRing(session, b, []protocol.ParticipantID{a, b})
	require.False(t, r.IsLeader())
	r2 := BuildRing(session, a, []protocol.ParticipantID{a, b})
	require.True(t, r2.IsLeader())
}

func TestQuorumMatchesCeilHalfPlusOne(t *testing.T) {
	require.Equal(t, 2, protocol.Quorum(1))
	require.Equal(t, 3, protocol.Quorum(3))
	require.Equal(t, 3, protocol.Quorum(4))
	require.Equal(t, 4, protocol.Quorum(5))
}
