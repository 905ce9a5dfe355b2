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

package bmc

import (
	"github.com/acip-chat/acip/acip/protocol"
)

const (
	scoreTierWeight   = 10000
	scoreUploadCap    = 50000
	scoreUploadDiv    = 10
	scoreStunWeight   = 50
	scoreRTTCap       = 1000
	scoreUPnPBonus    = 500
	scorePublicIPBonus = 5000
)

// Score implements the §4.6 step 2 scoring formula. All arithmetic is
// 64-bit signed so the result is bit-stable across platforms.
func Score(q protocol.NatQuality) int64 {
	upload := int64(q.UploadKbps)
	if upload > scoreUploadCap {
		upload = scoreUploadCap
	}
	rtt := int64(q.RTTMs)
	if rtt > scoreRTTCap {
		rtt = scoreRTTCap
	}
	score := scoreTierWeight*(4-int64(q.Tier)) + upload/scoreUploadDiv + scoreStunWeight*int64(q.StunProbeSuccessPct) - rtt
	if q.UPnPAvailable {
		score += scoreUPnPBonus
	}
	if q.HasPublicIP {
		score += scorePublicIPBonus
	}
	return score
}

// ElectConfig carries the knobs Elect needs beyond the quality map
// itself: the default host port (ACIP_HOST_DEFAULT_PORT) and the
// freshness/staleness window from §3.
type ElectConfig struct {
	NowMs             uint64
	FreshnessBudgetMs uint64
	DefaultPort       uint16
}

// Elect implements C6: a pure function from a quality map to a
// HostDecision, §4.6. Ties in score are broken by lexicographically
// smallest ParticipantID, making the result deterministic regardless of
// map iteration order.
func Elect(qualities map[protocol.ParticipantID]protocol.NatQuality, cfg ElectConfig) (protocol.HostDecision, error) {
	type candidate struct {
		id      protocol.ParticipantID
		quality protocol.NatQuality
		score   int64
	}

	var eligible []candidate
	for id, q := range qualities {
		if !q.DetectionComplete {
			continue
		}
		if !q.Fresh(cfg.NowMs, cfg.FreshnessBudgetMs) {
			continue
		}
		eligible = append(eligible, candidate{id: id, quality: q, score: Score(q)})
	}
	if len(eligible) == 0 {
		return protocol.HostDecision{}, protocol.NewError(protocol.ErrInvalidParam, errNoEligibleCandidates)
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.score > best.score || (c.score == best.score && c.id.Less(best.id)) {
			best = c
		}
	}

	var backup *candidate
	for i := range eligible {
		c := eligible[i]
		if c.id.Equal(best.id) {
			continue
		}
		if c.quality.Tier > best.quality.Tier+1 {
			continue
		}
		if backup == nil || c.score > backup.score || (c.score == backup.score && c.id.Less(backup.id)) {
			backup = &c
		}
	}

	decision := protocol.HostDecision{
		HostID:      best.id,
		ElectedAtMs: cfg.NowMs,
	}
	decision.HostAddress, decision.HostPort, decision.ConnectionType = ResolveAddress(best.quality, cfg.DefaultPort)

	if backup == nil {
		decision.BackupID = best.id
		decision.BackupAddress = decision.HostAddress
		decision.BackupPort = decision.HostPort
	} else {
		decision.BackupID = backup.id
		decision.BackupAddress, decision.BackupPort, _ = ResolveAddress(backup.quality, cfg.DefaultPort)
	}
	return decision, nil
}

// ResolveAddress implements the host address selection rule of §4.3,
// reused by both the pairwise negotiator and the elector: the address
// published by the quality record itself, falling back to loopback only
// as the test-mode affordance the spec preserves (§9 Open Questions).
func ResolveAddress(q protocol.NatQuality, defaultPort uint16) (addr string, port uint16, ct protocol.ConnectionType) {
	addr = q.PublicAddress
	if addr == "" {
		addr = "127.0.0.1"
	}
	if q.UPnPAvailable {
		port = q.UPnPMappedPort
	} else {
		port = defaultPort
	}
	ct = q.ConnectionType
	return addr, port, ct
}
