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

import "fmt"

// MaxAddressLen is the longest publicAddress string the wire format can
// carry (§3).
const MaxAddressLen = 63

// DefaultFreshnessBudgetMs is how old a NatQuality measurement may be and
// still be considered fresh, §3.
const DefaultFreshnessBudgetMs uint64 = 30_000

// NatQuality is a single participant's measured reachability, produced by
// the quality probe (C1) and carried in QUALITY_OFFER and STATS_UPDATE.
type NatQuality struct {
	Tier                 Tier
	UploadKbps           uint32
	RTTMs                uint16
	StunProbeSuccessPct  uint8
	PublicAddress        string
	PublicPort           uint16
	HasPublicIP          bool
	UPnPAvailable        bool
	UPnPMappedPort       uint16
	ConnectionType       ConnectionType
	MeasurementTimeMs    uint64
	MeasurementWindowMs  uint32
	DetectionComplete    bool
}

// Validate checks the §3 invariants that must hold for any NatQuality
// returned by the quality probe.
func (q *NatQuality) Validate() error {
	if len(q.PublicAddress) > MaxAddressLen {
		return fmt.Errorf("publicAddress %q exceeds %d bytes", q.PublicAddress, MaxAddressLen)
	}
	if (q.Tier == TierPublic) != q.HasPublicIP {
		return fmt.Errorf("tier == 0 must imply hasPublicIp, got tier=%d hasPublicIp=%v", q.Tier, q.HasPublicIP)
	}
	if q.UPnPAvailable && q.UPnPMappedPort == 0 {
		return fmt.Errorf("upnpAvailable requires upnpMappedPort > 0")
	}
	switch q.ConnectionType {
	case ConnectionDirectPublic:
		if q.Tier != TierPublic {
			return fmt.Errorf("connectionType DIRECT_PUBLIC requires tier == 0, got %d", q.Tier)
		}
	case ConnectionUPnP:
		if !q.UPnPAvailable {
			return fmt.Errorf("connectionType UPNP requires upnpAvailable")
		}
	case ConnectionSTUN:
		// no extra constraint
	default:
		return fmt.Errorf("unknown connectionType %d", q.ConnectionType)
	}
	if q.StunProbeSuccessPct == 0 && !q.HasPublicIP && q.Tier != TierSymmetric {
		return fmt.Errorf("stunProbeSuccessPct == 0 and no public ip implies tier == symmetric, got %d", q.Tier)
	}
	return nil
}

// Fresh reports whether q was measured within budgetMs of nowMs.
func (q *NatQuality) Fresh(nowMs uint64, budgetMs uint64) bool {
	if nowMs < q.MeasurementTimeMs {
		return false
	}
	return nowMs-q.MeasurementTimeMs <= budgetMs
}

// WorstCase returns the conservative NatQuality used when every sub-probe
// in C1 fails: worst tier, zero bandwidth, no address, detection still
// marked complete per §4.1.
func WorstCase(nowMs uint64, windowMs uint32) NatQuality {
	return NatQuality{
		Tier:                TierSymmetric,
		ConnectionType:      ConnectionSTUN,
		MeasurementTimeMs:   nowMs,
		MeasurementWindowMs: windowMs,
		DetectionComplete:   true,
	}
}
