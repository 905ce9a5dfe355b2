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
	"context"
	"reflect"

	"github.com/acip-chat/acip/acip/bmc"
	"github.com/acip-chat/acip/acip/protocol"
)

// Negotiator drives the two-party state machine of C3, §4.3. A
// Negotiator is owned exclusively by the goroutine that calls its
// methods; it is not safe for concurrent use, matching the §5 "context
// owned exclusively by its driver" rule.
type Negotiator struct {
	ctx  *protocol.NegotiationContext
	deps ProbeDeps
	cfg  *Config

	stunServers []string
	localPort   uint16
}

// NewNegotiator builds the negotiator for one pairwise session.
func NewNegotiator(nctx *protocol.NegotiationContext, deps ProbeDeps, cfg *Config, stunServers []string, localPort uint16) *Negotiator {
	return &Negotiator{ctx: nctx, deps: deps, cfg: cfg, stunServers: stunServers, localPort: localPort}
}

// Start runs C1 and transitions INIT -> DETECTING_NAT -> {WAITING_PEER |
// COMPARING}, §4.3.
func (n *Negotiator) Start(ctx context.Context) error {
	if n.ctx.State != protocol.NegotiateInit {
		return protocol.NewError(protocol.ErrInvalidState, nil)
	}
	n.ctx.State = protocol.NegotiateDetectingNAT

	q, err := Probe(ctx, n.deps, n.stunServers, n.localPort, n.cfg)
	if err != nil {
		n.fail(protocol.ErrProbeFailed, err)
		return err
	}
	n.ctx.OurQuality = &q

	if n.ctx.PeerQuality != nil {
		return n.compare()
	}
	n.ctx.State = protocol.NegotiateWaitingPeer
	return nil
}

// ReceivePeerQuality handles an inbound QUALITY_OFFER, §4.3. Duplicate
// offers with identical contents are accepted silently; conflicting
// duplicates fail with ProtocolConflict.
func (n *Negotiator) ReceivePeerQuality(q protocol.NatQuality) error {
	if n.ctx.PeerQuality != nil {
		if !reflect.DeepEqual(*n.ctx.PeerQuality, q) {
			n.fail(protocol.ErrProtocolConflict, nil)
			return protocol.NewError(protocol.ErrProtocolConflict, nil)
		}
		return nil
	}
	n.ctx.PeerQuality = &q

	switch n.ctx.State {
	case protocol.NegotiateWaitingPeer:
		return n.compare()
	case protocol.NegotiateDetectingNAT:
		// our own probe hasn't finished yet; compare() runs once Start does.
		return nil
	default:
		return protocol.NewError(protocol.ErrInvalidState, nil)
	}
}

// compare runs C2 and resolves the host decision, §4.3.
func (n *Negotiator) compare() error {
	n.ctx.State = protocol.NegotiateComparing
	c := bmc.Compare(*n.ctx.OurQuality, *n.ctx.PeerQuality, n.ctx.IsInitiator)

	var hostQuality, backupQuality protocol.NatQuality
	var hostID, backupID protocol.ParticipantID
	if c < 0 {
		n.ctx.State = protocol.NegotiateWeHost
		hostQuality, hostID = *n.ctx.OurQuality, n.ctx.SelfID
		backupQuality, backupID = *n.ctx.PeerQuality, n.ctx.PeerID
	} else {
		n.ctx.State = protocol.NegotiateTheyHost
		hostQuality, hostID = *n.ctx.PeerQuality, n.ctx.PeerID
		backupQuality, backupID = *n.ctx.OurQuality, n.ctx.SelfID
	}

	hostAddr, hostPort, ct := bmc.ResolveAddress(hostQuality, n.cfg.DefaultHostPort)
	backupAddr, backupPort, _ := bmc.ResolveAddress(backupQuality, n.cfg.DefaultHostPort)
	n.ctx.Result = &protocol.HostDecision{
		HostID:         hostID,
		BackupID:       backupID,
		HostAddress:    hostAddr,
		HostPort:       hostPort,
		BackupAddress:  backupAddr,
		BackupPort:     backupPort,
		ConnectionType: ct,
		ElectedAtMs:    n.deps.Clock.NowMs(),
		Generation:     1,
	}
	n.ctx.State = protocol.NegotiateComplete
	return nil
}

func (n *Negotiator) fail(kind protocol.ErrorKind, cause error) {
	n.ctx.State = protocol.NegotiateFailed
	e := protocol.NewError(kind, cause)
	n.ctx.Err = e
}
