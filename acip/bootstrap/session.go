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
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acip-chat/acip/acip/bmc"
	"github.com/acip-chat/acip/acip/protocol"
)

// electFrom adapts bmc.Elect to the Config/Clock values session.go has on
// hand.
func electFrom(qualities map[protocol.ParticipantID]protocol.NatQuality, cfg *Config, nowMs uint64) (protocol.HostDecision, error) {
	return bmc.Elect(qualities, bmc.ElectConfig{NowMs: nowMs, FreshnessBudgetMs: cfg.FreshnessBudgetMs, DefaultPort: cfg.DefaultHostPort})
}

// inboundMsg pairs a decoded packet with where it came from, the unit
// the driver loop dispatches on.
type inboundMsg struct {
	from protocol.ParticipantID
	pkt  protocol.Packet
}

// Handle is the observable surface of a running bootstrap, §6. It is
// safe to call Status and Cancel concurrently with the driver goroutine;
// OnInbound may also be called concurrently, queuing the message for the
// single-threaded driver loop to dequeue (§5).
type Handle struct {
	mu     sync.Mutex
	status protocol.Status
	result protocol.HostDecision
	err    *protocol.Error

	inbound chan inboundMsg
	cancel  context.CancelFunc
	done    chan struct{}
}

// Status returns the current observable state of the bootstrap, §6.
func (h *Handle) Status() (protocol.Status, protocol.HostDecision, *protocol.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.result, h.err
}

// Cancel aborts the bootstrap at its next suspension point, §5.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the bootstrap reaches a terminal state.
func (h *Handle) Wait() {
	<-h.done
}

// OnInbound delivers a raw control message received by the transport
// collaborator out-of-band, for callers that push bytes rather than let
// the driver pull them via Transport.Recv, §6.
func (h *Handle) OnInbound(from protocol.ParticipantID, b []byte) {
	pkt, err := protocol.Decode(b)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable inbound message")
		return
	}
	select {
	case h.inbound <- inboundMsg{from: from, pkt: pkt}:
	default:
		log.Warn("inbound queue full, dropping message")
	}
}

func (h *Handle) setComplete(decision protocol.HostDecision) {
	h.mu.Lock()
	h.status = protocol.StatusComplete
	h.result = decision
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) setFailed(err *protocol.Error) {
	h.mu.Lock()
	h.status = protocol.StatusFailed
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Bootstrap is the entry point for the session bootstrap subsystem: it
// picks between the pairwise and consensus paths and drives whichever
// applies, §4.8.
type Bootstrap struct {
	Transport Transport
	Stun      Stun
	Upnp      Upnp
	Clock     Clock
	Rng       Rng

	Config      *Config
	StunServers []string
	LocalPort   uint16
}

func (b *Bootstrap) probeDeps() ProbeDeps {
	return ProbeDeps{Stun: b.Stun, Upnp: b.Upnp, Clock: b.Clock}
}

// Start implements C8: given a session, self, and the full member list,
// it begins bootstrapping and returns immediately with a Handle, §6.
// For N==1 the driver goroutine completes at once, with no exchange,
// since there is no peer to negotiate with.
func (b *Bootstrap) Start(ctx context.Context, sessionID protocol.SessionID, selfID protocol.ParticipantID, members []protocol.ParticipantID) *Handle {
	cfg := b.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapDeadlineMs)*time.Millisecond)
	h := &Handle{
		status:  protocol.StatusRunning,
		inbound: make(chan inboundMsg, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go b.run(runCtx, h, sessionID, selfID, members, cfg)
	return h
}

func (b *Bootstrap) run(ctx context.Context, h *Handle, sessionID protocol.SessionID, selfID protocol.ParticipantID, members []protocol.ParticipantID, cfg *Config) {
	if b.Transport != nil {
		go b.pump(ctx, h)
	}

	switch {
	case len(members) == 0:
		h.setFailed(protocol.NewError(protocol.ErrInvalidParam, nil))
	case len(members) == 1:
		decision := protocol.HostDecision{
			HostID:      selfID,
			BackupID:    selfID,
			HostAddress: "127.0.0.1",
			HostPort:    cfg.DefaultHostPort,
			ElectedAtMs: b.Clock.NowMs(),
			Generation:  1,
		}
		h.setComplete(decision)
	case len(members) == 2:
		b.runPairwise(ctx, h, sessionID, selfID, members, cfg)
	default:
		b.runConsensus(ctx, h, sessionID, selfID, members, cfg)
	}
}

// pump relays Transport.Recv into the driver's inbound queue so the core
// can also pull, not just be pushed to via OnInbound.
func (b *Bootstrap) pump(ctx context.Context, h *Handle) {
	for {
		from, buf, err := b.Transport.Recv(ctx)
		if err != nil {
			return
		}
		h.OnInbound(from, buf)
	}
}

func otherOf(members []protocol.ParticipantID, self protocol.ParticipantID) protocol.ParticipantID {
	for _, m := range members {
		if !m.Equal(self) {
			return m
		}
	}
	return self
}

func (b *Bootstrap) runPairwise(ctx context.Context, h *Handle, sessionID protocol.SessionID, selfID protocol.ParticipantID, members []protocol.ParticipantID, cfg *Config) {
	peer := otherOf(members, selfID)
	nctx := protocol.NewNegotiationContext(sessionID, selfID, peer)
	neg := NewNegotiator(nctx, b.probeDeps(), cfg, b.StunServers, b.LocalPort)

	deadlineMs := b.Clock.NowMs() + cfg.NegotiationDeadlineMs

	if err := neg.Start(ctx); err != nil {
		h.setFailed(protocol.NewError(protocol.KindOf(err), err))
		return
	}
	if err := b.sendQualityOffer(ctx, nctx); err != nil {
		h.setFailed(protocol.NewError(protocol.ErrCancelled, err))
		return
	}

	for nctx.State != protocol.NegotiateComplete && nctx.State != protocol.NegotiateFailed {
		remaining := deadlineRemaining(b.Clock, deadlineMs)
		if remaining <= 0 {
			h.setFailed(protocol.NewError(protocol.ErrTimeout, nil))
			return
		}
		select {
		case <-ctx.Done():
			h.setFailed(protocol.NewError(protocol.ErrCancelled, ctx.Err()))
			return
		case <-time.After(remaining):
			h.setFailed(protocol.NewError(protocol.ErrTimeout, nil))
			return
		case msg := <-h.inbound:
			offer, ok := msg.pkt.(*protocol.QualityOffer)
			if !ok || !offer.SenderID.Equal(peer) {
				continue
			}
			logReceived(offer.SenderID, "QUALITY_OFFER", "tier=%v", offer.Quality.Tier)
			if err := neg.ReceivePeerQuality(offer.Quality); err != nil {
				h.setFailed(protocol.NewError(protocol.KindOf(err), err))
				return
			}
		}
	}

	if nctx.State == protocol.NegotiateFailed {
		h.setFailed(nctx.Err)
		return
	}
	h.setComplete(*nctx.Result)
}

func (b *Bootstrap) sendQualityOffer(ctx context.Context, nctx *protocol.NegotiationContext) error {
	offer := &protocol.QualityOffer{SessionID: nctx.SessionID, SenderID: nctx.SelfID, Quality: *nctx.OurQuality}
	buf, err := offer.MarshalBinary()
	if err != nil {
		return err
	}
	if err := b.Transport.Send(ctx, nctx.PeerID, buf); err != nil {
		return err
	}
	logSent(nctx.PeerID, "QUALITY_OFFER", "tier=%v", nctx.OurQuality.Tier)
	return nil
}

func (b *Bootstrap) runConsensus(ctx context.Context, h *Handle, sessionID protocol.SessionID, selfID protocol.ParticipantID, members []protocol.ParticipantID, cfg *Config) {
	ring := BuildRing(sessionID, selfID, members)

	if ring.IsLeader() {
		b.runLeaderConsensus(ctx, h, &ring, cfg)
		return
	}
	b.runFollowerConsensus(ctx, h, &ring, cfg)
}

func (b *Bootstrap) runLeaderConsensus(ctx context.Context, h *Handle, ring *protocol.RingContext, cfg *Config) {
	collector := NewCollector(ring, b.probeDeps(), b.Transport, cfg, b.StunServers, b.LocalPort)
	disseminator := NewDisseminator(ring, b.Transport, b.probeDeps(), cfg)

	go b.dispatchLeader(ctx, h, collector, disseminator, ring)

	qualities, err := collector.RunLeader(ctx)
	if err != nil {
		h.setFailed(protocol.NewError(protocol.KindOf(err), err))
		return
	}

	decision, err := electFrom(qualities, cfg, b.Clock.NowMs())
	if err != nil {
		h.setFailed(protocol.NewError(protocol.KindOf(err), err))
		return
	}
	decision.Generation = ring.Generation

	if err := disseminator.RunLeader(ctx, decision); err != nil {
		h.setFailed(protocol.NewError(protocol.KindOf(err), err))
		return
	}
	h.setComplete(decision)
}

// dispatchLeader feeds inbound STATS_UPDATE and STATS_ACK messages to the
// collector/disseminator for as long as the bootstrap runs.
func (b *Bootstrap) dispatchLeader(ctx context.Context, h *Handle, collector *Collector, disseminator *Disseminator, ring *protocol.RingContext) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.inbound:
			switch p := msg.pkt.(type) {
			case *protocol.StatsUpdate:
				if p.SessionID == ring.SessionID {
					collector.HandleStatsUpdate(*p)
				}
			case *protocol.StatsAck:
				if p.SessionID == ring.SessionID {
					disseminator.HandleStatsAck(*p)
				}
			}
		}
	}
}

func (b *Bootstrap) runFollowerConsensus(ctx context.Context, h *Handle, ring *protocol.RingContext, cfg *Config) {
	collector := NewCollector(ring, b.probeDeps(), b.Transport, cfg, b.StunServers, b.LocalPort)

	totalDeadline := b.Clock.NowMs() + cfg.BootstrapDeadlineMs
	var pendingUpdate []byte
	var retransmitAt uint64 // 0 means no retransmit scheduled

	for {
		remaining := deadlineRemaining(b.Clock, totalDeadline)
		if remaining <= 0 {
			h.setFailed(protocol.NewError(protocol.ErrTimeout, nil))
			return
		}
		wait := remaining
		if retransmitAt != 0 {
			if d := deadlineRemaining(b.Clock, retransmitAt); d < wait {
				wait = d
			}
		}

		select {
		case <-ctx.Done():
			h.setFailed(protocol.NewError(protocol.ErrCancelled, ctx.Err()))
			return
		case <-time.After(wait):
			if retransmitAt != 0 && b.Clock.NowMs() >= retransmitAt {
				if pendingUpdate != nil {
					_ = b.Transport.Send(ctx, ring.Leader(), pendingUpdate)
					logSent(ring.Leader(), "STATS_UPDATE", "retransmit")
				}
				retransmitAt = 0
				continue
			}
			h.setFailed(protocol.NewError(protocol.ErrTimeout, nil))
			return
		case msg := <-h.inbound:
			switch p := msg.pkt.(type) {
			case *protocol.StatsCollectionStart:
				if p.SessionID != ring.SessionID {
					continue
				}
				logReceived(ring.Leader(), "STATS_COLLECTION_START", "round=%d", p.RoundID)
				ring.Round = protocol.RoundCollecting
				sent, err := collector.RunFollower(ctx, *p)
				if err != nil {
					log.WithError(err).Warn("follower stats reply failed")
					continue
				}
				pendingUpdate = sent
				retransmitAt = b.Clock.NowMs() + cfg.FollowerRetransmitDelayMs
			case *protocol.RingElectionResult:
				if p.SessionID != ring.SessionID {
					continue
				}
				logReceived(ring.Leader(), "RING_ELECTION_RESULT", "round=%d", p.RoundID)
				retransmitAt = 0
				decision, ack := HandleResult(ring, *p)
				buf, err := (&ack).MarshalBinary()
				if err == nil {
					_ = b.Transport.Send(ctx, ring.Leader(), buf)
					logSent(ring.Leader(), "STATS_ACK", "status=%v", ack.AckStatus)
				}
				if ack.AckStatus == protocol.AckOK {
					h.setComplete(decision)
					return
				}
			}
		}
	}
}
