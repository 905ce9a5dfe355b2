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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/acip-chat/acip/acip/protocol"
)

// Collector drives C5: the leader-side collection round and the
// follower-side reply. One Collector serves one RingContext; like every
// other context in this package it is owned exclusively by its driver
// goroutine, §5.
type Collector struct {
	ring *protocol.RingContext
	deps ProbeDeps
	t    Transport
	cfg  *Config

	stunServers []string
	localPort   uint16

	updates chan protocol.StatsUpdate
}

// NewCollector builds a collector bound to ring.
func NewCollector(ring *protocol.RingContext, deps ProbeDeps, t Transport, cfg *Config, stunServers []string, localPort uint16) *Collector {
	return &Collector{
		ring:        ring,
		deps:        deps,
		t:           t,
		cfg:         cfg,
		stunServers: stunServers,
		localPort:   localPort,
		updates:     make(chan protocol.StatsUpdate, len(ring.Members)),
	}
}

// HandleStatsUpdate is called by the driver loop for every inbound
// STATS_UPDATE, whether or not this Collector is currently waiting on
// one. The hand-off never blocks: an update is dropped here only when the
// buffer is full. Off-round and non-member updates are filtered later, by
// collectUntil.
func (c *Collector) HandleStatsUpdate(u protocol.StatsUpdate) {
	logReceived(u.SenderID, "STATS_UPDATE", "round=%d", u.RoundID)
	select {
	case c.updates <- u:
	default:
		log.WithField("sender", u.SenderID).Warn("stats update dropped: collector not accepting")
	}
}

// RunLeader drives the leader side of §4.5: up to c.cfg.MaxCollectionRounds
// rounds, each broadcasting STATS_COLLECTION_START and collecting
// STATS_UPDATE until its deadline; quorum is checked once the deadline
// has passed, and a round that falls short is retried.
func (c *Collector) RunLeader(ctx context.Context) (map[protocol.ParticipantID]protocol.NatQuality, error) {
	quorum := protocol.Quorum(len(c.ring.Members))

	for attempt := 0; attempt < c.cfg.MaxCollectionRounds; attempt++ {
		round := c.ring.Generation
		deadlineMs := c.deps.Clock.NowMs() + c.cfg.CollectionDeadlineMs
		c.ring.Round = protocol.RoundCollecting
		c.ring.Current = &protocol.ElectionRound{
			RoundID:  round,
			Deadline: deadlineMs,
			Received: map[protocol.ParticipantID]protocol.NatQuality{},
		}

		start := &protocol.StatsCollectionStart{
			SessionID:   c.ring.SessionID,
			InitiatorID: c.ring.SelfID,
			RoundID:     round,
			DeadlineMs:  deadlineMs,
		}
		if err := c.broadcast(ctx, start); err != nil {
			c.ring.Round = protocol.RoundFailed
			return nil, protocol.NewError(protocol.ErrCancelled, err)
		}

		self, err := Probe(ctx, c.deps, c.stunServers, c.localPort, c.cfg)
		if err == nil {
			c.ring.Current.Received[c.ring.SelfID] = self
		}

		if err := c.collectUntil(ctx, deadlineMs, round); err != nil {
			c.ring.Round = protocol.RoundFailed
			return nil, err
		}

		if len(c.ring.Current.Received) >= quorum {
			c.ring.Round = protocol.RoundElecting
			return c.ring.Current.Received, nil
		}

		log.WithFields(log.Fields{"round": round, "received": len(c.ring.Current.Received), "quorum": quorum}).
			Warn("stats collection round fell short of quorum, retrying")
		c.ring.Generation++
	}

	c.ring.Round = protocol.RoundFailed
	return nil, protocol.NewError(protocol.ErrInsufficientQuorum, nil)
}

func (c *Collector) collectUntil(ctx context.Context, deadlineMs uint64, round uint32) error {
	for {
		remaining := deadlineRemaining(c.deps.Clock, deadlineMs)
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return protocol.NewError(protocol.ErrCancelled, ctx.Err())
		case <-time.After(remaining):
			return nil
		case u := <-c.updates:
			if u.RoundID != round {
				continue
			}
			if !memberOf(c.ring.Members, u.SenderID) {
				continue
			}
			if len(u.Metrics) == 0 {
				continue
			}
			c.ring.Current.Received[u.SenderID] = u.Metrics[0]
		}
	}
}

// RunFollower drives the non-leader side of §4.5: probe once per
// collection start received and reply with exactly one STATS_UPDATE. It
// returns the marshaled update so the caller can retransmit it once
// after 2s if nothing acknowledges it, per §4.5 — the retransmit timer
// itself lives with the driver loop, which cancels it when a
// RING_ELECTION_RESULT arrives.
func (c *Collector) RunFollower(ctx context.Context, start protocol.StatsCollectionStart) ([]byte, error) {
	q, err := Probe(ctx, c.deps, c.stunServers, c.localPort, c.cfg)
	if err != nil {
		q = protocol.WorstCase(c.deps.Clock.NowMs(), 0)
	}
	update := &protocol.StatsUpdate{
		SessionID: start.SessionID,
		SenderID:  c.ring.SelfID,
		RoundID:   start.RoundID,
		Metrics:   []protocol.NatQuality{q},
	}
	b, err := update.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := c.t.Send(ctx, c.ring.Leader(), b); err != nil {
		return nil, protocol.NewError(protocol.ErrCancelled, err)
	}
	logSent(c.ring.Leader(), "STATS_UPDATE", "round=%d", start.RoundID)
	return b, nil
}

func (c *Collector) broadcast(ctx context.Context, p protocol.Packet) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	for _, m := range c.ring.Members {
		if m.Equal(c.ring.SelfID) {
			continue
		}
		if err := c.t.Send(ctx, m, b); err != nil {
			return err
		}
		logSent(m, "STATS_COLLECTION_START", "")
	}
	return nil
}

func memberOf(members []protocol.ParticipantID, id protocol.ParticipantID) bool {
	for _, m := range members {
		if m.Equal(id) {
			return true
		}
	}
	return false
}

// deadlineRemaining returns how long until deadlineMs, per the clock,
// clamped to zero.
func deadlineRemaining(clock Clock, deadlineMs uint64) time.Duration {
	now := clock.NowMs()
	if deadlineMs <= now {
		return 0
	}
	return time.Duration(deadlineMs-now) * time.Millisecond
}
