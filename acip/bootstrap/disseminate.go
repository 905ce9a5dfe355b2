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

// Disseminator drives C7: the leader announces the election and retries
// until quorum acknowledges, while each follower validates and
// acknowledges exactly once per round.
type Disseminator struct {
	ring *protocol.RingContext
	t    Transport
	deps ProbeDeps
	cfg  *Config

	acks chan protocol.StatsAck
}

// NewDisseminator builds a disseminator bound to ring.
func NewDisseminator(ring *protocol.RingContext, t Transport, deps ProbeDeps, cfg *Config) *Disseminator {
	return &Disseminator{ring: ring, t: t, deps: deps, cfg: cfg, acks: make(chan protocol.StatsAck, len(ring.Members))}
}

// HandleStatsAck is called by the driver loop for every inbound
// STATS_ACK.
func (d *Disseminator) HandleStatsAck(a protocol.StatsAck) {
	logReceived(a.ParticipantID, "STATS_ACK", "status=%v", a.AckStatus)
	select {
	case d.acks <- a:
	default:
		log.WithField("participant", a.ParticipantID).Warn("stats ack dropped: disseminator not accepting")
	}
}

// RunLeader implements §4.7: broadcast RING_ELECTION_RESULT, retransmit
// every 1s up to 5 times to members that have not yet acked OK, and
// require strict majority OK acks within the dissemination budget.
func (d *Disseminator) RunLeader(ctx context.Context, decision protocol.HostDecision) error {
	d.ring.Round = protocol.RoundAnnouncing
	quorum := protocol.Quorum(len(d.ring.Members))

	result := &protocol.RingElectionResult{
		SessionID:       d.ring.SessionID,
		LeaderID:        d.ring.SelfID,
		RoundID:         d.ring.Generation,
		HostID:          decision.HostID,
		HostAddress:     decision.HostAddress,
		HostPort:        decision.HostPort,
		BackupID:        decision.BackupID,
		BackupAddress:   decision.BackupAddress,
		BackupPort:      decision.BackupPort,
		ElectedAtMs:     decision.ElectedAtMs,
		NumParticipants: uint8(len(d.ring.Members)),
	}

	acked := map[protocol.ParticipantID]bool{d.ring.SelfID: true}
	deadlineMs := d.deps.Clock.NowMs() + d.cfg.DisseminationDeadlineMs

	for attempt := 0; attempt < d.cfg.DisseminationRetries; attempt++ {
		if err := d.sendTo(ctx, result, pending(d.ring.Members, acked)); err != nil {
			return protocol.NewError(protocol.ErrCancelled, err)
		}

		retryDeadline := d.deps.Clock.NowMs() + d.cfg.DisseminationRetryIntervalMs
		if retryDeadline > deadlineMs {
			retryDeadline = deadlineMs
		}
		d.drainAcks(ctx, retryDeadline, acked)

		if len(acked) >= quorum {
			d.ring.Round = protocol.RoundDone
			return nil
		}
		if d.deps.Clock.NowMs() >= deadlineMs {
			break
		}
	}

	if len(acked) >= quorum {
		d.ring.Round = protocol.RoundDone
		return nil
	}
	d.ring.Round = protocol.RoundFailed
	return protocol.NewError(protocol.ErrDisseminationFailed, nil)
}

func (d *Disseminator) drainAcks(ctx context.Context, deadlineMs uint64, acked map[protocol.ParticipantID]bool) {
	for {
		remaining := deadlineRemaining(d.deps.Clock, deadlineMs)
		if remaining <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
			return
		case a := <-d.acks:
			if a.RoundID != d.ring.Generation {
				continue
			}
			switch a.AckStatus {
			case protocol.AckOK:
				acked[a.ParticipantID] = true
			case protocol.AckMismatch:
				log.WithField("participant", a.ParticipantID).Warn("election result mismatch reported, leader remains authoritative")
			case protocol.AckStale:
				log.WithField("participant", a.ParticipantID).Warn("election result reported stale")
			}
		}
	}
}

func (d *Disseminator) sendTo(ctx context.Context, p protocol.Packet, targets []protocol.ParticipantID) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	for _, m := range targets {
		if err := d.t.Send(ctx, m, b); err != nil {
			return err
		}
		logSent(m, "RING_ELECTION_RESULT", "generation=%d", d.ring.Generation)
	}
	return nil
}

func pending(members []protocol.ParticipantID, acked map[protocol.ParticipantID]bool) []protocol.ParticipantID {
	var out []protocol.ParticipantID
	for _, m := range members {
		if !acked[m] {
			out = append(out, m)
		}
	}
	return out
}

// HandleResult implements the follower side of §4.7: validate the round
// and session, persist the decision, and reply with an ack.
func HandleResult(ring *protocol.RingContext, result protocol.RingElectionResult) (protocol.HostDecision, protocol.StatsAck) {
	// RingElectionResult carries no connectionType field (§6): the wire
	// message only needs to tell followers where the host is, not how the
	// host itself got there. ConnectionType stays at its zero value here.
	decision := protocol.HostDecision{
		HostID:        result.HostID,
		BackupID:      result.BackupID,
		HostAddress:   result.HostAddress,
		HostPort:      result.HostPort,
		BackupAddress: result.BackupAddress,
		BackupPort:    result.BackupPort,
		ElectedAtMs:   result.ElectedAtMs,
		Generation:    result.RoundID,
	}

	ack := protocol.StatsAck{
		SessionID:      result.SessionID,
		ParticipantID:  ring.SelfID,
		RoundID:        result.RoundID,
		StoredHostID:   result.HostID,
		StoredBackupID: result.BackupID,
	}

	switch {
	case result.SessionID != ring.SessionID:
		ack.AckStatus = protocol.AckMismatch
	case result.RoundID < ring.Generation:
		ack.AckStatus = protocol.AckStale
	default:
		ack.AckStatus = protocol.AckOK
		ring.Generation = result.RoundID
		ring.Round = protocol.RoundDone
	}
	return decision, ack
}
