package rpc

import (
	"encoding/hex"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

var _ consensus.EventSubscriber = (*Server)(nil)

// OnEvent forwards engine events to the matching stream. Events nobody
// subscribed to are dropped before encoding.
func (s *Server) OnEvent(event consensus.Event) {
	switch e := event.(type) {
	case *consensus.LedgerAcceptedEvent:
		if s.ws.Subscribers(StreamLedger) == 0 {
			return
		}
		s.ws.Broadcast(StreamLedger, LedgerClosedMessage{
			Type:      "ledgerClosed",
			Hash:      e.LedgerID.String(),
			Seq:       e.LedgerSeq,
			TxCount:   e.TxCount,
			CloseTime: e.CloseTime.Unix(),
		})

	case *consensus.PhaseChangedEvent:
		if s.ws.Subscribers(StreamConsensus) == 0 {
			return
		}
		s.ws.Broadcast(StreamConsensus, ConsensusMessage{
			Type:  "consensusPhase",
			Seq:   e.Round.Seq,
			Phase: e.NewPhase.String(),
		})

	case *consensus.ConsensusReachedEvent:
		if s.ws.Subscribers(StreamConsensus) == 0 {
			return
		}
		agreed := e.CloseTimeAgreed
		s.ws.Broadcast(StreamConsensus, ConsensusMessage{
			Type:      "consensusReached",
			Seq:       e.Round.Seq,
			Result:    e.Stats.Result.String(),
			TxSet:     e.TxSet.String(),
			Proposers: e.Stats.Proposers,
			Agreed:    &agreed,
		})

	case *consensus.RoundAbandonedEvent:
		if s.ws.Subscribers(StreamConsensus) == 0 {
			return
		}
		s.ws.Broadcast(StreamConsensus, ConsensusMessage{
			Type:   "roundAbandoned",
			Seq:    e.Round.Seq,
			Result: "abandoned",
		})

	case *consensus.ValidationReceivedEvent:
		if s.ws.Subscribers(StreamValidations) == 0 {
			return
		}
		v := e.Validation
		s.ws.Broadcast(StreamValidations, ValidationMessage{
			Type:      "validationReceived",
			Hash:      v.LedgerID.String(),
			Seq:       v.LedgerSeq,
			NodeID:    v.NodeID.String(),
			SignTime:  v.SignTime.Unix(),
			Full:      v.Full,
			Signature: hex.EncodeToString(v.Signature),
		})
	}
}
