package relationaldb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/LeJamon/rcld/internal/core/consensus"
)

// Recorder writes round history from engine events. Attach it with
// EventBus.Subscribe.
type Recorder struct {
	db  HistoryDB
	log *logrus.Entry

	mu      sync.Mutex
	reached map[uint32]*consensus.ConsensusReachedEvent

	rounds    atomic.Uint64
	abandoned atomic.Uint64
	failures  atomic.Uint64
}

var _ consensus.EventSubscriber = (*Recorder)(nil)

// NewRecorder creates a recorder writing to db.
func NewRecorder(db HistoryDB, log *logrus.Entry) *Recorder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Recorder{
		db:      db,
		log:     log.WithField("component", "history"),
		reached: make(map[uint32]*consensus.ConsensusReachedEvent),
	}
}

// OnEvent implements consensus.EventSubscriber.
func (r *Recorder) OnEvent(event consensus.Event) {
	switch e := event.(type) {
	case *consensus.ConsensusReachedEvent:
		r.mu.Lock()
		r.reached[e.Round.Seq] = e
		r.mu.Unlock()

	case *consensus.LedgerAcceptedEvent:
		r.mu.Lock()
		reached := r.reached[e.LedgerSeq]
		for seq := range r.reached {
			if seq <= e.LedgerSeq {
				delete(r.reached, seq)
			}
		}
		r.mu.Unlock()

		rec := RoundRecord{
			LedgerSeq: e.LedgerSeq,
			LedgerID:  e.LedgerID,
			TxCount:   e.TxCount,
			CloseTime: e.CloseTime,
			Recorded:  e.Timestamp,
			Result:    "unknown",
		}
		if reached != nil {
			rec.ParentID = reached.Round.Parent
			rec.TxSetID = reached.TxSet
			rec.CloseTimeAgreed = reached.CloseTimeAgreed
			rec.CloseResolution = reached.Resolution
			rec.Result = reached.Stats.Result.String()
			rec.Proposers = reached.Stats.Proposers
			rec.Disputes = reached.Stats.Disputes
			rec.Discarded = reached.Stats.Discarded.Total()
			rec.Duration = reached.Stats.Duration
		}
		if err := r.db.RecordRound(context.Background(), rec); err != nil {
			r.failures.Add(1)
			r.log.WithError(err).WithField("seq", e.LedgerSeq).Error("Failed to record round")
			return
		}
		r.rounds.Add(1)

	case *consensus.RoundAbandonedEvent:
		r.abandoned.Add(1)
		r.mu.Lock()
		delete(r.reached, e.Round.Seq)
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{
			"seq":     e.Round.Seq,
			"branch":  e.Branch.Short(),
			"support": e.Support,
		}).Info("Round abandoned for another branch")

	case *consensus.ValidationReceivedEvent:
		v := e.Validation
		err := r.db.RecordValidation(context.Background(), ValidationRecord{
			LedgerID:  v.LedgerID,
			LedgerSeq: v.LedgerSeq,
			NodeID:    v.NodeID,
			SignTime:  v.SignTime,
			SeenTime:  v.SeenTime,
			Full:      v.Full,
		})
		if err != nil {
			r.failures.Add(1)
			r.log.WithError(err).Debug("Failed to record validation")
		}
	}
}

// Counts returns the rounds recorded, rounds abandoned and failed writes.
func (r *Recorder) Counts() (rounds, abandoned, failures uint64) {
	return r.rounds.Load(), r.abandoned.Load(), r.failures.Load()
}
