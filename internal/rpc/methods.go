package rpc

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/txset"
	"github.com/LeJamon/rcld/internal/node"
)

// Backend is the node the server reports on.
type Backend interface {
	NodeID() consensus.NodeID
	Stats() node.Stats
	RoundState() consensus.RoundState
	Submit(blob []byte) bool
}

// handler runs one method. params is the first element of the request's
// params array and may be nil.
type handler func(params json.RawMessage) (interface{}, *Error)

func (s *Server) registerMethods() {
	s.methods = map[string]handler{
		"server_info":    s.serverInfo,
		"consensus_info": s.consensusInfo,
		"submit":         s.submit,
		"ping":           func(json.RawMessage) (interface{}, *Error) { return struct{}{}, nil },
	}
}

func (s *Server) execute(method string, params json.RawMessage) (interface{}, *Error) {
	if method == "" {
		return nil, errMissingCommand()
	}
	h, ok := s.methods[method]
	if !ok {
		return nil, errUnknownCommand(method)
	}
	return h(params)
}

func (s *Server) serverInfo(json.RawMessage) (interface{}, *Error) {
	st := s.backend.RoundState()
	stats := s.backend.Stats()
	return ServerInfo{
		NodeID:           s.backend.NodeID().String(),
		Mode:             st.Mode.String(),
		Phase:            st.Phase.String(),
		RoundSeq:         st.Round.Seq,
		LastClosedSeq:    stats.LastClosedSeq,
		ValidatedSeq:     stats.ValidatedSeq,
		Peers:            st.Peers,
		Disputes:         st.Disputes,
		CloseResolution:  int64(st.Resolution.Seconds()),
		LedgersAccepted:  stats.Accepted,
		QueueDropped:     stats.QueueDropped,
		BadSignatures:    stats.BadSignatures,
		EventsDropped:    stats.EventsDropped,
		TxSetCacheHits:   stats.TxSetCacheHits,
		DisputeVotesSeen: stats.DisputeVotes,
	}, nil
}

func (s *Server) consensusInfo(json.RawMessage) (interface{}, *Error) {
	st := s.backend.RoundState()
	info := ConsensusInfo{
		Round:      st.Round.Seq,
		Parent:     st.Round.Parent.String(),
		Mode:       st.Mode.String(),
		Phase:      st.Phase.String(),
		Proposing:  st.Mode == consensus.ModeProposing,
		ProposeSeq: st.Position.ProposeSeq,
		Peers:      st.Peers,
		Disputes:   st.Disputes,
		Committed:  st.Committed,
	}
	if st.Phase != consensus.PhaseOpen {
		info.TxSet = st.Position.TxSet.String()
		info.CloseTime = st.Position.CloseTime.Unix()
	}
	return info, nil
}

func (s *Server) submit(params json.RawMessage) (interface{}, *Error) {
	var p struct {
		TxBlob string `json:"tx_blob"`
	}
	if len(params) == 0 {
		return nil, errInvalidParams("missing tx_blob")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	blob, err := hex.DecodeString(strings.TrimSpace(p.TxBlob))
	if err != nil || len(blob) == 0 {
		return nil, errInvalidParams("tx_blob must be non-empty hex")
	}
	return SubmitResult{
		TxID:     txset.TxIDFor(blob).String(),
		Accepted: s.backend.Submit(blob),
	}, nil
}
