package rpc

import (
	"encoding/json"
)

// Request is a JSON request: {"method": "name", "params": [{...}]}.
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// Error is returned inside the result object of a failed request.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"error_message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func errInvalidParams(msg string) *Error {
	return &Error{Code: "invalidParams", Message: msg}
}

func errUnknownCommand(method string) *Error {
	return &Error{Code: "unknownCmd", Message: "unknown command " + method}
}

func errMissingCommand() *Error {
	return &Error{Code: "missingCommand", Message: "missing command field"}
}

// StreamType names a websocket subscription.
type StreamType string

const (
	StreamLedger      StreamType = "ledger"
	StreamConsensus   StreamType = "consensus"
	StreamValidations StreamType = "validations"
)

func (s StreamType) valid() bool {
	switch s {
	case StreamLedger, StreamConsensus, StreamValidations:
		return true
	}
	return false
}

// WebSocketCommand is a request over a websocket.
type WebSocketCommand struct {
	Command string          `json:"command"`
	ID      interface{}     `json:"id,omitempty"`
	Streams []StreamType    `json:"streams,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// WebSocketResponse answers a WebSocketCommand.
type WebSocketResponse struct {
	Type    string      `json:"type"`
	ID      interface{} `json:"id,omitempty"`
	Status  string      `json:"status"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"error_message,omitempty"`
}

// ServerInfo is the result of server_info.
type ServerInfo struct {
	NodeID           string `json:"pubkey_validator"`
	Mode             string `json:"server_state"`
	Phase            string `json:"consensus_phase"`
	RoundSeq         uint32 `json:"round_seq"`
	LastClosedSeq    uint32 `json:"closed_ledger_seq"`
	ValidatedSeq     uint32 `json:"validated_ledger_seq"`
	Peers            int    `json:"proposers"`
	Disputes         int    `json:"disputes"`
	CloseResolution  int64  `json:"close_time_resolution"`
	LedgersAccepted  int    `json:"ledgers_accepted"`
	QueueDropped     uint64 `json:"queue_dropped"`
	BadSignatures    uint64 `json:"bad_signatures"`
	EventsDropped    uint64 `json:"events_dropped"`
	TxSetCacheHits   uint64 `json:"txset_cache_hits"`
	DisputeVotesSeen uint64 `json:"dispute_votes"`
}

// ConsensusInfo is the result of consensus_info.
type ConsensusInfo struct {
	Round      uint32 `json:"ledger_seq"`
	Parent     string `json:"previous_ledger"`
	Mode       string `json:"mode"`
	Phase      string `json:"phase"`
	Proposing  bool   `json:"proposing"`
	TxSet      string `json:"our_position,omitempty"`
	CloseTime  int64  `json:"close_time,omitempty"`
	ProposeSeq uint32 `json:"propose_seq"`
	Peers      int    `json:"proposers"`
	Disputes   int    `json:"disputes"`
	Committed  bool   `json:"committed"`
}

// SubmitResult is the result of submit.
type SubmitResult struct {
	TxID     string `json:"tx_id"`
	Accepted bool   `json:"accepted"`
}

// LedgerClosedMessage is published on the ledger stream.
type LedgerClosedMessage struct {
	Type      string `json:"type"`
	Hash      string `json:"ledger_hash"`
	Seq       uint32 `json:"ledger_index"`
	TxCount   int    `json:"txn_count"`
	CloseTime int64  `json:"ledger_time"`
}

// ConsensusMessage is published on the consensus stream.
type ConsensusMessage struct {
	Type      string `json:"type"`
	Seq       uint32 `json:"ledger_seq"`
	Phase     string `json:"consensus,omitempty"`
	Result    string `json:"result,omitempty"`
	TxSet     string `json:"txset,omitempty"`
	Proposers int    `json:"proposers,omitempty"`
	Agreed    *bool  `json:"close_time_agreed,omitempty"`
}

// ValidationMessage is published on the validations stream.
type ValidationMessage struct {
	Type      string `json:"type"`
	Hash      string `json:"ledger_hash"`
	Seq       uint32 `json:"ledger_index"`
	NodeID    string `json:"validation_public_key"`
	SignTime  int64  `json:"signing_time"`
	Full      bool   `json:"full"`
	Signature string `json:"signature"`
}
