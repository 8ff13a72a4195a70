package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/rcld/internal/core/consensus"
	"github.com/LeJamon/rcld/internal/core/txset"
	"github.com/LeJamon/rcld/internal/logging"
	"github.com/LeJamon/rcld/internal/node"
)

type fakeBackend struct {
	mu        sync.Mutex
	submitted [][]byte
}

func (b *fakeBackend) NodeID() consensus.NodeID { return consensus.NodeID{0x02, 0xab} }

func (b *fakeBackend) Stats() node.Stats {
	return node.Stats{Accepted: 4, LastClosedSeq: 5, ValidatedSeq: 4, BadSignatures: 1}
}

func (b *fakeBackend) RoundState() consensus.RoundState {
	return consensus.RoundState{
		Round:      consensus.RoundID{Seq: 6, Parent: consensus.LedgerID{1}},
		Mode:       consensus.ModeProposing,
		Phase:      consensus.PhaseEstablish,
		Position:   consensus.Position{TxSet: consensus.TxSetID{9}, CloseTime: time.Unix(1700000000, 0), ProposeSeq: 2},
		Peers:      3,
		Resolution: 30 * time.Second,
	}
}

func (b *fakeBackend) Submit(blob []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.submitted {
		if bytes.Equal(s, blob) {
			return false
		}
	}
	b.submitted = append(b.submitted, blob)
	return true
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(DefaultConfig(), &fakeBackend{}, logging.NewTestEntry(t, "rpc"))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.WebSocket().CloseAll()
		ts.Close()
	})
	return srv, ts
}

func post(t *testing.T, url, body string) map[string]interface{} {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Result map[string]interface{} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Result
}

func TestServerInfo(t *testing.T) {
	_, ts := newTestServer(t)

	res := post(t, ts.URL, `{"method":"server_info"}`)
	assert.Equal(t, "success", res["status"])
	assert.Equal(t, "establish", strings.ToLower(res["consensus_phase"].(string)))
	assert.EqualValues(t, 5, res["closed_ledger_seq"])
	assert.EqualValues(t, 30, res["close_time_resolution"])
	assert.EqualValues(t, 1, res["bad_signatures"])

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsensusInfo(t *testing.T) {
	_, ts := newTestServer(t)

	res := post(t, ts.URL, `{"method":"consensus_info"}`)
	assert.Equal(t, "success", res["status"])
	assert.EqualValues(t, 6, res["ledger_seq"])
	assert.Equal(t, true, res["proposing"])
	assert.Equal(t, consensus.TxSetID{9}.String(), res["our_position"])
}

func TestSubmit(t *testing.T) {
	_, ts := newTestServer(t)
	blob := []byte("payment")
	body := `{"method":"submit","params":[{"tx_blob":"` + hex.EncodeToString(blob) + `"}]}`

	res := post(t, ts.URL, body)
	assert.Equal(t, "success", res["status"])
	assert.Equal(t, true, res["accepted"])
	assert.Equal(t, txset.TxIDFor(blob).String(), res["tx_id"])

	res = post(t, ts.URL, body)
	assert.Equal(t, false, res["accepted"])

	res = post(t, ts.URL, `{"method":"submit","params":[{"tx_blob":"zz"}]}`)
	assert.Equal(t, "error", res["status"])
	assert.Equal(t, "invalidParams", res["error"])
}

func TestRequestErrors(t *testing.T) {
	_, ts := newTestServer(t)

	res := post(t, ts.URL, `{"method":"no_such_thing"}`)
	assert.Equal(t, "unknownCmd", res["error"])

	res = post(t, ts.URL, `{}`)
	assert.Equal(t, "missingCommand", res["error"])

	res = post(t, ts.URL, `{not json`)
	assert.Equal(t, "jsonInvalid", res["error"])
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var out map[string]interface{}
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWebSocketStreams(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"command": "subscribe",
		"id":      1,
		"streams": []string{"ledger", "validations"},
	}))
	resp := readJSON(t, conn)
	assert.Equal(t, "success", resp["status"])
	assert.EqualValues(t, 1, resp["id"])
	assert.Equal(t, 1, srv.WebSocket().Subscribers(StreamLedger))
	assert.Zero(t, srv.WebSocket().Subscribers(StreamConsensus))

	// nobody listens to the consensus stream
	srv.OnEvent(&consensus.PhaseChangedEvent{NewPhase: consensus.PhaseEstablish})
	srv.OnEvent(&consensus.LedgerAcceptedEvent{
		LedgerID:  consensus.LedgerID{7},
		LedgerSeq: 12,
		TxCount:   3,
		CloseTime: time.Unix(1700000000, 0),
	})

	msg := readJSON(t, conn)
	assert.Equal(t, "ledgerClosed", msg["type"])
	assert.EqualValues(t, 12, msg["ledger_index"])
	assert.EqualValues(t, 3, msg["txn_count"])
	assert.Equal(t, consensus.LedgerID{7}.String(), msg["ledger_hash"])

	srv.OnEvent(&consensus.ValidationReceivedEvent{Validation: consensus.Validation{
		LedgerID: consensus.LedgerID{7}, LedgerSeq: 12, Full: true, Signature: []byte{1, 2},
	}})
	msg = readJSON(t, conn)
	assert.Equal(t, "validationReceived", msg["type"])
	assert.Equal(t, "0102", msg["signature"])
}

func TestWebSocketCommands(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"command": "server_info", "id": "a"}))
	resp := readJSON(t, conn)
	assert.Equal(t, "success", resp["status"])
	result := resp["result"].(map[string]interface{})
	assert.EqualValues(t, 6, result["round_seq"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"command": "subscribe", "streams": []string{"gossip"}}))
	resp = readJSON(t, conn)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "malformedStream", resp["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"command": "subscribe"}))
	resp = readJSON(t, conn)
	assert.Equal(t, "invalidParams", resp["error"])
}
