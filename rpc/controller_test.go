package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/annchain/dagconsensus/committee"
	"github.com/annchain/dagconsensus/consensus"
	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStatus struct {
	status consensus.Status
	err    error
}

func (f *fixedStatus) Status(context.Context) (consensus.Status, error) {
	return f.status, f.err
}

type fixedSchedule []types.ScheduleVersion

func (f fixedSchedule) ScheduleVersions() []types.ScheduleVersion { return f }

type envelope struct {
	Err  string          `json:"err"`
	Data json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) (http.Handler, *consensus.TransactionConsumer, *fixedStatus) {
	c, keys := committee.MustLocalCommittee(1, committee.EqualStakes(4))
	ctx := consensus.NewContext(0, c, consensus.DefaultParameters(), keys[0], nil)
	client, consumer := consensus.NewTransactionClient(ctx, nil)
	status := &fixedStatus{status: consensus.Status{ClockRound: 12, LastCommitIndex: 5}}
	controller := &RpcController{
		Committee:    c,
		Core:         status,
		Transactions: client,
		Schedule:     fixedSchedule{{StartRound: 10, Scores: []uint64{1, 2, 3, 4}}},
	}
	return controller.Newrouter(), consumer, status
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) (int, envelope) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	if w.Header().Get("Content-Type") != "text/html" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestRpc_StatusAndCommittee(t *testing.T) {
	router, _, status := newTestRouter(t)

	code, env := do(t, router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	var s consensus.Status
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, types.Round(12), s.ClockRound)
	assert.Equal(t, types.CommitIndex(5), s.LastCommitIndex)

	status.err = consensus.ErrShutdown
	code, env = do(t, router, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, consensus.ErrShutdown.Error(), env.Err)

	code, env = do(t, router, http.MethodGet, "/committee", nil)
	require.Equal(t, http.StatusOK, code)
	var c CommitteeResponse
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, uint64(1), c.Epoch)
	assert.Equal(t, uint64(3), c.QuorumThreshold)
	assert.Len(t, c.Authorities, 4)

	code, env = do(t, router, http.MethodGet, "/leader_schedule", nil)
	require.Equal(t, http.StatusOK, code)
	var versions []ScheduleVersionResponse
	require.NoError(t, json.Unmarshal(env.Data, &versions))
	assert.Equal(t, []ScheduleVersionResponse{{StartRound: 10, Scores: []uint64{1, 2, 3, 4}}}, versions)
}

func TestRpc_Transactions(t *testing.T) {
	router, consumer, _ := newTestRouter(t)

	code, env := do(t, router, http.MethodPost, "/new_transaction", NewTxRequest{Transactions: []string{"cafe", "00"}})
	require.Equal(t, http.StatusOK, code)
	var submitted TxStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "pending", submitted.Status)

	txs, ack := consumer.Next()
	assert.Equal(t, []types.Transaction{{0xca, 0xfe}, {0x00}}, txs)
	ack(types.BlockRef{Round: 3, Author: 0})

	code, env = do(t, router, http.MethodGet, "/transaction?id="+submitted.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var status TxStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "included", status.Status)
	assert.NotEmpty(t, status.Block)

	code, _ = do(t, router, http.MethodPost, "/new_transaction", NewTxRequest{Transactions: []string{"zz"}})
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = do(t, router, http.MethodPost, "/new_transaction", NewTxRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Err, "empty batch")

	code, _ = do(t, router, http.MethodGet, "/transaction?id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodGet, "/transaction?id=1b4e28ba-2fa1-11d2-883f-0016d3cca427", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
