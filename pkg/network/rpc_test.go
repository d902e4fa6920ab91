package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainspan/go-chainspan/internal/config"
	"github.com/chainspan/go-chainspan/pkg/attestor"
	"github.com/chainspan/go-chainspan/pkg/bridge"
	"github.com/chainspan/go-chainspan/pkg/ledger"
	"github.com/chainspan/go-chainspan/pkg/token"
	"github.com/chainspan/go-chainspan/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *bridge.Simulator) {
	t.Helper()
	sim, err := bridge.NewSimulator(config.Default(), token.NewFake(1))
	require.NoError(t, err)
	srv := NewRPCServer(sim, config.Default().RPC, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sim
}

func decodeResponse(t *testing.T, resp *http.Response, result interface{}) *RPCError {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "2.0", envelope.JSONRPC)
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil {
		require.NoError(t, json.Unmarshal(envelope.Result, result))
	}
	return nil
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestChainStateEndpoint(t *testing.T) {
	require := require.New(t)
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/chain/chain-a/state")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var snap ledger.Snapshot
	require.Nil(decodeResponse(t, resp, &snap))
	require.Equal(types.ChainID("chain-a"), snap.ChainID)
	require.Equal(uint64(1_000_000), snap.TotalSupply)

	resp, err = http.Get(ts.URL + "/chain/chain-x/state")
	require.NoError(err)
	require.Equal(http.StatusNotFound, resp.StatusCode)
	rpcErr := decodeResponse(t, resp, nil)
	require.NotNil(rpcErr)
	require.Equal(http.StatusNotFound, rpcErr.Code)
}

func TestTransferEndpoint(t *testing.T) {
	require := require.New(t)
	ts, sim := newTestServer(t)

	resp := postJSON(t, ts.URL+"/transfer", map[string]interface{}{
		"protocol":    "quorum",
		"sourceChain": "chain-a",
		"destChain":   "chain-b",
		"sender":      "0000000000000000000000000000000000000a11",
		"recipient":   "00000000000000000000000000000000000000bb",
		"amount":      1000,
	})
	require.Equal(http.StatusOK, resp.StatusCode)
	var view types.MessageView
	require.Nil(decodeResponse(t, resp, &view))
	require.Equal("verified", view.Status)
	require.Equal(uint64(1000), view.Amount)

	// The message is retrievable by hash afterwards.
	resp, err := http.Get(ts.URL + "/message/" + view.Hash)
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var fetched types.MessageView
	require.Nil(decodeResponse(t, resp, &fetched))
	require.Equal(view.Hash, fetched.Hash)

	state, err := sim.ChainState("chain-b")
	require.NoError(err)
	require.Equal(uint64(1000), state.TotalSupply)
}

func TestTransferEndpointRejectsBadInput(t *testing.T) {
	require := require.New(t)
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/transfer", map[string]interface{}{
		"protocol":    "teleport",
		"sourceChain": "chain-a",
		"destChain":   "chain-b",
		"sender":      "0000000000000000000000000000000000000a11",
		"recipient":   "00000000000000000000000000000000000000bb",
		"amount":      1,
	})
	require.Equal(http.StatusBadRequest, resp.StatusCode)
	require.NotNil(decodeResponse(t, resp, nil))

	resp = postJSON(t, ts.URL+"/transfer", map[string]interface{}{
		"protocol":    "quorum",
		"sourceChain": "chain-a",
		"destChain":   "chain-b",
		"sender":      "not-hex",
		"recipient":   "00000000000000000000000000000000000000bb",
		"amount":      1,
	})
	require.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/transfer", map[string]interface{}{
		"protocol":    "quorum",
		"sourceChain": "chain-x",
		"destChain":   "chain-b",
		"sender":      "0000000000000000000000000000000000000a11",
		"recipient":   "00000000000000000000000000000000000000bb",
		"amount":      1,
	})
	require.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestFaultInjectionEndpoints(t *testing.T) {
	require := require.New(t)
	ts, sim := newTestServer(t)

	resp := postJSON(t, ts.URL+"/attestor/att-1/fault", map[string]string{"mode": "invalid-signature"})
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Nil(decodeResponse(t, resp, nil))

	resp = postJSON(t, ts.URL+"/attestor/att-9/fault", map[string]string{"mode": "invalid-signature"})
	require.Equal(http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/attestor/att-1/fault", map[string]string{"mode": "explode"})
	require.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/attestors")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var stats []attestor.Stats
	require.Nil(decodeResponse(t, resp, &stats))
	require.Len(stats, 3)
	require.Equal("att-1", stats[0].ID)
	require.Contains(stats[0].Faults, "invalid-signature")

	resp = postJSON(t, ts.URL+"/attestors/reset", struct{}{})
	require.Equal(http.StatusOK, resp.StatusCode)
	for _, st := range sim.AttestorStats() {
		require.Equal("none", st.Faults)
	}
}

func TestCongestionAndGasPriceEndpoints(t *testing.T) {
	require := require.New(t)
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/chain/chain-b/congestion", map[string]string{"level": "heavy"})
	require.Equal(http.StatusOK, resp.StatusCode)
	var setResult map[string]string
	require.Nil(decodeResponse(t, resp, &setResult))
	require.Equal("heavy", setResult["level"])

	resp, err := http.Get(ts.URL + "/chain/chain-b/gasprice")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var price struct {
		GasPrice uint64 `json:"gasPrice"`
	}
	require.Nil(decodeResponse(t, resp, &price))
	require.Equal(uint64(5), price.GasPrice)

	resp = postJSON(t, ts.URL+"/chain/chain-b/congestion", map[string]string{"level": "apocalyptic"})
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestPendingAndConsistencyEndpoints(t *testing.T) {
	require := require.New(t)
	ts, sim := newTestServer(t)

	require.NoError(sim.InjectAttestorFault("att-1", attestor.FaultInvalidSignature))
	require.NoError(sim.InjectAttestorFault("att-2", attestor.FaultInvalidSignature))
	resp := postJSON(t, ts.URL+"/transfer", map[string]interface{}{
		"protocol":    "quorum",
		"sourceChain": "chain-a",
		"destChain":   "chain-b",
		"sender":      "0000000000000000000000000000000000000a11",
		"recipient":   "00000000000000000000000000000000000000bb",
		"amount":      1000,
	})
	require.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	rpcErr := decodeResponse(t, resp, nil)
	require.NotNil(rpcErr)

	resp, err := http.Get(ts.URL + "/chain/chain-b/pending")
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var pending []types.MessageView
	require.Nil(decodeResponse(t, resp, &pending))
	require.Len(pending, 1)
	require.Equal("failed", pending[0].Status)

	resp, err = http.Get(ts.URL + fmt.Sprintf("/consistency?expected=%d", 1_000_000))
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	var report ledger.ConsistencyReport
	require.Nil(decodeResponse(t, resp, &report))
	require.True(report.OK)
	require.Equal(uint64(1_000_000), report.Aggregate)

	resp, err = http.Get(ts.URL + "/consistency?expected=abc")
	require.NoError(err)
	require.Equal(http.StatusBadRequest, resp.StatusCode)
}
