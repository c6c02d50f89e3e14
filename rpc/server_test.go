package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stabolut/crypto"
	"stabolut/native/engine"
	"stabolut/native/token"
	"stabolut/state"
	"stabolut/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	ctrl := token.NewController(manager)
	ctrl.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	buf := make([]byte, 20)
	buf[19] = 0x01
	eng := engine.NewEngine(crypto.NewAddress(crypto.SBLPrefix, buf))
	eng.SetState(manager)
	eng.SetToken(ctrl)
	eng.SetStrategy(engine.NewHoldingStrategy())
	eng.SetTreasury(engine.NewReserveTreasury())

	srv := httptest.NewServer(NewServer(ctrl, eng).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReportsSupplyAndEngineState(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		TotalSupply         string   `json:"totalSupply"`
		MaxSupply           string   `json:"maxSupply"`
		TokenPaused         bool     `json:"tokenPaused"`
		EnginePaused        bool     `json:"enginePaused"`
		TotalValueLocked    string   `json:"totalValueLocked"`
		TotalYieldGenerated string   `json:"totalYieldGenerated"`
		CollateralAssets    []string `json:"collateralAssets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "0", status.TotalSupply)
	require.Equal(t, "0", status.TotalValueLocked)
	require.False(t, status.TokenPaused)
	require.False(t, status.EnginePaused)
	require.Empty(t, status.CollateralAssets)
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.Contains(t, text, "stabolut_token_total_supply")
	require.Contains(t, text, "stabolut_engine_total_value_locked")
	require.Contains(t, text, "stabolut_engine_paused")
}
