package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/approvals"
	"github.com/codeready-toolchain/agentkernel/pkg/claims"
	"github.com/codeready-toolchain/agentkernel/pkg/config"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/httpapi"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
	"github.com/codeready-toolchain/agentkernel/pkg/rooms"
	"github.com/codeready-toolchain/agentkernel/pkg/runs"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	pool := testutil.NewPool(t)

	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)

	issuer, err := security.NewCapabilityIssuer([]byte("test-signing-key-0123456789"), pool.Pool)
	require.NoError(t, err)
	egressLimiter := security.NewEgressLimiter(nil, pool.Pool, 1000)
	base := policy.NewBasePolicy(pool.Pool, false)
	registry, err := policy.NewRegistry()
	require.NoError(t, err)
	gate := policy.NewGate(registry, principals, issuer, egressLimiter, base, store, nil, config.ModeEnforce, nil)

	roomsEngine := projector.NewEngine(pool.Pool, projector.RoomsProjector{})
	roomsSvc := rooms.NewService(pool.Pool, store, roomsEngine)

	approvalsEngine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})
	approvalsSvc := approvals.NewService(pool.Pool, store, approvalsEngine)

	runsEngine := projector.NewEngine(pool.Pool, projector.RunsProjector{})
	runsSvc := runs.NewService(pool.Pool, store, runsEngine)
	coord := claims.NewCoordinator(pool.Pool, store, runsEngine, claims.Config{
		LeaseDuration:        0,
		HeartbeatMinInterval: 0,
		MaxClaimAge:          0,
	}, nil)

	return httpapi.NewServer(httpapi.Deps{
		Rooms:     roomsSvc,
		Approvals: approvalsSvc,
		Runs:      runsSvc,
		Claims:    coord,
		Gate:      gate,
		Events:    store,
	})
}

func doJSON(t *testing.T, srv *httpapi.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_RoomThreadMessageRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/rooms", map[string]any{
		"workspace_id": "ws-1", "title": "incident review",
		"creator": map[string]string{"kind": "user", "actor_id": "u1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	roomID, _ := created["room_id"].(string)
	require.NotEmpty(t, roomID)

	rec = doJSON(t, srv, http.MethodGet, "/v1/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/rooms/"+roomID+"/messages", map[string]any{
		"workspace_id": "ws-1", "body": "hello",
		"author": map[string]string{"kind": "user", "actor_id": "u1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/rooms/"+roomID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	msgs, ok := listed["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
}

func TestServer_RunLifecycleThroughClaimAndComplete(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", map[string]any{
		"workspace_id": "ws-2", "goal": "investigate",
		"creator": map[string]string{"kind": "agent", "actor_id": "a1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	runID, _ := created["run_id"].(string)
	require.NotEmpty(t, runID)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/claim", map[string]any{
		"workspace_id": "ws-2", "actor_id": "worker-1", "batch_limit": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var claimResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claimResp))
	claimedList, ok := claimResp["claimed"].([]any)
	require.True(t, ok)
	require.Len(t, claimedList, 1)
	claimRow := claimedList[0].(map[string]any)
	claimToken, _ := claimRow["ClaimToken"].(string)
	require.NotEmpty(t, claimToken)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+runID+"/start", map[string]any{
		"workspace_id": "ws-2",
		"claim_token":  claimToken,
		"actor":        map[string]string{"kind": "agent", "actor_id": "worker-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+runID+"/complete", map[string]any{
		"workspace_id": "ws-2", "evidence_ref": "s3://bucket/evidence.json",
		"claim_token": claimToken,
		"actor":       map[string]string{"kind": "agent", "actor_id": "worker-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+runID+"/release", map[string]any{
		"claim_token": claimToken, "final_state": "completed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	run := fetched["run"].(map[string]any)
	require.Equal(t, "succeeded", run["status"])
}

func TestServer_PolicyEvaluateRequiresApproval(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/policy/evaluate", map[string]any{
		"action":             "external.write",
		"workspace_id":       "ws-3",
		"actor_principal_id": "principal-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "require_approval", resp["effect"])
}

func TestServer_SchemaVersionRejectedOnQueryParam(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms?workspace_id=ws-1&schema_version=9.9", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
