// ============================================================================
// API SERVER TESTS - Chi Router Based
// ============================================================================
//
// Tests call through the full router (ServeHTTP) so chi URL parameters,
// middleware and the per-kind instrumentation are exercised.
//
// TEST PATTERNS:
//   - setupTestServer: broker + API server in a temp directory
//   - doRequest: httptest.NewRecorder() + router.ServeHTTP()
//   - Error responses are checked for both status and machine-readable code
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewc773/kafka-lite/internal/broker"
	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/storage"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// idleLeader is a leader that never answers, so followers stay put.
type idleLeader struct{}

var errLeaderUnreachable = errors.New("leader unreachable")

func (idleLeader) GetOffset(context.Context, string) (int64, error) {
	return 0, errLeaderUnreachable
}
func (idleLeader) ReplicaFetch(context.Context, string, int64, int) ([]storage.Record, error) {
	return nil, nil
}
func (idleLeader) ListTopics(context.Context) ([]string, error) { return nil, nil }

// setupTestServer creates a leader broker and its API server.
func setupTestServer(t *testing.T) (*Server, *broker.Broker) {
	t.Helper()
	return setupServerWithConfig(t, func(*broker.Config) {})
}

func setupServerWithConfig(t *testing.T, mutate func(*broker.Config)) (*Server, *broker.Broker) {
	t.Helper()

	cfg := broker.DefaultConfig()
	cfg.NodeID = "test-node"
	cfg.DataDir = t.TempDir()
	cfg.LeaderClient = func(cluster.BrokerAddress) cluster.LeaderClient { return idleLeader{} }
	mutate(&cfg)

	b, err := broker.NewBroker(cfg, nil, quietLogger())
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop() })

	return NewServer(b, DefaultServerConfig(), quietLogger()), b
}

func setupFollowerServer(t *testing.T) (*Server, *broker.Broker) {
	t.Helper()
	return setupServerWithConfig(t, func(cfg *broker.Config) {
		cfg.IsLeader = false
		cfg.Leader = cluster.MustParseBrokerAddress("127.0.0.1:19092")
	})
}

// doRequest sends a request through the router. body may be nil, a string
// (sent verbatim) or a value encoded as JSON.
func doRequest(server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody io.Reader = http.NoBody
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(v)
	default:
		data, _ := json.Marshal(v)
		reqBody = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, code, decode(t, rec)["code"])
}

func produce(t *testing.T, server *Server, topic, value string) int64 {
	t.Helper()
	rec := doRequest(server, http.MethodPost, "/topics/"+topic+"/records", produceRequest{Value: []byte(value)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return int64(decode(t, rec)["offset"].(float64))
}

// ============================================================================
// DATA PLANE
// ============================================================================

func TestProduceConsume(t *testing.T) {
	server, _ := setupTestServer(t)

	for i, v := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(i), produce(t, server, "orders", v))
	}

	rec := doRequest(server, http.MethodGet, "/topics/orders/records/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.Offset)
	assert.Equal(t, "b", string(got.Value))
	assert.Nil(t, got.Key)
	assert.NotZero(t, got.Timestamp)
}

func TestProduceWithKey(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, http.MethodPost, "/topics/orders/records", produceRequest{Key: []byte("user-1"), Value: []byte("v")})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(server, http.MethodGet, "/topics/orders/records/0", nil)
	var got recordResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "user-1", string(got.Key))
}

func TestConsumeErrors(t *testing.T) {
	server, _ := setupTestServer(t)
	produce(t, server, "orders", "a")

	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/missing/records/0", nil), http.StatusNotFound, "unknown_topic")
	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/orders/records/5", nil), http.StatusNotFound, "not_found")
	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/orders/records/-1", nil), http.StatusBadRequest, "bad_request")
	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/orders/records/abc", nil), http.StatusBadRequest, "bad_request")
}

func TestProduceErrors(t *testing.T) {
	server, _ := setupTestServer(t)

	requireErrorCode(t, doRequest(server, http.MethodPost, "/topics/bad.name/records", produceRequest{Value: []byte("x")}), http.StatusBadRequest, "invalid_topic")
	requireErrorCode(t, doRequest(server, http.MethodPost, "/topics/orders/records", "{not json"), http.StatusBadRequest, "bad_request")
}

func TestFollowerRejectsWrites(t *testing.T) {
	server, _ := setupFollowerServer(t)

	requireErrorCode(t, doRequest(server, http.MethodPost, "/topics/orders/records", produceRequest{Value: []byte("x")}), http.StatusConflict, "not_leader")
	requireErrorCode(t, doRequest(server, http.MethodPost, "/groups/g/offsets/orders", offsetBody{Offset: 1}), http.StatusConflict, "not_leader")
}

func TestGetOffset(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, http.MethodGet, "/topics/orders/offset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(-1), decode(t, rec)["next_offset"])

	produce(t, server, "orders", "a")
	produce(t, server, "orders", "b")

	rec = doRequest(server, http.MethodGet, "/topics/orders/offset", nil)
	assert.Equal(t, float64(2), decode(t, rec)["next_offset"])
}

func TestReplicaFetchFrames(t *testing.T) {
	server, _ := setupTestServer(t)
	for i := 0; i < 5; i++ {
		produce(t, server, "orders", string(rune('a'+i)))
	}

	rec := doRequest(server, http.MethodGet, "/topics/orders/replica?from=2&max=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	records, err := storage.DecodeFrames(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].Offset)
	assert.Equal(t, "c", string(records[0].Value))
	assert.Equal(t, "d", string(records[1].Value))

	// Past the end is an empty body, not an error.
	rec = doRequest(server, http.MethodGet, "/topics/orders/replica?from=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())

	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/orders/replica", nil), http.StatusBadRequest, "bad_request")
	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/orders/replica?from=0&max=x", nil), http.StatusBadRequest, "bad_request")
	requireErrorCode(t, doRequest(server, http.MethodGet, "/topics/missing/replica?from=0", nil), http.StatusNotFound, "unknown_topic")
}

func TestListTopics(t *testing.T) {
	server, _ := setupTestServer(t)
	produce(t, server, "payments", "a")
	produce(t, server, "orders", "a")

	rec := doRequest(server, http.MethodGet, "/topics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Topics []string `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"orders", "payments"}, resp.Topics)
}

// ============================================================================
// CONSUMER OFFSETS
// ============================================================================

func TestCommitAndFetchOffset(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, http.MethodGet, "/groups/billing/offsets/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(-1), decode(t, rec)["offset"])

	rec = doRequest(server, http.MethodPost, "/groups/billing/offsets/orders", offsetBody{Offset: 42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(server, http.MethodGet, "/groups/billing/offsets/orders", nil)
	assert.Equal(t, float64(42), decode(t, rec)["offset"])

	requireErrorCode(t, doRequest(server, http.MethodPost, "/groups/a:b/offsets/orders", offsetBody{Offset: 1}), http.StatusBadRequest, "bad_request")
}

// ============================================================================
// CONTROL PLANE
// ============================================================================

func TestPromoteDemoteUpdateLeader(t *testing.T) {
	server, b := setupTestServer(t)

	rec := doRequest(server, http.MethodPost, "/admin/promote", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PROMOTED_SUCCESSFULLY", decode(t, rec)["status"])

	// A leader cannot be redirected.
	requireErrorCode(t, doRequest(server, http.MethodPost, "/admin/leader", addressRequest{Host: "127.0.0.1", Port: 19093}), http.StatusConflict, "not_follower")

	rec = doRequest(server, http.MethodPost, "/admin/demote", addressRequest{Host: "127.0.0.1", Port: 19093})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DEMOTED_SUCCESSFULLY", decode(t, rec)["status"])
	assert.Equal(t, broker.RoleFollower, b.Role())

	rec = doRequest(server, http.MethodPost, "/admin/leader", addressRequest{Host: "127.0.0.1", Port: 19094})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LEADER_UPDATED", decode(t, rec)["status"])

	leader, following := b.Leader()
	assert.True(t, following)
	assert.Equal(t, cluster.MustParseBrokerAddress("127.0.0.1:19094"), leader)

	requireErrorCode(t, doRequest(server, http.MethodPost, "/admin/demote", addressRequest{Host: "", Port: 0}), http.StatusBadRequest, "bad_request")
	requireErrorCode(t, doRequest(server, http.MethodPost, "/admin/leader", "nope"), http.StatusBadRequest, "bad_request")
}

// ============================================================================
// OPERATIONS
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := doRequest(server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestStatsEndpoint(t *testing.T) {
	server, _ := setupFollowerServer(t)

	rec := doRequest(server, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, "follower", resp["role"])
	assert.Equal(t, "127.0.0.1:19092", resp["leader"])
	assert.Regexp(t, `^UPTIME=\d+s, MSG_COUNT=0, MSG_PER_SEC=\d+\.\d{2}, LAST_LATENCY=\d+ms, DISK_USAGE=\d+KB$`, resp["stats"])
}

func TestMetricsEndpointAndRequestCounters(t *testing.T) {
	server, b := setupTestServer(t)
	produce(t, server, "orders", "a")
	doRequest(server, http.MethodGet, "/topics/missing/records/0", nil)

	requests := b.Metrics().Broker.Requests
	assert.Equal(t, float64(1), testutil.ToFloat64(requests.WithLabelValues(KindProduce.String(), "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(requests.WithLabelValues(KindConsume.String(), "404")))

	rec := doRequest(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kafkalite_broker_records_produced_total")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	server, _ := setupTestServer(t)

	assert.Equal(t, http.StatusNotFound, doRequest(server, http.MethodGet, "/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(server, http.MethodDelete, "/topics", nil).Code)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "replica_fetch", KindReplicaFetch.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())

	server, _ := setupTestServer(t)
	seen := make(map[Kind]bool)
	for _, rt := range server.routes() {
		assert.False(t, seen[rt.kind], "kind %s routed twice", rt.kind)
		seen[rt.kind] = true
	}
	assert.Len(t, seen, len(kindNames))
}
