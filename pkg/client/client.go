// =============================================================================
// KAFKA-LITE GO CLIENT - HTTP CLIENT FOR EVERY BROKER RPC
// =============================================================================
//
// One Client talks to one broker. It is used by:
//
//   ┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐
//   │  kafkalite-cli   │   │ replica fetchers │   │ controller       │
//   │ produce/consume  │   │ offset + fetch   │   │ promote/demote   │
//   └────────┬─────────┘   └────────┬─────────┘   └────────┬─────────┘
//            └──────────────────────┼──────────────────────┘
//                                   ▼
//                          ┌──────────────────┐
//                          │     Client       │  ◄── This file
//                          └────────┬─────────┘
//                                   │ HTTP/JSON (+ binary replica frames)
//                                   ▼
//                               broker API
//
// ERRORS:
// Broker error bodies carry a machine-readable code. Known codes map to the
// sentinel errors below so callers can use errors.Is:
//
//   not_leader      → ErrNotLeader
//   not_follower    → ErrNotFollower
//   unknown_topic   → ErrUnknownTopic
//   offset_too_low  → ErrOffsetTooLow
//   invalid_topic   → ErrInvalidTopic
//
// Consume of an offset that has not been written yet returns (nil, nil).
//
// USAGE:
//
//   c := client.New(client.DefaultConfig("localhost:9092"))
//   offset, err := c.Produce(ctx, "orders", []byte("k"), []byte("v"))
//   rec, err := c.Consume(ctx, "orders", offset)
//
// =============================================================================

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andrewc773/kafka-lite/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotLeader means the broker is a follower and rejected a write
	ErrNotLeader = errors.New("broker is not the leader")

	// ErrNotFollower means a leader received a follower-only request
	ErrNotFollower = errors.New("broker is not a follower")

	// ErrUnknownTopic means the topic does not exist on the broker
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrOffsetTooLow means the offset was removed by retention
	ErrOffsetTooLow = errors.New("offset too low")

	// ErrInvalidTopic means the topic name was rejected
	ErrInvalidTopic = errors.New("invalid topic name")
)

// APIError is a broker error response that maps to no sentinel.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

var codeErrors = map[string]error{
	"not_leader":     ErrNotLeader,
	"not_follower":   ErrNotFollower,
	"unknown_topic":  ErrUnknownTopic,
	"offset_too_low": ErrOffsetTooLow,
	"invalid_topic":  ErrInvalidTopic,
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the client configuration.
type Config struct {
	// Address is the broker address (host:port)
	Address string

	// Timeout bounds each request when the context has no deadline
	Timeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(address string) Config {
	return Config{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is an HTTP client bound to one broker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. Address may be "host:port" or a full http URL.
func New(config Config) *Client {
	base := config.Address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Address returns the broker base URL.
func (c *Client) Address() string {
	return c.baseURL
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// StatsResponse is the broker's STATS reply.
type StatsResponse struct {
	Stats  string `json:"stats"`
	Role   string `json:"role"`
	Leader string `json:"leader"`
}

type produceRequest struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type produceResponse struct {
	Offset int64 `json:"offset"`
}

type recordResponse struct {
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	Key       []byte `json:"key"`
	Value     []byte `json:"value"`
}

type offsetResponse struct {
	NextOffset int64 `json:"next_offset"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

type addressRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type groupOffset struct {
	Offset int64 `json:"offset"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// DATA PLANE
// =============================================================================

// Produce appends a record and returns its offset.
func (c *Client) Produce(ctx context.Context, topic string, key, value []byte) (int64, error) {
	var resp produceResponse
	if err := c.doJSON(ctx, http.MethodPost, topicPath(topic, "records"), produceRequest{Key: key, Value: value}, &resp); err != nil {
		return 0, fmt.Errorf("produce to %s: %w", topic, err)
	}
	return resp.Offset, nil
}

// Consume reads the record at offset. Returns nil, nil when it does not exist yet.
func (c *Client) Consume(ctx context.Context, topic string, offset int64) (*storage.Record, error) {
	var resp recordResponse
	err := c.doJSON(ctx, http.MethodGet, topicPath(topic, "records", strconv.FormatInt(offset, 10)), nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "not_found" {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume %s@%d: %w", topic, offset, err)
	}
	return &storage.Record{
		Offset:    resp.Offset,
		Timestamp: resp.Timestamp,
		Key:       resp.Key,
		Value:     resp.Value,
	}, nil
}

// GetOffset returns the topic's next offset, or -1 when the broker does not know it.
func (c *Client) GetOffset(ctx context.Context, topic string) (int64, error) {
	var resp offsetResponse
	if err := c.doJSON(ctx, http.MethodGet, topicPath(topic, "offset"), nil, &resp); err != nil {
		return 0, fmt.Errorf("get offset of %s: %w", topic, err)
	}
	return resp.NextOffset, nil
}

// ReplicaFetch reads up to max records starting at from, decoded from CRC frames.
func (c *Client) ReplicaFetch(ctx context.Context, topic string, from int64, max int) ([]storage.Record, error) {
	query := url.Values{}
	query.Set("from", strconv.FormatInt(from, 10))
	query.Set("max", strconv.Itoa(max))

	resp, err := c.do(ctx, http.MethodGet, topicPath(topic, "replica")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("replica fetch %s@%d: %w", topic, from, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read replica frames: %w", err)
	}
	records, err := storage.DecodeFrames(data)
	if err != nil {
		return nil, fmt.Errorf("decode replica frames: %w", err)
	}
	if len(records) > 0 && records[0].Offset != from {
		return nil, fmt.Errorf("%w: batch starts at %d, requested %d", storage.ErrCorruptRecord, records[0].Offset, from)
	}
	return records, nil
}

// ListTopics returns the broker's topic names.
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	var resp topicsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/topics", nil, &resp); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return resp.Topics, nil
}

// CommitOffset stores a consumer group's offset for a topic.
func (c *Client) CommitOffset(ctx context.Context, group, topic string, offset int64) error {
	if err := c.doJSON(ctx, http.MethodPost, groupPath(group, topic), groupOffset{Offset: offset}, nil); err != nil {
		return fmt.Errorf("commit %s/%s: %w", group, topic, err)
	}
	return nil
}

// FetchOffset returns a consumer group's committed offset, or -1.
func (c *Client) FetchOffset(ctx context.Context, group, topic string) (int64, error) {
	var resp groupOffset
	if err := c.doJSON(ctx, http.MethodGet, groupPath(group, topic), nil, &resp); err != nil {
		return 0, fmt.Errorf("fetch offset %s/%s: %w", group, topic, err)
	}
	return resp.Offset, nil
}

// Stats returns the broker's stats line and role.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &resp, nil
}

// Health checks that the broker is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// =============================================================================
// CONTROL PLANE
// =============================================================================

// Promote turns the broker into the leader.
func (c *Client) Promote(ctx context.Context) error {
	return c.admin(ctx, "/admin/promote", nil)
}

// Demote turns a leader into a follower of host:port.
func (c *Client) Demote(ctx context.Context, host string, port int) error {
	return c.admin(ctx, "/admin/demote", &addressRequest{Host: host, Port: port})
}

// UpdateLeader points a follower at a new leader.
func (c *Client) UpdateLeader(ctx context.Context, host string, port int) error {
	return c.admin(ctx, "/admin/leader", &addressRequest{Host: host, Port: port})
}

func (c *Client) admin(ctx context.Context, path string, body *addressRequest) error {
	var req interface{}
	if body != nil {
		req = body
	}
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func topicPath(topic string, parts ...string) string {
	path := "/topics/" + url.PathEscape(topic)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

func groupPath(group, topic string) string {
	return "/groups/" + url.PathEscape(group) + "/offsets/" + url.PathEscape(topic)
}

// doJSON sends reqBody (if any) as JSON and decodes the response into respBody (if any).
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes a request and converts non-2xx responses into errors.
// The caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "unknown", Message: strings.TrimSpace(string(data))}
	}
	if sentinel, ok := codeErrors[body.Code]; ok {
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Error}
}
