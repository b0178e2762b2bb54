package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("not found")

// Entry is one ledger entry as served by the API.
type Entry struct {
	Index     uint64         `json:"index"`
	Timestamp time.Time      `json:"timestamp"`
	ActorID   string         `json:"actorId"`
	ActorRole string         `json:"actorRole"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
}

// Overview holds the chain length and root hash.
type Overview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Verification is the result of a server-side chain walk.
type Verification struct {
	Intact   bool    `json:"intact"`
	State    string  `json:"state"`
	Length   int     `json:"length"`
	Checked  int     `json:"checked"`
	BrokenAt *uint64 `json:"brokenAt"`
	Reason   string  `json:"reason,omitempty"`
	Expected string  `json:"expected,omitempty"`
	Actual   string  `json:"actual,omitempty"`
}

// AppendRequest is the payload for Append.
type AppendRequest struct {
	Action   string         `json:"action"`
	Resource string         `json:"resource,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// CustodyRecord is the fingerprint stored at evidence intake.
type CustodyRecord struct {
	ID           string    `json:"id"`
	ArtifactRef  string    `json:"artifactRef"`
	Algorithm    string    `json:"algorithm"`
	StoredDigest string    `json:"storedDigest"`
	RecordedAt   time.Time `json:"recordedAt"`
	RecordedBy   string    `json:"recordedBy"`
}

// CustodyResult is the outcome of a custody check.
type CustodyResult struct {
	RecordID  string    `json:"recordId"`
	Verified  bool      `json:"verified"`
	CheckedAt time.Time `json:"checkedAt"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason,omitempty"`
}

// Event is a message received from the live stream.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Entry     *Entry            `json:"entry,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Client talks to the audit ledger HTTP API.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	actorHeader http.Header
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an actor token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithActor sends development actor headers, for servers running without a
// signing secret.
func WithActor(id, badge, role string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(id) == "" && strings.TrimSpace(badge) == "" {
			return errors.New("actor id or badge required")
		}
		c.actorHeader = http.Header{}
		c.actorHeader.Set("X-Actor-Id", id)
		c.actorHeader.Set("X-Actor-Badge", badge)
		c.actorHeader.Set("X-Actor-Role", role)
		return nil
	}
}

// New creates a Client for the service at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Overview returns the chain length and root hash.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var out Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Entries returns up to limit entries, newest first, skipping offset.
func (c *Client) Entries(ctx context.Context, limit, offset int) ([]Entry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/ledger/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Entry returns the entry at index, or ErrNotFound.
func (c *Client) Entry(ctx context.Context, index uint64) (*Entry, error) {
	var out Entry
	path := "/api/v1/ledger/entries/" + strconv.FormatUint(index, 10)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Append records an action as the authenticated actor.
func (c *Client) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	var out Entry
	if err := c.call(ctx, http.MethodPost, "/api/v1/ledger/entries", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify asks the server to walk the chain.
func (c *Client) Verify(ctx context.Context) (*Verification, error) {
	var out Verification
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fingerprint uploads an artifact and returns its custody record. algorithm
// may be empty for the server default.
func (c *Client) Fingerprint(ctx context.Context, artifactRef string, content []byte, algorithm string) (*CustodyRecord, error) {
	body := map[string]string{
		"artifact_ref":   artifactRef,
		"content_base64": base64.StdEncoding.EncodeToString(content),
		"algorithm":      algorithm,
	}
	var out CustodyRecord
	if err := c.call(ctx, http.MethodPost, "/api/v1/custody/records", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyCustody checks a custody record. An unknown record is reported in
// the result, not as an error.
func (c *Client) VerifyCustody(ctx context.Context, recordID string) (*CustodyResult, error) {
	var out CustodyResult
	path := "/api/v1/custody/records/" + url.PathEscape(recordID) + "/verify"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tail streams appended entries to fn until ctx is cancelled, the
// connection drops or fn returns an error.
func (c *Client) Tail(ctx context.Context, fn func(Event) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/ledger/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, c.headers())
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.bearerToken != "" {
		h.Set("Authorization", "Bearer "+c.bearerToken)
	}
	for k, v := range c.actorHeader {
		h[k] = v
	}
	return h
}

// call performs a JSON request and decodes the response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header = c.headers()
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(respBody))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", errorMessage(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage extracts {"error": "..."} from an API error body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
