package wavelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal Waveline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Status mirrors the orchestrator status.
type Status struct {
	State            string  `json:"state"`
	Mode             string  `json:"mode"`
	RunID            string  `json:"run_id,omitempty"`
	CurrentWaveIndex int     `json:"current_wave_index"`
	TotalWaves       int     `json:"total_waves"`
	EndlessRound     int     `json:"endless_round,omitempty"`
	LiveEnemyCount   int     `json:"live_enemy_count"`
	ActiveTasks      int     `json:"active_tasks"`
	ElapsedTime      float64 `json:"elapsed_time"`
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SpawnPoint is one spawner of the ring.
type SpawnPoint struct {
	Index    int     `json:"index"`
	Position Vec3    `json:"position"`
	Forward  Vec3    `json:"forward"`
	Yaw      float64 `json:"yaw"`
}

type SpawnTask struct {
	Spawner  int     `json:"spawner"`
	Count    int     `json:"count"`
	Interval float64 `json:"interval"`
}

type Wave struct {
	Tasks []SpawnTask `json:"tasks"`
}

// Warning is a catalogue correction made during normalization.
type Warning struct {
	Wave    int    `json:"wave"`
	Task    int    `json:"task"`
	Message string `json:"message"`
}

type Catalog struct {
	Waves        []Wave    `json:"waves"`
	Cursor       int       `json:"cursor"`
	Mode         string    `json:"mode"`
	EndlessRound int       `json:"endless_round"`
	Pending      bool      `json:"pending"`
	Warnings     []Warning `json:"warnings"`
}

// Entity is a live enemy.
type Entity struct {
	Handle    string `json:"handle"`
	From      *Vec3  `json:"from,omitempty"`
	SpawnedAt string `json:"spawned_at,omitempty"`
	ArrivesAt string `json:"arrives_at,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	RunID    string         `json:"run_id,omitempty"`
	Wave     int            `json:"wave"`
	EntityID string         `json:"entity_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// Run is one played wave.
type Run struct {
	ID         string  `json:"id"`
	Wave       int     `json:"wave"`
	Mode       string  `json:"mode"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Outcome    string  `json:"outcome"`
	Emitted    int     `json:"emitted"`
	Skipped    int     `json:"skipped"`
	Removed    int     `json:"removed"`
}

// Frame is one message of the live stream.
type Frame struct {
	Kind   string  `json:"kind"`
	Event  *Event  `json:"event,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// StartNextWave starts the next catalogue wave and returns the new status.
func (c *Client) StartNextWave(ctx context.Context) (Status, error) {
	return c.control(ctx, "waves/next")
}

func (c *Client) StopWave(ctx context.Context) (Status, error) {
	return c.control(ctx, "waves/stop")
}

func (c *Client) Reset(ctx context.Context) (Status, error) {
	return c.control(ctx, "waves/reset")
}

func (c *Client) control(ctx context.Context, endpoint string) (Status, error) {
	var resp struct {
		Status Status `json:"status"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Status, err
}

func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var resp Catalog
	err := c.do(ctx, http.MethodGet, "catalog", nil, &resp)
	return resp, err
}

func (c *Client) Spawners(ctx context.Context) ([]SpawnPoint, error) {
	var resp struct {
		Items []SpawnPoint `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "spawners", nil, &resp)
	return resp.Items, err
}

func (c *Client) Entities(ctx context.Context) ([]Entity, error) {
	var resp struct {
		Items []Entity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "entities", nil, &resp)
	return resp.Items, err
}

// RemoveEntity reports an entity as gone from play.
func (c *Client) RemoveEntity(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodDelete, "entities/"+url.PathEscape(handle), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "", "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor, eventType string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	var resp struct {
		Items []Run `json:"items"`
	}
	endpoint := "runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("runs?limit=%d", limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Stream connects to the live websocket and calls fn for every frame until
// ctx is done, the server closes the connection or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(Frame) error) error {
	u, err := url.Parse(c.base() + "/v1/stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	switch {
	case c.BearerToken != "":
		header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		header.Set("X-Api-Key", c.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeAPIError(resp)
		}
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
