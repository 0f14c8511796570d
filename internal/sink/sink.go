package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

const (
	logsPath         = "/api/dtakologs"
	currentListPath  = "/api/dtakologs/currentListAll"
	defaultChunkSize = 500
	maxReceiptBody   = 512
)

// Sink accepts normalized records and reports how many it holds.
type Sink interface {
	Submit(ctx context.Context, records []telemetry.Record) (Receipt, error)
	Count(ctx context.Context) (int, error)
}

// Receipt summarizes one submission.
type Receipt struct {
	RecordsAdded int    `json:"records_added"`
	Requests     int    `json:"requests"`
	Status       int    `json:"status"`
	Body         string `json:"body,omitempty"`
}

type Config struct {
	BaseURL   string
	ChunkSize int
}

// Client writes to the datastore's dtakologs API.
type Client struct {
	cfg  Config
	http *httpx.Client
}

func NewClient(cfg Config, opts ...httpx.Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sink: base url is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Client{cfg: cfg, http: httpx.NewClient(opts...)}, nil
}

// Submit posts the records as JSON arrays of at most ChunkSize records. It
// stops at the first failed chunk; the receipt counts what was accepted.
func (c *Client) Submit(ctx context.Context, records []telemetry.Record) (Receipt, error) {
	var receipt Receipt
	if len(records) == 0 {
		return receipt, nil
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=utf-8")
	target := httpx.JoinURL(c.cfg.BaseURL, logsPath)

	for start := 0; start < len(records); start += c.cfg.ChunkSize {
		end := start + c.cfg.ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		payload, err := json.Marshal(chunk)
		if err != nil {
			return receipt, fmt.Errorf("sink: marshal: %w", err)
		}

		body, status, err := c.http.Do(ctx, http.MethodPost, target, payload, header)
		receipt.Requests++
		receipt.Status = status
		if err != nil {
			return receipt, fmt.Errorf("sink submit failed: %w", err)
		}
		if len(body) > maxReceiptBody {
			body = body[:maxReceiptBody]
		}
		receipt.Body = string(body)
		receipt.RecordsAdded += len(chunk)
	}
	return receipt, nil
}

// Count returns the number of records the datastore currently lists.
func (c *Client) Count(ctx context.Context) (int, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	body, _, err := c.http.Do(ctx, http.MethodGet, httpx.JoinURL(c.cfg.BaseURL, currentListPath), nil, header)
	if err != nil {
		return 0, fmt.Errorf("sink count failed: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return 0, fmt.Errorf("sink count decode failed: %w", err)
	}
	return len(items), nil
}
