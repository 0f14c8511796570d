package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

const vehicleDataPath = "/v1/vehicle/data"

// Source supplies raw telemetry batches.
type Source interface {
	Fetch(ctx context.Context) ([]telemetry.RawRecord, error)
}

type Config struct {
	BaseURL    string
	BranchID   string
	FilterID   string
	ForceLogin bool
	// Charset is the encoding of the response body. "shift_jis" is decoded to
	// UTF-8; anything else is read as UTF-8.
	Charset string
}

type vehicleDataRequest struct {
	BranchID   string `json:"branch_id"`
	FilterID   string `json:"filter_id"`
	ForceLogin bool   `json:"force_login"`
}

type vehicleDataResponse struct {
	Data []telemetry.RawRecord `json:"data"`
}

// Client polls the tracking backend's vehicle data endpoint.
type Client struct {
	cfg  Config
	http *httpx.Client
}

func NewClient(cfg Config, opts ...httpx.Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed: base url is required")
	}
	if cfg.FilterID == "" {
		cfg.FilterID = "0"
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("feed: cookie jar: %w", err)
	}
	opts = append([]httpx.Option{httpx.WithCookieJar(jar)}, opts...)

	return &Client{cfg: cfg, http: httpx.NewClient(opts...)}, nil
}

func (c *Client) Fetch(ctx context.Context) ([]telemetry.RawRecord, error) {
	payload, err := json.Marshal(vehicleDataRequest{
		BranchID:   c.cfg.BranchID,
		FilterID:   c.cfg.FilterID,
		ForceLogin: c.cfg.ForceLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("feed: marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	body, _, err := c.http.Do(ctx, http.MethodPost, httpx.JoinURL(c.cfg.BaseURL, vehicleDataPath), payload, header)
	if err != nil {
		return nil, fmt.Errorf("feed fetch failed: %w", err)
	}

	body, err = decodeCharset(body, c.cfg.Charset)
	if err != nil {
		return nil, fmt.Errorf("feed decode failed: %w", err)
	}
	return DecodeRecords(body)
}

// DecodeRecords accepts either {"data": [...]} or a bare JSON array. Numbers
// are kept as json.Number so they reach the normalizer unrounded.
func DecodeRecords(body []byte) ([]telemetry.RawRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []telemetry.RawRecord{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var records []telemetry.RawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("feed decode failed: %w", err)
		}
		return nonNil(records), nil
	}

	var resp vehicleDataResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("feed decode failed: %w", err)
	}
	return nonNil(resp.Data), nil
}

func nonNil(records []telemetry.RawRecord) []telemetry.RawRecord {
	out := make([]telemetry.RawRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func decodeCharset(body []byte, charset string) ([]byte, error) {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "_")) {
	case "shift_jis", "sjis", "windows_31j", "cp932":
		return io.ReadAll(transform.NewReader(bytes.NewReader(body), japanese.ShiftJIS.NewDecoder()))
	default:
		return body, nil
	}
}
