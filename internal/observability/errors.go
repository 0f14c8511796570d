package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/baxromumarov/telemetry-relay/internal/httpx"
	"github.com/baxromumarov/telemetry-relay/internal/store"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

const (
	ErrorNetwork   = "network"
	ErrorParsing   = "parsing"
	ErrorRateLimit = "rate_limit"
	ErrorRejected  = "rejected"
	ErrorCoercion  = "coercion"
	ErrorStore     = "store"
	ErrorCancel    = "cancel"
	ErrorUnknown   = "unknown"
)

func ClassifyFetchError(err error) string {
	if err == nil {
		return ErrorUnknown
	}
	var fe *httpx.FetchError
	if errors.As(err, &fe) {
		switch {
		case fe.Status == http.StatusTooManyRequests:
			return ErrorRateLimit
		case fe.Status >= 400 && fe.Status < 500:
			return ErrorRejected
		default:
			return ErrorNetwork
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetwork
	}
	return ErrorUnknown
}

func ClassifyError(err error) string {
	if err == nil {
		return ErrorUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCancel
	}
	if errors.Is(err, telemetry.ErrCoercion) {
		return ErrorCoercion
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrorStore
	}
	if kind := ClassifyFetchError(err); kind != ErrorUnknown {
		return kind
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "decode failed") ||
		strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "invalid character") {
		return ErrorParsing
	}
	return ErrorUnknown
}
