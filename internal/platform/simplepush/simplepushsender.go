// Package simplepush notifies SimplePush endpoints of a new version.
package simplepush

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

// Sender issues one form-encoded PUT per endpoint URL.
type Sender struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSender(httpClient *http.Client, logger *slog.Logger) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Sender{
		httpClient: httpClient,
		logger:     logger.With("component", "SimplePushSender"),
	}
}

// SendMessage PUTs payload to every endpoint. A payload already in "version=N" form
// is sent as is; anything else becomes the value of the version field.
// Every endpoint is attempted. Endpoints answering 404/410 are returned in a
// *push.GoneEndpointsError; other rejections are logged. Transport errors, 429 and
// 5xx answers are the only failures reported as retryable.
func (s *Sender) SendMessage(ctx context.Context, endpoints []string, payload string) error {
	if len(endpoints) == 0 {
		s.logger.Debug("Skipping SimplePush send: no endpoints")
		return nil
	}

	body := encodeVersion(payload)
	var retryable *multierror.Error
	var gone []string
	successCount := 0
	rejected := 0
	failed := 0

	for _, endpoint := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(body))
		if err != nil {
			// An unparsable URL never becomes valid.
			s.logger.Warn("Dropping invalid SimplePush endpoint", "endpoint", endpoint, "err", err)
			gone = append(gone, endpoint)
			continue
		}

		status, err := s.put(req)
		if err != nil {
			s.logger.Error("SimplePush transport error", "endpoint", endpoint, "err", err)
			failed++
			retryable = multierror.Append(retryable, err)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			successCount++
		case status == http.StatusNotFound || status == http.StatusGone:
			gone = append(gone, endpoint)
		case status == http.StatusTooManyRequests || status >= 500:
			failed++
			retryable = multierror.Append(retryable, fmt.Errorf("simplepush endpoint %s answered status %d", endpoint, status))
		default:
			rejected++
			s.logger.Warn("SimplePush endpoint rejected message", "endpoint", endpoint, "status", status)
		}
	}

	s.logger.Info("SimplePush batch complete",
		"success", successCount,
		"gone", len(gone),
		"rejected", rejected,
		"failed", failed,
		"total", len(endpoints),
	)

	if len(gone) > 0 {
		return &push.GoneEndpointsError{Endpoints: gone, Err: retryable.ErrorOrNil()}
	}
	return retryable.ErrorOrNil()
}

func (s *Sender) put(req *http.Request) (int, error) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("simplepush request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func encodeVersion(payload string) string {
	if values, err := url.ParseQuery(payload); err == nil && values.Has("version") {
		return payload
	}
	return url.Values{"version": {payload}}.Encode()
}
