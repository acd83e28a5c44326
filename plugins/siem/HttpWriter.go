// Copyright 2024 The Timsiem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/siem"
)

type writeRequest struct {
	Records []siem.Record `json:"records"`
}

// HttpWriter posts records as JSON to a SIEM collector endpoint.
type HttpWriter struct {
	address    string
	authToken  string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int

	initialBackoff time.Duration

	logger *slog.Logger
}

func NewHttpWriter(cfg *config.SiemConfig, logger *slog.Logger) *HttpWriter {
	limit := rate.Inf
	if cfg.RequestRateLimit > 0 {
		limit = rate.Limit(cfg.RequestRateLimit)
	}
	burst := cfg.RequestRateBurst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HttpWriter{
		address:    cfg.Address,
		authToken:  cfg.AuthToken,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,

		initialBackoff: 500 * time.Millisecond,

		logger: logger,
	}
}

func (w *HttpWriter) Name() string {
	return "http"
}

func (w *HttpWriter) Write(ctx context.Context, records []siem.Record) error {
	if len(records) == 0 {
		return nil
	}
	serialized, err := json.Marshal(writeRequest{Records: records})
	if err != nil {
		return fmt.Errorf("failed to serialize numRecords=%v for SIEM: %w", len(records), err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialBackoff
	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := w.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("rate limiter wait failed: %w", err))
		}
		err := w.post(ctx, serialized)
		if err != nil {
			w.logger.Warn("failed to write records to SIEM",
				slog.String("address", w.address),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(w.maxRetries+1)))
	if err != nil {
		return fmt.Errorf("failed to write numRecords=%v to SIEM after attempts=%v: %w", len(records), attempt, err)
	}
	w.logger.Debug("wrote records to SIEM",
		slog.Int("numRecords", len(records)),
		slog.Int("attempts", attempt))
	return nil
}

func (w *HttpWriter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.address, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("got non-2xx statusCode=%v, body='%v'", resp.StatusCode, string(bodyBytes))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}
