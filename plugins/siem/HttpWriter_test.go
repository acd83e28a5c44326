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
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/siem"
)

var testRecords = []siem.Record{
	{IndicatorId: "1", Type: "IP", Value: "198.51.100.1", Tags: []string{"approved_black"}, Fields: map[string]string{"ipVersion": "4"}},
	{IndicatorId: "2", Type: "IP", Value: "2001:db8::1", Tags: []string{"approved_white"}, Fields: map[string]string{"ipVersion": "6"}},
}

func TestHttpWriterPostsRecords(t *testing.T) {
	var got writeRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type but got %v", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("got error when decoding request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := createHttpWriter(srv.URL, 0)
	if err := w.Write(context.Background(), testRecords); err != nil {
		t.Fatalf("got error when writing: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer auth header but got %q", auth)
	}
	if len(got.Records) != 2 || got.Records[1].Value != "2001:db8::1" || got.Records[1].Fields["ipVersion"] != "6" {
		t.Fatalf("got unexpected records %+v", got.Records)
	}
}

func TestHttpWriterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := createHttpWriter(srv.URL, 3)
	if err := w.Write(context.Background(), testRecords); err != nil {
		t.Fatalf("got error when writing: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls but got %v", calls.Load())
	}
}

func TestHttpWriterGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := createHttpWriter(srv.URL, 2)
	if err := w.Write(context.Background(), testRecords); err == nil {
		t.Fatal("expected error when server keeps failing")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls but got %v", calls.Load())
	}
}

func TestHttpWriterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := createHttpWriter(srv.URL, 5)
	if err := w.Write(context.Background(), testRecords); err == nil {
		t.Fatal("expected error for 401 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call but got %v", calls.Load())
	}
}

func TestHttpWriterSkipsEmptyWrites(t *testing.T) {
	w := createHttpWriter("http://127.0.0.1:0/unreachable", 0)
	if err := w.Write(context.Background(), nil); err != nil {
		t.Fatalf("expected empty write to be a no-op but got %v", err)
	}
}

func TestSqliteWriterStoresRecords(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("got error when opening database: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	w, err := NewSqliteWriter(db)
	if err != nil {
		t.Fatalf("got error when creating writer: %v", err)
	}
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	records := append([]siem.Record{}, testRecords...)
	for i := range records {
		records[i].Timestamp = ts
	}
	if err := w.Write(context.Background(), records); err != nil {
		t.Fatalf("got error when writing: %v", err)
	}
	got, err := w.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("got error when reading outbox: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records but got %v", len(got))
	}
	if got[0].Value != "198.51.100.1" || got[0].Tags[0] != "approved_black" || got[0].Fields["ipVersion"] != "4" {
		t.Errorf("got unexpected first record %+v", got[0])
	}
	if !got[1].Timestamp.Equal(ts) {
		t.Errorf("expected timestamp=%v but got %v", ts, got[1].Timestamp)
	}
}

func createHttpWriter(address string, maxRetries int) *HttpWriter {
	w := NewHttpWriter(&config.SiemConfig{
		Type:       config.SiemTypeHttp,
		Address:    address,
		AuthToken:  "secret",
		MaxRetries: maxRetries,
		Timeout:    5 * time.Second,
	}, slog.Default())
	w.initialBackoff = time.Millisecond
	return w
}
