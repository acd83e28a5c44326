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

package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

func TestUpsertAssignsIdAndStoresTags(t *testing.T) {
	repo := createIndicatorRepo(t)
	ctx := context.Background()
	inds := []indicators.Indicator{
		{
			Type:   indicators.TypeIP,
			Value:  "203.0.113.7",
			Source: "feed-a",
			Tags:   []string{"approved_black", "botnet"},
		},
	}
	err := repo.Upsert(ctx, inds)
	if err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	if _, err := uuid.Parse(inds[0].Id); err != nil {
		t.Fatalf("expected upsert to assign a uuid but got id=%q: %v", inds[0].Id, err)
	}
	got, err := repo.Get(ctx, inds[0].Id)
	if err != nil {
		t.Fatalf("got error when getting indicator: %v", err)
	}
	if got.Type != indicators.TypeIP || got.Value != "203.0.113.7" || got.Source != "feed-a" {
		t.Fatalf("got unexpected indicator %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "approved_black" || got.Tags[1] != "botnet" {
		t.Fatalf("got unexpected tags %v", got.Tags)
	}
}

func TestUpsertExistingReplacesTagsAndKeepsFirstSeen(t *testing.T) {
	repo := createIndicatorRepo(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	inds := []indicators.Indicator{
		{Type: indicators.TypeDomain, Value: "evil.example", Tags: []string{"pending_review"}, FirstSeen: first, LastSeen: first},
	}
	if err := repo.Upsert(ctx, inds); err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	id := inds[0].Id

	updated := []indicators.Indicator{
		{Type: indicators.TypeDomain, Value: "evil.example", Tags: []string{"approved_black"}, FirstSeen: later, LastSeen: later},
	}
	if err := repo.Upsert(ctx, updated); err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	if updated[0].Id != id {
		t.Fatalf("expected upsert of existing indicator to keep id=%v but got %v", id, updated[0].Id)
	}
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("got error when getting indicator: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "approved_black" {
		t.Fatalf("expected tags to be replaced but got %v", got.Tags)
	}
	if !got.FirstSeen.Equal(first) {
		t.Fatalf("expected firstSeen=%v but got %v", first, got.FirstSeen)
	}
	if !got.LastSeen.Equal(later) {
		t.Fatalf("expected lastSeen=%v but got %v", later, got.LastSeen)
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("got error when counting: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 indicator but have %v", count)
	}
}

func TestUpsertRejectsEmptyValue(t *testing.T) {
	repo := createIndicatorRepo(t)
	err := repo.Upsert(context.Background(), []indicators.Indicator{{Type: indicators.TypeURL}})
	if err == nil {
		t.Fatal("expected error when upserting indicator without value")
	}
}

func TestGetUnknownId(t *testing.T) {
	repo := createIndicatorRepo(t)
	_, err := repo.Get(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected error when getting unknown id")
	}
}

func TestFilterStreamAppliesQuery(t *testing.T) {
	repo := createIndicatorRepo(t)
	ctx := context.Background()
	err := repo.Upsert(ctx, []indicators.Indicator{
		{Type: indicators.TypeIP, Value: "198.51.100.1", Tags: []string{"approved_black"}},
		{Type: indicators.TypeIP, Value: "198.51.100.2", Tags: []string{"approved_black", "pending_review"}},
		{Type: indicators.TypeIP, Value: "198.51.100.3"},
		{Type: indicators.TypeURL, Value: "http://evil.example/a", Tags: []string{"approved_white"}},
	})
	if err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	q, err := query.Parse(query.Scope(query.DefaultQuery, indicators.TypeIP))
	if err != nil {
		t.Fatalf("got error when parsing query: %v", err)
	}
	got := collect(t, repo, q, 10)
	if len(got) != 1 || got[0].Value != "198.51.100.1" {
		t.Fatalf("expected only the approved ip but got %+v", got)
	}
}

func TestFilterStreamBatches(t *testing.T) {
	repo := createIndicatorRepo(t)
	ctx := context.Background()
	inds := make([]indicators.Indicator, 5)
	for i := range inds {
		inds[i] = indicators.Indicator{Type: indicators.TypeFile, Value: uuid.NewString(), Tags: []string{"approved_black"}}
	}
	if err := repo.Upsert(ctx, inds); err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	q, err := query.Parse("type:file")
	if err != nil {
		t.Fatalf("got error when parsing query: %v", err)
	}
	batches, errs := repo.FilterStream(ctx, q, 2)
	total := 0
	for b := range batches {
		if len(b) > 2 {
			t.Errorf("expected batches of at most 2 but got %v", len(b))
		}
		total += len(b)
	}
	if err := <-errs; err != nil {
		t.Fatalf("got error from stream: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 indicators in total but got %v", total)
	}
}

func TestFilterStreamImpossibleTypes(t *testing.T) {
	repo := createIndicatorRepo(t)
	ctx := context.Background()
	err := repo.Upsert(ctx, []indicators.Indicator{{Type: indicators.TypeIP, Value: "198.51.100.1"}})
	if err != nil {
		t.Fatalf("got error when upserting: %v", err)
	}
	q, err := query.Parse("type:ip and type:URL")
	if err != nil {
		t.Fatalf("got error when parsing query: %v", err)
	}
	got := collect(t, repo, q, 10)
	if len(got) != 0 {
		t.Fatalf("expected no indicators but got %+v", got)
	}
}

func collect(t *testing.T, repo indicators.Repository, filter indicators.Filter, batchSize int) []indicators.Indicator {
	batches, errs := repo.FilterStream(context.Background(), filter, batchSize)
	ret := []indicators.Indicator{}
	for b := range batches {
		ret = append(ret, b...)
	}
	if err := <-errs; err != nil {
		t.Fatalf("got error from stream: %v", err)
	}
	return ret
}

func createDb(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("got error when creating in-memory SQLite database: %v", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func createIndicatorRepo(t *testing.T) indicators.Repository {
	repo, err := NewSqliteIndicatorRepository(createDb(t), slog.Default())
	if err != nil {
		t.Fatalf("got error when creating indicator repo: %v", err)
	}
	return repo
}
