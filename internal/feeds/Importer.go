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

package feeds

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

// ErrInvalidFeed is wrapped by the errors of imports that failed because of the feed content
// rather than the repository.
var ErrInvalidFeed = errors.New("invalid feed")

type Format int

const (
	FormatUnknown   Format = 0
	FormatJsonLines Format = 1
	FormatCsv       Format = 2
)

// FormatForFile picks the feed format from the file extension.
func FormatForFile(fileName string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJsonLines
	case ".csv":
		return FormatCsv
	default:
		return FormatUnknown
	}
}

type ImportResult struct {
	Imported int
	Invalid  int
}

// feedRecord is one line of a JSON-lines feed. CSV feeds use the same column names.
type feedRecord struct {
	Type      string   `json:"type"`
	Value     string   `json:"value"`
	Source    string   `json:"source"`
	Tags      []string `json:"tags"`
	FirstSeen string   `json:"firstSeen"`
	LastSeen  string   `json:"lastSeen"`
}

type Importer struct {
	repo      indicators.Repository
	batchSize int
	now       func() time.Time

	logger *slog.Logger
}

func NewImporter(repo indicators.Repository, logger *slog.Logger) *Importer {
	return &Importer{
		repo:      repo,
		batchSize: 1000,
		now:       time.Now,

		logger: logger,
	}
}

func (im *Importer) ImportFile(ctx context.Context, fileName string) (*ImportResult, error) {
	format := FormatForFile(fileName)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported feed format for fileName=%v", fileName)
	}
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed fileName=%v: %w", fileName, err)
	}
	defer f.Close()
	source := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	res, err := im.Import(ctx, f, format, source)
	if err != nil {
		return res, fmt.Errorf("failed to import feed fileName=%v: %w", fileName, err)
	}
	im.logger.Info("imported feed",
		slog.String("fileName", fileName),
		slog.Int("imported", res.Imported),
		slog.Int("invalid", res.Invalid))
	return res, nil
}

// Import reads every record from r and upserts the valid ones in batches.
// Invalid records are counted and skipped. defaultSource is used for records without a source.
func (im *Importer) Import(ctx context.Context, r io.Reader, format Format, defaultSource string) (*ImportResult, error) {
	var next func() (*feedRecord, error)
	switch format {
	case FormatJsonLines:
		next = jsonLinesReader(r)
	case FormatCsv:
		var err error
		next, err = csvReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported feed format=%v", ErrInvalidFeed, format)
	}

	res := &ImportResult{}
	batch := make([]indicators.Indicator, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := im.repo.Upsert(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to upsert numIndicators=%v: %w", len(batch), err)
		}
		res.Imported += len(batch)
		batch = batch[:0]
		return nil
	}
	line := 0
	for {
		line++
		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			var ind *indicators.Indicator
			ind, err = im.toIndicator(rec, defaultSource)
			if err == nil {
				batch = append(batch, *ind)
			}
		}
		if err != nil {
			var fatal *fatalReadError
			if errors.As(err, &fatal) {
				return res, fmt.Errorf("%w: %w", ErrInvalidFeed, fatal.err)
			}
			res.Invalid++
			im.logger.Warn("skipping invalid feed record",
				slog.Int("record", line),
				slog.Any("error", err))
			continue
		}
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	return res, flush()
}

func (im *Importer) toIndicator(rec *feedRecord, defaultSource string) (*indicators.Indicator, error) {
	t, err := indicators.ParseType(strings.TrimSpace(rec.Type))
	if err != nil {
		return nil, err
	}
	value := strings.TrimSpace(rec.Value)
	if value == "" {
		return nil, errors.New("record has no value")
	}
	now := im.now().UTC()
	firstSeen, err := parseTime(rec.FirstSeen, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse firstSeen: %w", err)
	}
	lastSeen, err := parseTime(rec.LastSeen, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lastSeen: %w", err)
	}
	if lastSeen.Before(firstSeen) {
		lastSeen = firstSeen
	}
	source := strings.TrimSpace(rec.Source)
	if source == "" {
		source = defaultSource
	}
	tags := make([]string, 0, len(rec.Tags))
	for _, tag := range rec.Tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return &indicators.Indicator{
		Type:      t,
		Value:     value,
		Source:    source,
		Tags:      tags,
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
	}, nil
}

func parseTime(s string, fallback time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// fatalReadError aborts an import, as opposed to a single invalid record.
type fatalReadError struct {
	err error
}

func (e *fatalReadError) Error() string {
	return e.err.Error()
}

// maxJsonLineSize is the longest JSON line that is decoded, longer lines are counted as invalid records.
const maxJsonLineSize = 1024 * 1024

func jsonLinesReader(r io.Reader) func() (*feedRecord, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	return func() (*feedRecord, error) {
		for {
			line, tooLong, err := readLine(br, maxJsonLineSize)
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err != nil {
				return nil, &fatalReadError{err: fmt.Errorf("failed to read feed: %w", err)}
			}
			if tooLong {
				return nil, fmt.Errorf("json line is longer than maxBytes=%v", maxJsonLineSize)
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var rec feedRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("failed to decode json line: %w", err)
			}
			return &rec, nil
		}
	}
}

// readLine reads a whole line from br. The remainder of a line longer than limit is discarded and tooLong is set.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, tooLong, err
		}
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

func csvReader(r io.Reader) (func() (*feedRecord, error), error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	columns := map[string]int{}
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["type"]; !ok {
		return nil, errors.New("csv header has no type column")
	}
	if _, ok := columns["value"]; !ok {
		return nil, errors.New("csv header has no value column")
	}
	get := func(row []string, name string) string {
		i, ok := columns[strings.ToLower(name)]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	return func() (*feedRecord, error) {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
			return nil, &fatalReadError{err: fmt.Errorf("failed to read feed: %w", err)}
		}
		rec := &feedRecord{
			Type:      get(row, "type"),
			Value:     get(row, "value"),
			Source:    get(row, "source"),
			FirstSeen: get(row, "firstSeen"),
			LastSeen:  get(row, "lastSeen"),
		}
		if tags := get(row, "tags"); tags != "" {
			rec.Tags = strings.Split(tags, ";")
		}
		return rec, nil
	}, nil
}
