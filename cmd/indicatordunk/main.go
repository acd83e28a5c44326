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

// indicatordunk writes feed files full of fake indicators, for load testing the feed importer.
package main

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit"
)

var tagChoices = []string{
	"approved_black",
	"approved_white",
	"approved_watchlist",
	"pending_review",
}

type fakeIndicator struct {
	Type      string   `json:"type"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	FirstSeen string   `json:"firstSeen"`
	LastSeen  string   `json:"lastSeen"`
}

func main() {
	numFiles := flag.Int("numFiles", 1, "The number of feed files to write. The files will be named fake-*.<format> where * is an increasing number.")
	numIndicators := flag.Int("numIndicators", 1000, "The number of indicators to write to each file.")
	format := flag.String("format", "jsonl", "The feed format, jsonl or csv.")
	outDir := flag.String("outDir", "feeds", "The directory to write the feed files to.")
	flag.Parse()

	if *format != "jsonl" && *format != "csv" {
		fmt.Println("format must be jsonl or csv but got", *format)
		os.Exit(2)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Println("Got error when creating output directory:", err)
		os.Exit(1)
	}
	gofakeit.Seed(time.Now().UnixNano())

	for i := 0; i < *numFiles; i++ {
		fileName := filepath.Join(*outDir, "fake-"+strconv.Itoa(i)+"."+*format)
		// Written under a temporary name so a watching importer only sees complete files.
		tmpName := fileName + ".tmp"
		err := writeFile(tmpName, *format, *numIndicators)
		if err == nil {
			err = os.Rename(tmpName, fileName)
		}
		if err != nil {
			fmt.Println("Got error when writing file "+fileName+":", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", *numIndicators, "indicators to", fileName)
	}
}

func writeFile(fileName, format string, n int) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	if format == "csv" {
		w := csv.NewWriter(f)
		if err := w.Write([]string{"type", "value", "tags", "firstSeen", "lastSeen"}); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			ind := randomIndicator()
			err := w.Write([]string{ind.Type, ind.Value, strings.Join(ind.Tags, ";"), ind.FirstSeen, ind.LastSeen})
			if err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	enc := json.NewEncoder(f)
	for i := 0; i < n; i++ {
		if err := enc.Encode(randomIndicator()); err != nil {
			return err
		}
	}
	return nil
}

func randomIndicator() fakeIndicator {
	firstSeen := gofakeit.DateRange(time.Now().AddDate(-1, 0, 0), time.Now())
	lastSeen := gofakeit.DateRange(firstSeen, time.Now())
	ind := fakeIndicator{
		Tags: []string{gofakeit.RandString(tagChoices)},
		// The importer accepts any common layout, vary them to exercise that.
		FirstSeen: firstSeen.Format(time.RFC3339),
		LastSeen:  lastSeen.Format("2006-01-02 15:04:05"),
	}
	switch gofakeit.Number(0, 3) {
	case 0:
		ind.Type = "ip"
		if gofakeit.Number(0, 9) == 0 {
			ind.Value = gofakeit.IPv6Address()
		} else {
			ind.Value = gofakeit.IPv4Address()
		}
	case 1:
		ind.Type = "file"
		ind.Value = randomHash()
	case 2:
		ind.Type = "URL"
		ind.Value = gofakeit.URL()
	default:
		ind.Type = "Domain"
		ind.Value = gofakeit.DomainName()
	}
	if gofakeit.Bool() {
		ind.Tags = append(ind.Tags, gofakeit.HackerNoun())
	}
	return ind
}

func randomHash() string {
	seed := []byte(gofakeit.UUID())
	switch gofakeit.Number(0, 2) {
	case 0:
		sum := md5.Sum(seed)
		return hex.EncodeToString(sum[:])
	case 1:
		sum := sha1.Sum(seed)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(seed)
		return hex.EncodeToString(sum[:])
	}
}
