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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timsiem/timsiem/pkg/timsiem/config"

	"go.uber.org/dig"
)

// FeedWatcher imports every feed file in a directory, and imports files again
// when they are created or written.
type FeedWatcher struct {
	dir      string
	importer *Importer
	settle   time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer

	logger *slog.Logger
}

type FeedWatcherParams struct {
	dig.In

	Cfg      *config.Config
	Importer *Importer
	Logger   *slog.Logger
}

func NewFeedWatcher(p FeedWatcherParams) *FeedWatcher {
	return &FeedWatcher{
		dir:      p.Cfg.Feeds.Directory,
		importer: p.Importer,
		settle:   500 * time.Millisecond,
		pending:  map[string]*time.Timer{},

		logger: p.Logger.With(slog.String("component", "FeedWatcher")),
	}
}

// Start imports the files already in the directory and then watches it until ctx is cancelled.
func (fw *FeedWatcher) Start(ctx context.Context) error {
	absDir, err := fw.ensureDir()
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating watcher for dir=%s: %w", absDir, err)
	}
	err = watcher.Add(absDir)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("error adding dir to watcher for dir=%s: %w", absDir, err)
	}
	if err := fw.importDir(ctx, absDir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				fw.stopPending()
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if FormatForFile(evt.Name) == FormatUnknown {
					fw.logger.Debug("ignoring file with unsupported extension", slog.String("fileName", evt.Name))
					continue
				}
				fw.schedule(ctx, evt.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fw.logger.Warn("got error from watcher", slog.String("dir", absDir), slog.Any("error", err))
			}
		}
	}()
	fw.logger.Info("watching feed directory", slog.String("dir", absDir))
	return nil
}

// ImportExisting imports every supported file in the directory once, without watching it.
func (fw *FeedWatcher) ImportExisting(ctx context.Context) error {
	absDir, err := fw.ensureDir()
	if err != nil {
		return err
	}
	return fw.importDir(ctx, absDir)
}

func (fw *FeedWatcher) ensureDir() (string, error) {
	absDir, err := filepath.Abs(fw.dir)
	if err != nil {
		return "", fmt.Errorf("error getting absolute path for dir=%s: %w", fw.dir, err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating feed dir=%s: %w", absDir, err)
	}
	return absDir, nil
}

func (fw *FeedWatcher) importDir(ctx context.Context, absDir string) error {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("error listing feed dir=%s: %w", absDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || FormatForFile(e.Name()) == FormatUnknown {
			continue
		}
		fw.importFile(ctx, filepath.Join(absDir, e.Name()))
	}
	return nil
}

// schedule imports the file once it has not been written to for the settle duration.
// A writer typically produces several write events for one file.
func (fw *FeedWatcher) schedule(ctx context.Context, fileName string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if t, ok := fw.pending[fileName]; ok {
		t.Reset(fw.settle)
		return
	}
	fw.pending[fileName] = time.AfterFunc(fw.settle, func() {
		fw.mu.Lock()
		delete(fw.pending, fileName)
		fw.mu.Unlock()
		fw.importFile(ctx, fileName)
	})
}

func (fw *FeedWatcher) stopPending() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for k, t := range fw.pending {
		t.Stop()
		delete(fw.pending, k)
	}
}

func (fw *FeedWatcher) importFile(ctx context.Context, fileName string) {
	if ctx.Err() != nil {
		return
	}
	_, err := fw.importer.ImportFile(ctx, fileName)
	if err != nil {
		fw.logger.Error("failed to import feed file",
			slog.String("fileName", fileName),
			slog.Any("error", err))
	}
}
