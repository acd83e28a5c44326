package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/timsiem/timsiem/internal/util"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
)

// PollingConfigSource re-reads the configuration file whenever its
// modification time changes.
type PollingConfigSource struct {
	changes  util.Broadcaster[struct{}]
	fileName string
	interval time.Duration

	mu             sync.Mutex
	current        *config.Response
	lastSeenUpdate time.Time

	logger *slog.Logger
}

func NewPollingConfigSource(ctx context.Context, fileName string, initial *config.Config, interval time.Duration, logger *slog.Logger) *PollingConfigSource {
	ret := &PollingConfigSource{
		fileName: fileName,
		interval: interval,
		current:  &config.Response{Modified: time.Now(), Cfg: *initial},

		logger: logger,
	}
	if stat, err := os.Stat(fileName); err == nil {
		ret.lastSeenUpdate = stat.ModTime()
		ret.current.Modified = stat.ModTime()
	} else {
		logger.Warn("got error when getting modification time of config file", slog.String("fileName", fileName), slog.Any("error", err))
	}
	go ret.poll(ctx)
	return ret
}

func (p *PollingConfigSource) poll(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		changed, err := p.refresh()
		if err != nil {
			p.logger.Error("got error when polling config file", slog.String("fileName", p.fileName), slog.Any("error", err))
			continue
		}
		if changed {
			p.logger.Info("config change detected, sending change event", slog.String("fileName", p.fileName))
			p.changes.Broadcast(struct{}{})
		}
	}
}

func (p *PollingConfigSource) refresh() (bool, error) {
	stat, err := os.Stat(p.fileName)
	if err != nil {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}
	p.mu.Lock()
	lastSeen := p.lastSeenUpdate
	p.mu.Unlock()
	if !stat.ModTime().After(lastSeen) {
		return false, nil
	}
	cfg, modTime, err := ReadConfigFile(p.fileName, p.logger)
	if err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeenUpdate = modTime
	p.current = &config.Response{Modified: modTime, Cfg: *cfg}
	return true, nil
}

// Changes returns a new subscription to change events.
func (p *PollingConfigSource) Changes() <-chan struct{} {
	return p.changes.Subscribe()
}

func (p *PollingConfigSource) Get() (*config.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}
