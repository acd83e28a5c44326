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

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/feeds"
	"github.com/timsiem/timsiem/internal/runs"
	"github.com/timsiem/timsiem/internal/util"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	pkgRuns "github.com/timsiem/timsiem/pkg/timsiem/runs"

	"go.uber.org/dig"
)

type Web interface {
	Handler() http.Handler
	Serve(ctx context.Context) error
}

type webImpl struct {
	cfg           *config.Config
	configSource  config.Source
	dispatcher    *dispatcher.Dispatcher
	engine        *runs.Engine
	importer      *feeds.Importer
	indicatorRepo indicators.Repository
	runRepo       pkgRuns.Repository
	enumProviders map[string]EnumProvider

	logger *slog.Logger
}

type WebParams struct {
	dig.In

	Cfg           *config.Config
	ConfigSource  config.Source
	Dispatcher    *dispatcher.Dispatcher
	Engine        *runs.Engine
	Importer      *feeds.Importer
	IndicatorRepo indicators.Repository
	RunRepo       pkgRuns.Repository
	EnumProviders []EnumProvider `group:"enumProviders"`
	Logger        *slog.Logger
}

func NewWeb(p WebParams) Web {
	enumProviders := make(map[string]EnumProvider, len(p.EnumProviders))
	for _, ep := range p.EnumProviders {
		enumProviders[ep.Name()] = ep
	}
	return &webImpl{
		cfg:           p.Cfg,
		configSource:  p.ConfigSource,
		dispatcher:    p.Dispatcher,
		engine:        p.Engine,
		importer:      p.Importer,
		indicatorRepo: p.IndicatorRepo,
		runRepo:       p.RunRepo,
		enumProviders: enumProviders,

		logger: p.Logger.With(slog.String("component", "web")),
	}
}

func (wi *webImpl) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(util.NewGinSlogger(slog.LevelInfo, wi.logger))
	r.SetTrustedProxies(nil)

	g := r.Group("api/v1")
	addPlaybookEndpoints(g, wi)
	addIndicatorEndpoints(g, wi)
	addRunEndpoints(g, wi)
	addConfigEndpoints(g, wi)

	if len(wi.cfg.Web.AllowedOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: wi.cfg.Web.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// Serve listens on the configured address until ctx is cancelled.
func (wi *webImpl) Serve(ctx context.Context) error {
	s := &http.Server{
		Addr:              wi.cfg.Web.Address,
		Handler:           wi.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			wi.logger.Warn("failed to shut down web server", slog.Any("error", err))
		}
	}()
	wi.logger.Info("Starting web server", slog.String("address", s.Addr))
	err := s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, code int, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}

func intQueryParam(c *gin.Context, name string, def, max int) (int, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%v must be a non-negative integer but got '%v'", name, s)
	}
	if max > 0 && i > max {
		return max, nil
	}
	return i, nil
}
