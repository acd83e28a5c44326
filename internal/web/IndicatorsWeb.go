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
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timsiem/timsiem/internal/feeds"
	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
)

const (
	defaultIndicatorTake = 100
	maxIndicatorTake     = 1000
)

type indicatorResponse struct {
	Id        string          `json:"id"`
	Type      indicators.Type `json:"type"`
	Value     string          `json:"value"`
	Source    string          `json:"source"`
	Tags      []string        `json:"tags"`
	FirstSeen time.Time       `json:"firstSeen"`
	LastSeen  time.Time       `json:"lastSeen"`
}

type listIndicatorsResponse struct {
	Indicators []indicatorResponse `json:"indicators"`
	Total      int64               `json:"total"`
}

type importResponse struct {
	Imported int `json:"imported"`
	Invalid  int `json:"invalid"`
}

// matchAll is used when listing without a query.
type matchAll struct{}

func (matchAll) Matches(*indicators.Indicator) bool { return true }
func (matchAll) Types() []indicators.Type           { return nil }

func addIndicatorEndpoints(g *gin.RouterGroup, wi *webImpl) {
	g = g.Group("indicators")

	g.GET("", func(c *gin.Context) {
		take, err := intQueryParam(c, "take", defaultIndicatorTake, maxIndicatorTake)
		if err != nil {
			abortWithError(c, 400, err)
			return
		}
		var filter indicators.Filter = matchAll{}
		if qs := strings.TrimSpace(c.Query("query")); qs != "" {
			q, err := query.Parse(qs)
			if err != nil {
				abortWithError(c, 400, err)
				return
			}
			filter = q
		}
		res, err := listIndicators(c.Request.Context(), wi.indicatorRepo, filter, take)
		if err != nil {
			abortWithError(c, 500, err)
			return
		}
		total, err := wi.indicatorRepo.Count(c.Request.Context())
		if err != nil {
			abortWithError(c, 500, fmt.Errorf("failed to count indicators: %w", err))
			return
		}
		c.JSON(200, listIndicatorsResponse{Indicators: res, Total: total})
	})

	// POST accepts a feed in the body, JSON lines by default or CSV when the content type says so.
	g.POST("", func(c *gin.Context) {
		format := feeds.FormatJsonLines
		if strings.Contains(c.ContentType(), "csv") {
			format = feeds.FormatCsv
		}
		source := c.DefaultQuery("source", "api")
		res, err := wi.importer.Import(c.Request.Context(), c.Request.Body, format, source)
		if errors.Is(err, feeds.ErrInvalidFeed) {
			abortWithError(c, 400, fmt.Errorf("failed to import indicators: %w", err))
			return
		} else if err != nil {
			abortWithError(c, 500, fmt.Errorf("failed to import indicators: %w", err))
			return
		}
		c.JSON(200, importResponse{Imported: res.Imported, Invalid: res.Invalid})
	})
}

func listIndicators(ctx context.Context, repo indicators.Repository, filter indicators.Filter, take int) ([]indicatorResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ret := make([]indicatorResponse, 0, take)
	if take == 0 {
		return ret, nil
	}
	batches, errs := repo.FilterStream(ctx, filter, take)
	for batch := range batches {
		for _, ind := range batch {
			tags := ind.Tags
			if tags == nil {
				tags = []string{}
			}
			ret = append(ret, indicatorResponse{
				Id:        ind.Id,
				Type:      ind.Type,
				Value:     ind.Value,
				Source:    ind.Source,
				Tags:      tags,
				FirstSeen: ind.FirstSeen,
				LastSeen:  ind.LastSeen,
			})
			if len(ret) == take {
				cancel()
				for range batches {
				}
				return ret, nil
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}
	return ret, nil
}
