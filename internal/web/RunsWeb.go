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
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timsiem/timsiem/internal/dispatcher"
	internalRuns "github.com/timsiem/timsiem/internal/runs"
	"github.com/timsiem/timsiem/pkg/timsiem/runs"
)

const runTrigger = "web"

type startRunRequest struct {
	FromIndicatorsQuery *string `json:"fromIndicatorsQuery"`
}

type startRunResponse struct {
	Id int64 `json:"id"`
}

type runResponse struct {
	Id        int64      `json:"id"`
	State     string     `json:"state"`
	Query     string     `json:"query"`
	Trigger   string     `json:"trigger"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

type delegateResultResponse struct {
	Playbook string `json:"playbook"`
	Matched  int    `json:"matched"`
	Written  int    `json:"written"`
	Skipped  int    `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

type runDetailsResponse struct {
	runResponse
	Delegates []delegateResultResponse `json:"delegates"`
}

func toRunResponse(r *runs.Run) runResponse {
	return runResponse{
		Id:        r.Id,
		State:     r.State.String(),
		Query:     r.Query,
		Trigger:   r.Trigger,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}

func addRunEndpoints(g *gin.RouterGroup, wi *webImpl) {
	g = g.Group("runs")

	// An empty body starts a run with the configured input.
	g.POST("", func(c *gin.Context) {
		var req startRunRequest
		err := c.ShouldBindJSON(&req)
		if errors.Is(err, io.EOF) {
			req.FromIndicatorsQuery = wi.cfg.Playbook.FromIndicatorsQuery
		} else if err != nil {
			abortWithError(c, 400, fmt.Errorf("failed to decode request: %w", err))
			return
		}
		id, err := wi.engine.StartRun(dispatcher.Inputs{FromIndicatorsQuery: req.FromIndicatorsQuery}, runTrigger)
		if errors.Is(err, internalRuns.ErrInvalidQuery) {
			abortWithError(c, 400, err)
			return
		} else if err != nil {
			abortWithError(c, 500, err)
			return
		}
		c.JSON(202, startRunResponse{Id: *id})
	})

	g.GET("", func(c *gin.Context) {
		skip, err := intQueryParam(c, "skip", 0, 0)
		if err != nil {
			abortWithError(c, 400, err)
			return
		}
		take, err := intQueryParam(c, "take", 25, 500)
		if err != nil {
			abortWithError(c, 400, err)
			return
		}
		list, err := wi.runRepo.List(c.Request.Context(), skip, take)
		if err != nil {
			abortWithError(c, 500, err)
			return
		}
		ret := make([]runResponse, 0, len(list))
		for i := range list {
			ret = append(ret, toRunResponse(&list[i]))
		}
		c.JSON(200, ret)
	})

	g.GET(":id", func(c *gin.Context) {
		id, ok := runIdParam(c)
		if !ok {
			return
		}
		run, err := wi.runRepo.Get(c.Request.Context(), id)
		if errors.Is(err, runs.ErrNotFound) {
			abortWithError(c, 404, err)
			return
		} else if err != nil {
			abortWithError(c, 500, err)
			return
		}
		results, err := wi.runRepo.GetDelegateResults(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, 500, err)
			return
		}
		delegates := make([]delegateResultResponse, 0, len(results))
		for _, r := range results {
			delegates = append(delegates, delegateResultResponse{
				Playbook: r.Playbook,
				Matched:  r.Matched,
				Written:  r.Written,
				Skipped:  r.Skipped,
				Error:    r.Error,
			})
		}
		c.JSON(200, runDetailsResponse{runResponse: toRunResponse(run), Delegates: delegates})
	})

	g.POST(":id/abort", func(c *gin.Context) {
		id, ok := runIdParam(c)
		if !ok {
			return
		}
		err := wi.engine.Abort(c.Request.Context(), id)
		if errors.Is(err, runs.ErrNotFound) {
			abortWithError(c, 404, err)
			return
		} else if err != nil {
			abortWithError(c, 500, err)
			return
		}
		c.Status(204)
	})
}

func runIdParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortWithError(c, 400, fmt.Errorf("id must be an integer but got '%v'", c.Param("id")))
		return 0, false
	}
	return id, true
}
