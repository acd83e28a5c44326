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
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/timsiem/timsiem/internal/dispatcher"
	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"
)

type playbookResponse struct {
	Name      string                           `json:"name"`
	Inputs    []playbooks.Input                `json:"inputs"`
	Outputs   []playbooks.Output               `json:"outputs"`
	Delegates []dispatcher.DelegateDescription `json:"delegates"`
}

type validateQueryRequest struct {
	Query *string `json:"query"`
}

type validateQueryResponse struct {
	Effective string            `json:"effective"`
	Canonical string            `json:"canonical"`
	IsDefault bool              `json:"isDefault"`
	Types     []indicators.Type `json:"types"`
}

func addPlaybookEndpoints(g *gin.RouterGroup, wi *webImpl) {
	g.GET("playbook", func(c *gin.Context) {
		c.JSON(200, playbookResponse{
			Name:      dispatcher.Name,
			Inputs:    wi.dispatcher.Inputs(),
			Outputs:   wi.dispatcher.Outputs(),
			Delegates: wi.dispatcher.Delegates(),
		})
	})

	g.POST("query/validate", func(c *gin.Context) {
		var req validateQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, 400, fmt.Errorf("failed to decode request: %w", err))
			return
		}
		effective := wi.dispatcher.Query(dispatcher.Inputs{FromIndicatorsQuery: req.Query})
		q, err := query.Parse(effective)
		if err != nil {
			abortWithError(c, 400, err)
			return
		}
		types := q.Types()
		if types == nil {
			types = indicators.AllTypes[:]
		}
		c.JSON(200, validateQueryResponse{
			Effective: effective,
			Canonical: q.String(),
			IsDefault: effective == query.DefaultQuery,
			Types:     types,
		})
	})
}
