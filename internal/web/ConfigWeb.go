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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timsiem/timsiem/internal/config"
)

type configResponse struct {
	Modified time.Time          `json:"modified"`
	Config   *config.JsonConfig `json:"config"`
}

func addConfigEndpoints(g *gin.RouterGroup, wi *webImpl) {
	g = g.Group("config")

	g.GET("", func(ctx *gin.Context) {
		cfg, err := wi.configSource.Get()
		if err != nil {
			abortWithError(ctx, 500, fmt.Errorf("failed to read config: %w", err))
			return
		}
		ctx.JSON(200, configResponse{
			Modified: cfg.Modified,
			Config:   config.ToJSON(&cfg.Cfg),
		})
	})

	g.GET("enums/:name", func(ctx *gin.Context) {
		name := ctx.Param("name")
		ep, ok := wi.enumProviders[name]
		if !ok {
			abortWithError(ctx, 404, fmt.Errorf("no enum with name=%v", name))
			return
		}
		values, err := ep.Values()
		if err != nil {
			abortWithError(ctx, 500, err)
			return
		}
		ctx.JSON(200, values)
	})
}
