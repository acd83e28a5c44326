// Copyright 2024 The Timsiem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationRegexp = regexp.MustCompile(`^(\d+)(s|m|h|d|w|M|y)$`)

// parseDuration accepts the short forms used in task config such as "12h" or "7d".
// 1 day is 24 hours, 1 month is 30 days and 1 year is 365 days.
func parseDuration(str string) (time.Duration, error) {
	match := durationRegexp.FindStringSubmatch(str)
	if len(match) < 3 {
		return 0, fmt.Errorf("str='%s' does not match the duration pattern. A duration must be a positive number followed by one of s, m, h, d, w, M, or y. For example 7d", str)
	}
	count, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("str='%s' could not be converted to a duration. Failed to convert '%s' to a number", str, match[1])
	}
	d := time.Duration(count)
	switch match[2] {
	case "s":
		return d * time.Second, nil
	case "m":
		return d * time.Minute, nil
	case "h":
		return d * time.Hour, nil
	case "d":
		return d * 24 * time.Hour, nil
	case "w":
		return d * 7 * 24 * time.Hour, nil
	case "M":
		return d * 30 * 24 * time.Hour, nil
	case "y":
		return d * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("str='%s' could not be converted to a duration. Unknown duration type='%s'", str, match[2])
	}
}
