// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTimecode renders seconds as HH:MM:SS, truncating fractions.
// Negative input renders as 00:00:00.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// ParseTimecode parses HH:MM:SS, MM:SS or SS with an optional fractional
// part on the seconds ("." or "," separated) and returns seconds.
func ParseTimecode(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timecode")
	}
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timecode %q", value)
	}
	var total float64
	for i, part := range parts {
		last := i == len(parts)-1
		if last {
			part = strings.Replace(part, ",", ".", 1)
		}
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 || (!last && strings.Contains(part, ".")) {
			return 0, fmt.Errorf("invalid timecode %q", value)
		}
		total = total*60 + n
	}
	return total, nil
}
