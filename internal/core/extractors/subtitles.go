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

package extractors

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
)

var (
	cueTagPattern = regexp.MustCompile(`<[^>]*>`)
	// {\an8} style positioning used by some SRT files.
	assTagPattern = regexp.MustCompile(`\{\\[^}]*\}`)
)

// ParseSubtitles reads a WebVTT or SRT document into timed segments. Inline
// markup is stripped and the rolling lines of auto-generated captions (each
// cue repeating the previous line above the new one) are emitted once.
// Malformed cues are skipped; an error is returned only when the document has
// cues and none of them can be read.
func ParseSubtitles(data []byte) ([]model.Segment, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	doc := strings.ReplaceAll(string(data), "\r\n", "\n")
	doc = strings.ReplaceAll(doc, "\r", "\n")

	out := make([]model.Segment, 0)
	previous := map[string]bool{}
	var cues, malformed int

	for _, block := range strings.Split(doc, "\n\n") {
		lines := strings.Split(strings.Trim(block, "\n"), "\n")
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			// Header, NOTE, STYLE and REGION blocks.
			continue
		}
		cues++

		start, end, err := parseCueTiming(lines[timing])
		if err != nil {
			malformed++
			continue
		}

		current := make(map[string]bool)
		fresh := make([]string, 0, len(lines)-timing-1)
		for _, line := range lines[timing+1:] {
			text := cleanCueText(line)
			if text == "" {
				continue
			}
			current[text] = true
			if !previous[text] {
				fresh = append(fresh, text)
			}
		}
		if len(current) > 0 {
			previous = current
		}
		if len(fresh) == 0 {
			if n := len(out); n > 0 && end > out[n-1].End {
				out[n-1].End = end
			}
			continue
		}
		out = append(out, model.Segment{Text: strings.Join(fresh, " "), Start: start, End: end})
	}

	if cues > 0 && malformed == cues {
		return nil, fmt.Errorf("none of %d subtitle cues could be parsed", cues)
	}
	return out, nil
}

func parseCueTiming(line string) (start, end float64, err error) {
	left, right, ok := strings.Cut(line, "-->")
	if !ok {
		return 0, 0, fmt.Errorf("no cue arrow in %q", line)
	}
	right = strings.TrimSpace(right)
	// WebVTT cue settings follow the end time.
	if fields := strings.Fields(right); len(fields) > 0 {
		right = fields[0]
	}
	if start, err = model.ParseTimecode(strings.TrimSpace(left)); err != nil {
		return 0, 0, err
	}
	if end, err = model.ParseTimecode(right); err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts: %q", line)
	}
	return start, end, nil
}

func cleanCueText(line string) string {
	line = cueTagPattern.ReplaceAllString(line, "")
	line = assTagPattern.ReplaceAllString(line, "")
	line = html.UnescapeString(line)
	return normalizeText(line)
}
