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
	"sort"
	"strings"
)

// Source names the modality an ExtractedText came from.
type Source string

const (
	SourceCaption Source = "caption"
	SourceSpeech  Source = "speech"
	SourceVisual  Source = "visual"
)

// SourcePriority is the order sources appear in a corpus. Captions come first
// because their timing is the most reliable.
var SourcePriority = []Source{SourceCaption, SourceSpeech, SourceVisual}

func (s Source) priority() int {
	for i, p := range SourcePriority {
		if p == s {
			return i
		}
	}
	return len(SourcePriority)
}

// Segment is a piece of text with an approximate position in the video, in
// seconds.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// IsTimed reports whether the segment spans a positive time range.
func (s Segment) IsTimed() bool {
	return s.End > s.Start
}

// ExtractedText is the output of one extractor.
type ExtractedText struct {
	Source   Source    `json:"source"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// NewEmptyExtractedText is the result of an extractor that found nothing or
// failed.
func NewEmptyExtractedText(source Source) *ExtractedText {
	return &ExtractedText{Source: source, Segments: make([]Segment, 0)}
}

// NewSegmentedText builds an ExtractedText whose Text is the segment texts
// joined by newlines.
func NewSegmentedText(source Source, segments []Segment) *ExtractedText {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return &ExtractedText{Source: source, Text: strings.Join(lines, "\n"), Segments: segments}
}

// IsEmpty reports whether neither the text nor any segment carries content.
func (e *ExtractedText) IsEmpty() bool {
	if e == nil {
		return true
	}
	if strings.TrimSpace(e.Text) != "" {
		return false
	}
	for _, seg := range e.Segments {
		if strings.TrimSpace(seg.Text) != "" {
			return false
		}
	}
	return true
}

// SourcedSegment is a corpus segment tagged with where it came from.
type SourcedSegment struct {
	Segment
	Source Source `json:"source"`
}

// Corpus is the merged, source tagged text fed to the recipe synthesizer.
type Corpus struct {
	Text     string           `json:"text"`
	Segments []SourcedSegment `json:"segments"`
	Sources  []Source         `json:"sources"`
	Timed    bool             `json:"timed"`
}

// IsEmpty reports whether no source contributed text.
func (c *Corpus) IsEmpty() bool {
	return c == nil || len(c.Sources) == 0
}

// Aggregate merges extractor outputs into one corpus. It is pure and accepts
// nil entries, empty entries and any subset of sources.
//
// Text holds one section per non-empty entry in source priority order, each
// introduced by a "=== <source> ===" marker. Timed segments render as
// "HH:MM:SS-HH:MM:SS: text", untimed segments as their bare text. Text that
// is not already covered by an entry's segments is copied verbatim after
// them, so no source ever loses text. Segments is the union of all segments
// ordered by start time with source priority breaking ties.
func Aggregate(texts []*ExtractedText) *Corpus {
	entries := make([]*ExtractedText, 0, len(texts))
	for _, t := range texts {
		if !t.IsEmpty() {
			entries = append(entries, t)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Source.priority() < entries[j].Source.priority()
	})

	out := &Corpus{
		Segments: make([]SourcedSegment, 0),
		Sources:  make([]Source, 0),
	}
	sections := make([]string, 0, len(entries))
	for _, entry := range entries {
		if len(out.Sources) == 0 || out.Sources[len(out.Sources)-1] != entry.Source {
			out.Sources = append(out.Sources, entry.Source)
		}
		sections = append(sections, "=== "+string(entry.Source)+" ===\n"+renderSection(entry))
		for _, seg := range entry.Segments {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
			out.Segments = append(out.Segments, SourcedSegment{Segment: seg, Source: entry.Source})
			if seg.IsTimed() {
				out.Timed = true
			}
		}
	}
	sort.SliceStable(out.Segments, func(i, j int) bool {
		a, b := out.Segments[i], out.Segments[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Source.priority() < b.Source.priority()
	})
	out.Text = strings.Join(sections, "\n\n")
	return out
}

func renderSection(entry *ExtractedText) string {
	lines := make([]string, 0, len(entry.Segments)+1)
	covered := make([]string, 0, len(entry.Segments))
	for _, seg := range entry.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		covered = append(covered, text)
		if seg.IsTimed() {
			lines = append(lines, FormatTimecode(seg.Start)+"-"+FormatTimecode(seg.End)+": "+text)
		} else {
			lines = append(lines, text)
		}
	}
	if strings.TrimSpace(entry.Text) != "" && !sameWords(entry.Text, strings.Join(covered, " ")) {
		lines = append(lines, entry.Text)
	}
	return strings.Join(lines, "\n")
}

func sameWords(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}
