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

package model_test

import (
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTexts() map[model.Source]*model.ExtractedText {
	return map[model.Source]*model.ExtractedText{
		model.SourceCaption: model.NewSegmentedText(model.SourceCaption, []model.Segment{
			{Text: "재료를 준비합니다", Start: 0, End: 5},
			{Text: "김치를 볶아요", Start: 5, End: 12},
		}),
		model.SourceSpeech: model.NewSegmentedText(model.SourceSpeech, []model.Segment{
			{Text: "오늘은 김치찌개를 만들어 볼게요", Start: 1, End: 4},
		}),
		model.SourceVisual: {Source: model.SourceVisual, Text: "신김치 300g\n돼지고기 200g"},
	}
}

// TestAggregateSubsets checks every combination of zero to three non-empty
// sources: aggregation must never panic and must keep every non-empty
// source's text.
func TestAggregateSubsets(t *testing.T) {
	all := sampleTexts()
	sources := model.SourcePriority

	for mask := 0; mask < 1<<len(sources); mask++ {
		in := make([]*model.ExtractedText, 0, len(sources))
		present := make([]model.Source, 0)
		for i, source := range sources {
			if mask&(1<<i) != 0 {
				in = append(in, all[source])
				present = append(present, source)
			} else {
				// absent sources arrive as empty results, as they do from failed extractors
				in = append(in, model.NewEmptyExtractedText(source))
			}
		}

		var corpus *model.Corpus
		require.NotPanics(t, func() { corpus = model.Aggregate(in) })
		require.NotNil(t, corpus)
		assert.Equal(t, present, corpus.Sources)
		assert.Equal(t, len(present) == 0, corpus.IsEmpty())

		for _, source := range present {
			assert.Contains(t, corpus.Text, "=== "+string(source)+" ===")
			for _, seg := range all[source].Segments {
				assert.Contains(t, corpus.Text, seg.Text)
			}
			if len(all[source].Segments) == 0 {
				assert.Contains(t, corpus.Text, all[source].Text)
			}
		}
	}
}

func TestAggregateNilAndEmptyInput(t *testing.T) {
	assert.True(t, model.Aggregate(nil).IsEmpty())
	corpus := model.Aggregate([]*model.ExtractedText{nil, {Source: model.SourceSpeech, Text: "   "}})
	assert.True(t, corpus.IsEmpty())
	assert.Equal(t, "", corpus.Text)
	assert.False(t, corpus.Timed)
}

func TestAggregateOrdering(t *testing.T) {
	all := sampleTexts()
	// deliberately reversed input order
	corpus := model.Aggregate([]*model.ExtractedText{all[model.SourceVisual], all[model.SourceSpeech], all[model.SourceCaption]})

	captionAt := strings.Index(corpus.Text, "=== caption ===")
	speechAt := strings.Index(corpus.Text, "=== speech ===")
	visualAt := strings.Index(corpus.Text, "=== visual ===")
	assert.True(t, captionAt < speechAt && speechAt < visualAt, corpus.Text)

	require.Len(t, corpus.Segments, 3)
	assert.Equal(t, "재료를 준비합니다", corpus.Segments[0].Text)
	assert.Equal(t, "오늘은 김치찌개를 만들어 볼게요", corpus.Segments[1].Text)
	assert.Equal(t, model.SourceSpeech, corpus.Segments[1].Source)
	assert.Equal(t, "김치를 볶아요", corpus.Segments[2].Text)
	assert.True(t, corpus.Timed)
}

func TestAggregateTiesFollowPriority(t *testing.T) {
	corpus := model.Aggregate([]*model.ExtractedText{
		{Source: model.SourceVisual, Text: "화면", Segments: []model.Segment{{Text: "화면", Start: 3, End: 6}}},
		{Source: model.SourceCaption, Text: "자막", Segments: []model.Segment{{Text: "자막", Start: 3, End: 5}}},
	})
	require.Len(t, corpus.Segments, 2)
	assert.Equal(t, model.SourceCaption, corpus.Segments[0].Source)
	assert.Equal(t, model.SourceVisual, corpus.Segments[1].Source)
}

func TestAggregateRendersTimedLines(t *testing.T) {
	caption := model.NewSegmentedText(model.SourceCaption, []model.Segment{{Text: "재료를 준비합니다", Start: 0, End: 5}})
	corpus := model.Aggregate([]*model.ExtractedText{caption})

	assert.Equal(t, "=== caption ===\n00:00:00-00:00:05: 재료를 준비합니다", corpus.Text)
}

func TestAggregateKeepsTextNotCoveredBySegments(t *testing.T) {
	speech := &model.ExtractedText{
		Source:   model.SourceSpeech,
		Text:     "전체 전사 내용",
		Segments: []model.Segment{{Text: "일부", Start: 1, End: 2}},
	}
	corpus := model.Aggregate([]*model.ExtractedText{speech})

	assert.Contains(t, corpus.Text, "00:00:01-00:00:02: 일부")
	assert.Contains(t, corpus.Text, "전체 전사 내용")
}

func TestAggregateUntimedOnly(t *testing.T) {
	visual := &model.ExtractedText{
		Source:   model.SourceVisual,
		Text:     "고춧가루 1큰술",
		Segments: []model.Segment{{Text: "고춧가루 1큰술", Start: 10, End: 10}},
	}
	corpus := model.Aggregate([]*model.ExtractedText{visual})

	assert.False(t, corpus.Timed)
	assert.Equal(t, "=== visual ===\n고춧가루 1큰술", corpus.Text)
}

func TestExtractedTextIsEmpty(t *testing.T) {
	var nilText *model.ExtractedText
	assert.True(t, nilText.IsEmpty())
	assert.True(t, model.NewEmptyExtractedText(model.SourceCaption).IsEmpty())
	assert.False(t, (&model.ExtractedText{Segments: []model.Segment{{Text: "x"}}}).IsEmpty())
	assert.False(t, (&model.ExtractedText{Text: "x"}).IsEmpty())
}
