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
	"testing"

	"github.com/jaycherian/gcp-go-recipe-extractor/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubtitlesWebVTT(t *testing.T) {
	doc := "\xef\xbb\xbfWEBVTT\r\nKind: captions\r\nLanguage: ko\r\n\r\n" +
		"NOTE generated\r\n\r\n" +
		"1\r\n00:00:00.000 --> 00:00:05.000 align:start position:0%\r\n<c.colorE5E5E5>재료를</c> <00:00:01.500><c>준비합니다</c>\r\n\r\n" +
		"00:00:05.000 --> 00:00:05.010\r\n재료를 준비합니다\r\n\r\n" +
		"00:00:05.010 --> 00:00:09.000\r\n재료를 준비합니다\r\n김치를 &amp; 썰어요\r\n"

	segments, err := ParseSubtitles([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []model.Segment{
		{Text: "재료를 준비합니다", Start: 0, End: 5.01},
		{Text: "김치를 & 썰어요", Start: 5.01, End: 9},
	}, segments)
}

func TestParseSubtitlesSRT(t *testing.T) {
	doc := "1\n00:01:02,500 --> 00:01:04,000\n{\\an8}<i>센 불에</i> 볶아 주세요\n\n" +
		"2\n00:01:04,000 --> 00:01:07,250\n간장 2큰술\n"

	segments, err := ParseSubtitles([]byte(doc))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, model.Segment{Text: "센 불에 볶아 주세요", Start: 62.5, End: 64}, segments[0])
	assert.Equal(t, model.Segment{Text: "간장 2큰술", Start: 64, End: 67.25}, segments[1])
}

func TestParseSubtitlesMalformed(t *testing.T) {
	segments, err := ParseSubtitles([]byte("WEBVTT\n\n"))
	require.NoError(t, err)
	assert.Empty(t, segments)

	_, err = ParseSubtitles([]byte("1\nsoon --> later\ntext\n"))
	assert.Error(t, err)

	segments, err = ParseSubtitles([]byte("00:00:05.000 --> 00:00:01.000\nbackwards\n\n00:00:06.000 --> 00:00:07.000\nok\n"))
	require.NoError(t, err)
	assert.Equal(t, []model.Segment{{Text: "ok", Start: 6, End: 7}}, segments)
}
