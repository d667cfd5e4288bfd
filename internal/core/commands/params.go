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

package commands

// Well known context keys. Commands pipe their primary value through
// cor.CtxIn / cor.CtxOut; values later commands need out of band are also
// stored under one of these keys.
const (
	ParamReference  = "__VIDEO_REFERENCE__"
	ParamAsset      = "__MEDIA_ASSET__"
	ParamTexts      = "__EXTRACTED_TEXTS__"
	ParamCorpus     = "__CORPUS__"
	ParamRawRecipe  = "__RAW_RECIPE__"
	ParamRecipe     = "__RECIPE__"
	ParamJobID      = "__JOB_ID__"
	ParamArchiveURI = "__ARCHIVE_URI__"
)
