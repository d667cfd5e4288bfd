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

// GetExampleRecipe returns the hardcoded recipe shown to the generative model
// as a few-shot example of the expected JSON document. Only fields the model
// is expected to produce are set.
func GetExampleRecipe() *Recipe {
	return &Recipe{
		Title:       "김치찌개",
		Description: "잘 익은 김치와 돼지고기로 끓이는 얼큰한 김치찌개",
		Ingredients: []*Ingredient{
			{Name: "신김치", Amount: NewText("300"), Unit: "g"},
			{Name: "돼지고기 앞다리살", Amount: NewText("200"), Unit: "g"},
			{Name: "두부", Amount: NewText("1/2"), Unit: "모"},
			{Name: "대파", Amount: NewText("1"), Unit: "대"},
			{Name: "고춧가루", Amount: NewText("1"), Unit: "큰술"},
			{Name: "물", Amount: NewText("500"), Unit: "ml"},
		},
		Tools: []string{"냄비", "도마", "칼"},
		Steps: []*Step{
			{
				StepNumber: 1,
				Title:      "재료 손질",
				StartTime:  "00:00:15",
				EndTime:    "00:01:10",
				Actions: []*Action{
					{Action: "김치와 돼지고기를 한입 크기로 썬다", Ingredients: []string{"신김치", "돼지고기 앞다리살"}, Tools: []string{"도마", "칼"}, Time: NewText("3분")},
					{Action: "두부와 대파를 썬다", Ingredients: []string{"두부", "대파"}, Tools: []string{"도마", "칼"}, Time: NewText("2분")},
				},
			},
			{
				StepNumber: 2,
				Title:      "볶기",
				StartTime:  "00:01:10",
				EndTime:    "00:02:30",
				Actions: []*Action{
					{Action: "냄비에 돼지고기와 김치를 넣고 볶는다", Ingredients: []string{"돼지고기 앞다리살", "신김치"}, Tools: []string{"냄비"}, Time: NewText("5분"), Tip: "김치가 투명해질 때까지 볶으면 국물이 깊어진다"},
				},
			},
			{
				StepNumber: 3,
				Title:      "끓이기",
				StartTime:  "00:02:30",
				EndTime:    "00:04:00",
				Actions: []*Action{
					{Action: "물과 고춧가루를 넣고 끓인다", Ingredients: []string{"물", "고춧가루"}, Tools: []string{"냄비"}, Time: NewText("15분")},
					{Action: "두부와 대파를 넣고 한소끔 더 끓인다", Ingredients: []string{"두부", "대파"}, Tools: []string{"냄비"}, Time: NewText("5분")},
				},
			},
		},
		CookingTime: NewText("30분"),
		Servings:    NewText("2인분"),
		Difficulty:  "쉬움",
		Tags:        []string{"한식", "찌개", "김치"},
	}
}
