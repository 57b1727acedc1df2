/*
Copyright 2024 Cardroom Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cardroomhq/cardroom/model"
)

// StartHappyHour is the admin request for opening a bonus window manually.
type StartHappyHour struct {
	Multiplier  float64 `json:"multiplier"`
	DurationMin int     `json:"duration_min"`
	BonusType   string  `json:"bonus_type"`
}

func (s *StartHappyHour) ValidateStartHappyHour() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Multiplier, validation.Required, validation.Min(1.0), validation.Max(10.0)),
		validation.Field(&s.DurationMin, validation.Required, validation.Min(1), validation.Max(24*60)),
		validation.Field(&s.BonusType, validation.Required, validation.In(model.BonusTypeWinnings, model.BonusTypeBingo)),
	)
}

// StartDistribution triggers a manual dividend cycle. The body is optional;
// an empty one runs a full cycle.
type StartDistribution struct {
	Reason string `json:"reason"`
}

func (s *StartDistribution) ValidateStartDistribution() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Reason, validation.Length(0, 256)),
	)
}
