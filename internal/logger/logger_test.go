// Copyright 2024 Google LLC
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

package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitTextFormat(t *testing.T) {
	Init(Config{Format: FormatText, Level: LevelInfo})
	assert.NotPanics(t, func() { Infof("hello %s", "world") })
}

func TestInitJSONFormat(t *testing.T) {
	Init(Config{Format: FormatJSON, Level: LevelTrace})
	assert.NotPanics(t, func() { Tracef("low level detail") })
}

func TestSeverityReplacerMapsKnownLevels(t *testing.T) {
	a := severityReplacer(nil, slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelWarning)})
	assert.Equal(t, "severity", a.Key)
	assert.Equal(t, "WARNING", a.Value.String())
}

func TestSeverityReplacerIgnoresOtherKeys(t *testing.T) {
	a := severityReplacer(nil, slog.Attr{Key: "msg", Value: slog.StringValue("x")})
	assert.Equal(t, "msg", a.Key)
}
