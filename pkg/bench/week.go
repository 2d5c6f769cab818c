// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bench

import (
	"fmt"
	"regexp"
	"time"
)

var weekLabelRe = regexp.MustCompile(`^\d{4}-W\d{2}$`)

// WeekLabel formats t as an ISO-8601 week label, e.g. "2026-W35". The label
// is part of manifest identity, so it must be stable for a given instant.
func WeekLabel(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ValidWeekLabel reports whether s has the "YYYY-Www" shape.
func ValidWeekLabel(s string) bool {
	return weekLabelRe.MatchString(s)
}
