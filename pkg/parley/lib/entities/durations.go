// Copyright 2025 Antfly, Inc.
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

package entities

import (
	"regexp"
	"strconv"
	"strings"
)

type durationUnit int

const (
	unitYears durationUnit = iota
	unitMonths
	unitWeeks
	unitDays
	unitHours
	unitMinutes
	unitSeconds
	numDurationUnits
)

var durationUnitWords = map[string]durationUnit{
	"year": unitYears, "years": unitYears, "yr": unitYears, "yrs": unitYears,
	"month": unitMonths, "months": unitMonths,
	"week": unitWeeks, "weeks": unitWeeks, "wk": unitWeeks, "wks": unitWeeks,
	"day": unitDays, "days": unitDays,
	"hour": unitHours, "hours": unitHours, "hr": unitHours, "hrs": unitHours,
	"minute": unitMinutes, "minutes": unitMinutes, "min": unitMinutes, "mins": unitMinutes,
	"second": unitSeconds, "seconds": unitSeconds, "sec": unitSeconds, "secs": unitSeconds,
}

// durationParts holds the amount of each unit of a duration.
type durationParts [numDurationUnits]float64

// format renders the parts as an ISO 8601 duration, e.g. "PT1H30M".
func (d durationParts) format() string {
	var sb strings.Builder
	sb.WriteByte('P')
	for u, designator := range []string{"Y", "M", "W", "D"} {
		if d[u] != 0 {
			sb.WriteString(formatNumber(d[u]) + designator)
		}
	}
	if d[unitHours] != 0 || d[unitMinutes] != 0 || d[unitSeconds] != 0 {
		sb.WriteByte('T')
		for i, designator := range []string{"H", "M", "S"} {
			if v := d[int(unitHours)+i]; v != 0 {
				sb.WriteString(formatNumber(v) + designator)
			}
		}
	}
	if sb.Len() == 1 {
		return "PT0S"
	}
	return sb.String()
}

const isoNumber = `(\d+(?:\.\d+)?)`

var isoDuration = regexp.MustCompile(`^P(?:` + isoNumber + `Y)?(?:` + isoNumber + `M)?(?:` + isoNumber + `W)?(?:` + isoNumber + `D)?` +
	`(?:T(?:` + isoNumber + `H)?(?:` + isoNumber + `M)?(?:` + isoNumber + `S)?)?$`)

// parseISODuration parses an ISO 8601 duration such as "P1DT2H".
func parseISODuration(s string) (durationParts, bool) {
	var d durationParts
	s = strings.ToUpper(s)
	if s == "P" || strings.HasSuffix(s, "T") {
		return d, false
	}
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return d, false
	}
	for u := range numDurationUnits {
		if m[u+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[u+1], 64)
		if err != nil {
			return d, false
		}
		d[u] = v
	}
	return d, true
}

func matchDuration(s *scan, i int) (int, string, bool) {
	// ISO 8601 form, possibly split by the tokenizer around a decimal point
	prefixes, ends := s.joinAdjacent(i, 8)
	for k := len(prefixes) - 1; k >= 0; k-- {
		if d, ok := parseISODuration(prefixes[k]); ok {
			return ends[k], d.format(), true
		}
	}
	if !s.english {
		return 0, "", false
	}

	var d durationParts
	end, j := i, i
	for {
		qty, next, ok := s.readQuantity(j)
		if !ok {
			break
		}
		unit, ok := durationUnitWords[s.word(next)]
		if !ok {
			break
		}
		d[unit] += qty
		end = next + 1
		j = end
		if w := s.word(j); w == "and" || w == "," {
			j++
		}
	}
	if end == i {
		return 0, "", false
	}
	return end, d.format(), true
}

// readQuantity reads a number, or "a"/"an" meaning one.
func (s *scan) readQuantity(i int) (float64, int, bool) {
	if w := s.word(i); w == "a" || w == "an" {
		return 1, i + 1, true
	}
	return s.readNumber(i)
}
