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
	"strconv"
	"time"
)

// DateLayout is the canonical rendering of dates.
const DateLayout = "2006-01-02"

var monthWords = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdayWords = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var relativeDays = map[string]int{
	"today": 0, "tonight": 0, "tomorrow": 1, "yesterday": -1,
}

func (s *scan) today() time.Time {
	y, m, d := s.now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.now.Location())
}

func matchDate(s *scan, i int) (int, string, bool) {
	if end, t, ok := s.readISODate(i); ok {
		return end, t.Format(DateLayout), true
	}
	if !s.english {
		return 0, "", false
	}

	w := s.word(i)
	if days, ok := relativeDays[w]; ok {
		return i + 1, s.today().AddDate(0, 0, days).Format(DateLayout), true
	}
	if w == "next" || w == "this" {
		if wd, ok := weekdayWords[s.word(i + 1)]; ok {
			return i + 2, s.weekday(wd, w == "next").Format(DateLayout), true
		}
	}
	if wd, ok := weekdayWords[w]; ok {
		return i + 1, s.weekday(wd, false).Format(DateLayout), true
	}

	// "october 20th", "october 20, 2026"
	if month, ok := monthWords[w]; ok {
		if day, end, ok := s.readDay(i + 1); ok {
			year, yearEnd, hasYear := s.readYear(end)
			if hasYear {
				end = yearEnd
			}
			if t, ok := s.calendarDate(year, hasYear, month, day); ok {
				return end, t.Format(DateLayout), true
			}
		}
	}
	// "20 october", "the 20th of october 2026"
	if day, end, ok := s.readDay(i); ok {
		if s.word(end) == "of" {
			end++
		}
		if month, ok := monthWords[s.word(end)]; ok {
			end++
			year, yearEnd, hasYear := s.readYear(end)
			if hasYear {
				end = yearEnd
			}
			if t, ok := s.calendarDate(year, hasYear, month, day); ok {
				return end, t.Format(DateLayout), true
			}
		}
	}
	return 0, "", false
}

// readISODate reads "YYYY-MM-DD" spread over five touching tokens.
func (s *scan) readISODate(i int) (int, time.Time, bool) {
	y, m, d := s.word(i), s.word(i+2), s.word(i+4)
	if len(y) != 4 || !isDigits(y) || !isDigits(m) || !isDigits(d) || len(m) > 2 || len(d) > 2 {
		return 0, time.Time{}, false
	}
	if s.word(i+1) != "-" || s.word(i+3) != "-" {
		return 0, time.Time{}, false
	}
	for k := i; k < i+4; k++ {
		if !s.adjacent(k) {
			return 0, time.Time{}, false
		}
	}
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	t, ok := validDate(year, time.Month(month), day, s.now.Location())
	return i + 5, t, ok
}

// readDay reads a day of month written as digits or as an ordinal.
func (s *scan) readDay(i int) (int, int, bool) {
	w := s.word(i)
	if isDigits(w) && len(w) <= 2 {
		day, _ := strconv.Atoi(w)
		if day >= 1 && day <= 31 {
			return day, i + 1, true
		}
		return 0, 0, false
	}
	day, end, ok := s.readOrdinal(i)
	if !ok || day < 1 || day > 31 {
		return 0, 0, false
	}
	return day, end, true
}

// readYear reads an optional ", 2026" or "2026".
func (s *scan) readYear(i int) (int, int, bool) {
	j := i
	if s.word(j) == "," {
		j++
	}
	w := s.word(j)
	if len(w) != 4 || !isDigits(w) {
		return 0, 0, false
	}
	year, _ := strconv.Atoi(w)
	return year, j + 1, true
}

// calendarDate builds a date. Without an explicit year, the next occurrence
// of the day is used.
func (s *scan) calendarDate(year int, hasYear bool, month time.Month, day int) (time.Time, bool) {
	if hasYear {
		return validDate(year, month, day, s.now.Location())
	}
	today := s.today()
	t, ok := validDate(today.Year(), month, day, s.now.Location())
	if ok && !t.Before(today) {
		return t, true
	}
	return validDate(today.Year()+1, month, day, s.now.Location())
}

// weekday returns the next occurrence of wd, today included unless strict.
func (s *scan) weekday(wd time.Weekday, strict bool) time.Time {
	today := s.today()
	delta := (int(wd) - int(today.Weekday()) + 7) % 7
	if delta == 0 && strict {
		delta = 7
	}
	return today.AddDate(0, 0, delta)
}

func validDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
