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
	"strings"
)

var unitWords = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
	"seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]float64{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]float64{
	"thousand": 1e3, "million": 1e6, "billion": 1e9,
}

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11,
	"twelfth": 12, "thirteenth": 13, "fourteenth": 14, "fifteenth": 15,
	"sixteenth": 16, "seventeenth": 17, "eighteenth": 18, "nineteenth": 19,
	"twentieth": 20, "thirtieth": 30,
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// formatNumber renders v in its shortest decimal form.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// readNumber reads a cardinal number starting at token i.
func (s *scan) readNumber(i int) (float64, int, bool) {
	w := s.word(i)
	if isDigits(w) {
		digits := w
		end := i + 1
		// thousands separators, "1,000"
		for s.adjacent(end-1) && s.word(end) == "," && s.adjacent(end) &&
			len(s.word(end+1)) == 3 && isDigits(s.word(end+1)) {
			digits += s.word(end + 1)
			end += 2
		}
		if s.adjacent(end-1) && s.word(end) == "." && s.adjacent(end) && isDigits(s.word(end+1)) {
			digits += "." + s.word(end+1)
			end += 2
		}
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0, 0, false
		}
		return v, end, true
	}
	if !s.english {
		return 0, 0, false
	}
	return s.readNumberWords(i)
}

type numberWord int

const (
	wordNone numberWord = iota
	wordUnit
	wordTeen
	wordTens
	wordHundred
	wordScale
)

// readNumberWords reads a spelled-out English number such as
// "two hundred and forty-five".
func (s *scan) readNumberWords(i int) (float64, int, bool) {
	var total, current float64
	last := wordNone
	end := i
	for j := i; j < len(s.words); j++ {
		w := s.words[j]
		if u, ok := unitWords[w]; ok {
			if last != wordNone && last != wordTens && last != wordHundred && last != wordScale {
				break
			}
			if last == wordTens && u >= 10 {
				break
			}
			current += u
			last = wordUnit
			if u >= 10 {
				last = wordTeen
			}
			end = j + 1
			continue
		}
		if t, ok := tensWords[w]; ok {
			if last != wordNone && last != wordHundred && last != wordScale {
				break
			}
			current += t
			last = wordTens
			end = j + 1
			continue
		}
		if w == "hundred" {
			if last != wordUnit && last != wordTeen {
				break
			}
			current *= 100
			last = wordHundred
			end = j + 1
			continue
		}
		if scale, ok := scaleWords[w]; ok {
			if last == wordNone || last == wordScale {
				break
			}
			total += current * scale
			current = 0
			last = wordScale
			end = j + 1
			continue
		}
		if w == "and" && (last == wordHundred || last == wordScale) && s.startsNumberWord(j+1) {
			continue
		}
		if w == "-" && last == wordTens && s.adjacent(j-1) && s.adjacent(j) {
			if u, ok := unitWords[s.word(j+1)]; ok && u > 0 && u < 10 {
				continue
			}
		}
		break
	}
	if end == i {
		return 0, 0, false
	}
	return total + current, end, true
}

func (s *scan) startsNumberWord(i int) bool {
	w := s.word(i)
	_, unit := unitWords[w]
	_, tens := tensWords[w]
	return unit || tens
}

func matchNumber(s *scan, i int) (int, string, bool) {
	v, end, ok := s.readNumber(i)
	if !ok {
		return 0, "", false
	}
	return end, formatNumber(v), true
}

// readOrdinal reads "3rd", "twenty first" or "third" starting at token i.
func (s *scan) readOrdinal(i int) (int, int, bool) {
	w := s.word(i)
	if n, ok := parseOrdinalDigits(w); ok {
		return n, i + 1, true
	}
	if !s.english {
		return 0, 0, false
	}
	if n, ok := ordinalWords[w]; ok {
		return n, i + 1, true
	}
	if t, ok := tensWords[w]; ok {
		next := i + 1
		if s.word(next) == "-" && s.adjacent(i) && s.adjacent(next) {
			next++
		}
		if n, ok := ordinalWords[s.word(next)]; ok && n < 10 {
			return int(t) + n, next + 1, true
		}
	}
	return 0, 0, false
}

func parseOrdinalDigits(w string) (int, bool) {
	if len(w) < 3 {
		return 0, false
	}
	digits, suffix := w[:len(w)-2], w[len(w)-2:]
	if !isDigits(digits) {
		return 0, false
	}
	switch suffix {
	case "st", "nd", "rd", "th":
	default:
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// formatOrdinal renders n with its English suffix, e.g. "3rd" or "11th".
func formatOrdinal(n int) string {
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func matchOrdinal(s *scan, i int) (int, string, bool) {
	n, end, ok := s.readOrdinal(i)
	if !ok {
		return 0, "", false
	}
	return end, formatOrdinal(n), true
}

func matchPercentage(s *scan, i int) (int, string, bool) {
	v, end, ok := s.readNumber(i)
	if !ok {
		return 0, "", false
	}
	switch {
	case s.word(end) == "%":
		end++
	case s.english && s.word(end) == "percent":
		end++
	case s.english && s.word(end) == "per" && s.word(end+1) == "cent":
		end += 2
	default:
		return 0, "", false
	}
	return end, formatNumber(v) + "%", true
}

var temperatureUnits = map[string]string{
	"c": "C", "celsius": "C", "centigrade": "C",
	"f": "F", "fahrenheit": "F",
}

func matchTemperature(s *scan, i int) (int, string, bool) {
	sign := 1.0
	start := i
	switch {
	case s.word(i) == "-" && s.adjacent(i):
		sign, start = -1, i+1
	case s.english && s.word(i) == "minus":
		sign, start = -1, i+1
	}
	v, end, ok := s.readNumber(start)
	if !ok {
		return 0, "", false
	}
	switch {
	case s.word(end) == "°":
		end++
	case s.english && (s.word(end) == "degree" || s.word(end) == "degrees"):
		end++
	default:
		return 0, "", false
	}
	unit := ""
	if u, ok := temperatureUnits[s.word(end)]; ok {
		unit = u
		end++
	}
	return end, formatNumber(sign*v) + "°" + unit, true
}

// joinAdjacent concatenates the normalized tokens starting at i that touch
// each other, returning every prefix with its end index.
func (s *scan) joinAdjacent(i, maxTokens int) ([]string, []int) {
	var (
		prefixes []string
		ends     []int
		sb       strings.Builder
	)
	for j := i; j < len(s.words) && j-i < maxTokens; j++ {
		if j > i && !s.adjacent(j-1) {
			break
		}
		sb.WriteString(s.words[j])
		prefixes = append(prefixes, sb.String())
		ends = append(ends, j+1)
	}
	return prefixes, ends
}
