// Package normalize rewrites raw answer text into speakable text.
// Everything here is pure: no state, no I/O, same output for the same
// input every call. The orchestration pipeline applies it per completed
// segment, not to the whole answer at once.
package normalize

import (
	"strings"
	"unicode"
)

var digitWords = [10]string{
	"zero", "one", "two", "three", "four",
	"five", "six", "seven", "eight", "nine",
}

// unitWords expands unit suffixes attached to or following a number.
var unitWords = map[string]string{
	"%":   "percent",
	"km":  "kilometers",
	"m":   "meters",
	"cm":  "centimeters",
	"mm":  "millimeters",
	"kg":  "kilograms",
	"g":   "grams",
	"mg":  "milligrams",
	"ms":  "milliseconds",
	"kb":  "kilobytes",
	"mb":  "megabytes",
	"gb":  "gigabytes",
	"mhz": "megahertz",
	"ghz": "gigahertz",
	"°c":  "degrees celsius",
	"°f":  "degrees fahrenheit",
}

// Text returns the speakable form of text: digit runs are read per
// digit, decimals become "<digits> point <digits>", and known unit
// suffixes are spelled out. Text is idempotent on already-normalized
// input since that contains no digits.
func Text(text string) string {
	var out strings.Builder
	out.Grow(len(text) * 2)

	runes := []rune(text)
	lastWasNumber := false
	for i := 0; i < len(runes); {
		r := runes[i]

		if unicode.IsDigit(r) {
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			whole := string(runes[start:i])

			var fraction string
			if i+1 < len(runes) && runes[i] == '.' && unicode.IsDigit(runes[i+1]) {
				i++
				fracStart := i
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
				fraction = string(runes[fracStart:i])
			}

			writeSpaced(&out, spellDigits(whole))
			if fraction != "" {
				writeSpaced(&out, "point")
				writeSpaced(&out, spellDigits(fraction))
			}

			// A unit glued to the number ("5km", "37°C") is spoken too.
			if unit, width := trailingUnit(runes[i:]); unit != "" {
				writeSpaced(&out, unit)
				i += width
			}
			lastWasNumber = true
			continue
		}

		// A standalone unit token right after a number ("5 km").
		if lastWasNumber && isUnitStart(r) {
			if unit, width := trailingUnit(runes[i:]); unit != "" {
				writeSpaced(&out, unit)
				i += width
				lastWasNumber = false
				continue
			}
		}

		if !unicode.IsSpace(r) {
			lastWasNumber = false
		}
		out.WriteRune(r)
		i++
	}

	return out.String()
}

// spellDigits reads a digit run one digit at a time ("1980" becomes
// "one nine eight zero").
func spellDigits(digits string) string {
	words := make([]string, 0, len(digits))
	for _, r := range digits {
		words = append(words, digitWords[r-'0'])
	}
	return strings.Join(words, " ")
}

// trailingUnit matches the longest known unit at the start of rest,
// requiring a word boundary after it. Returns the spoken unit and the
// number of runes consumed.
func trailingUnit(rest []rune) (string, int) {
	skipped := 0
	for skipped < len(rest) && rest[skipped] == ' ' {
		skipped++
	}

	for width := 3; width >= 1; width-- {
		if skipped+width > len(rest) {
			continue
		}
		candidate := strings.ToLower(string(rest[skipped : skipped+width]))
		spoken, ok := unitWords[candidate]
		if !ok {
			continue
		}
		end := skipped + width
		if end < len(rest) && (unicode.IsLetter(rest[end]) || unicode.IsDigit(rest[end])) {
			continue
		}
		return spoken, end
	}
	return "", 0
}

func isUnitStart(r rune) bool {
	return r == ' ' || r == '%' || r == '°' || unicode.IsLetter(r)
}

// writeSpaced writes word, inserting a separating space when the
// builder does not already end in whitespace.
func writeSpaced(out *strings.Builder, word string) {
	if s := out.String(); len(s) > 0 && !strings.HasSuffix(s, " ") {
		out.WriteByte(' ')
	}
	out.WriteString(word)
}
