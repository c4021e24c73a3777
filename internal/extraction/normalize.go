package extraction

import (
	"strconv"
	"strings"
)

// NormalizeAmount converts a currency string in any of the source formats
// ("311.572,10", "1,234,567", "$ 850000") into the canonical thousands-comma
// form used in the report ("311,572"). Returns empty when the input carries
// no usable number.
func NormalizeAmount(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return ""
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator
		// (Colombian PDFs use 311.572,10).
		if lastComma > lastDot {
			s = strings.ReplaceAll(s[:lastComma], ".", "")
		} else {
			s = strings.ReplaceAll(s[:lastDot], ",", "")
		}
	case lastComma >= 0:
		// Comma only: decimal when exactly two trailing digits, thousands otherwise.
		if len(s)-lastComma == 3 && strings.Count(s, ",") == 1 {
			s = s[:lastComma]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if len(s)-lastDot == 3 && strings.Count(s, ".") == 1 {
			s = s[:lastDot]
		} else {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		return ""
	}
	return FormatAmount(value)
}

// FormatAmount renders an integer premium with thousands separators.
func FormatAmount(value int64) string {
	digits := strconv.FormatInt(value, 10)
	neg := false
	if strings.HasPrefix(digits, "-") {
		neg = true
		digits = digits[1:]
	}

	var b strings.Builder
	pre := len(digits) % 3
	if pre > 0 {
		b.WriteString(digits[:pre])
	}
	for i := pre; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	out := b.String()
	if neg {
		out = "-" + out
	}
	return out
}
