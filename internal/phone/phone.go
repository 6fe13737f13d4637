// Package phone normalizes Kenyan mobile numbers to the +254 canonical
// form used by the payment gateway.
package phone

import (
	"regexp"
	"strings"
)

// CountryPrefix is the canonical Kenyan dialing prefix.
const CountryPrefix = "+254"

var (
	canonicalRe = regexp.MustCompile(`^\+254[0-9]{9}$`)
	nonDigitRe  = regexp.MustCompile(`\D`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Normalize converts local phone formats to +254XXXXXXXXX.
// Accepted inputs: bare 9-digit subscriber numbers starting with 7 or 1,
// 10-digit numbers with a leading 0, and 254-prefixed numbers with or
// without the plus. Anything longer keeps its last 9 digits — lossy but
// deterministic. Empty input is returned unchanged; the caller enforces
// the non-empty requirement.
func Normalize(input string) string {
	if input == "" {
		return input
	}

	cleaned := spaceRe.ReplaceAllString(strings.TrimSpace(input), "")

	if strings.HasPrefix(cleaned, CountryPrefix) {
		digits := nonDigitRe.ReplaceAllString(cleaned[len(CountryPrefix):], "")
		if len(digits) == 10 && strings.HasPrefix(digits, "0") {
			digits = digits[1:]
		}
		if len(digits) == 9 {
			return CountryPrefix + digits
		}
		return cleaned
	}

	cleaned = nonDigitRe.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return input
	}

	if strings.HasPrefix(cleaned, "254") {
		cleaned = cleaned[3:]
	}
	if len(cleaned) == 10 && strings.HasPrefix(cleaned, "0") {
		cleaned = cleaned[1:]
	}
	if len(cleaned) > 9 {
		cleaned = cleaned[len(cleaned)-9:]
	}

	return CountryPrefix + cleaned
}

// Valid reports whether the number normalizes to a Kenyan mobile number.
func Valid(input string) bool {
	return canonicalRe.MatchString(Normalize(input))
}

// Prefill returns the value an empty phone field should take on focus.
// Populated values are left alone so editing never clobbers user input.
func Prefill(current string) string {
	if strings.TrimSpace(current) == "" {
		return CountryPrefix
	}
	return current
}

// FormatDisplay rewrites keystroke-level input into the +254 display form
// the payment forms show while the user types. Over-long input is capped
// at 10 local digits and a leading 0 on a full local number is dropped.
func FormatDisplay(raw string) string {
	if raw == "" {
		return ""
	}

	value := raw
	if !strings.HasPrefix(value, CountryPrefix) {
		digits := nonDigitRe.ReplaceAllString(value, "")
		if digits == "" {
			return CountryPrefix
		}
		value = CountryPrefix + digits
	}

	local := nonDigitRe.ReplaceAllString(value[len(CountryPrefix):], "")
	if len(local) > 10 {
		local = local[:10]
	}
	if len(local) == 10 && strings.HasPrefix(local, "0") {
		local = local[1:]
	}

	return CountryPrefix + local
}

// Mask hides the middle of a phone number for on-screen confirmation,
// e.g. "+254712345678" -> "07*****678".
func Mask(input string) string {
	if input == "" {
		return ""
	}

	cleaned := strings.TrimPrefix(strings.TrimPrefix(input, "+254"), "254")
	if !strings.HasPrefix(cleaned, "0") {
		cleaned = "0" + cleaned
	}
	if len(cleaned) < 5 {
		return cleaned
	}

	return cleaned[:2] + strings.Repeat("*", len(cleaned)-5) + cleaned[len(cleaned)-3:]
}

// MaskName keeps the first name and stars out the rest.
func MaskName(fullName string) string {
	trimmed := strings.TrimSpace(fullName)
	if trimmed == "" {
		return ""
	}

	parts := strings.Fields(trimmed)
	if len(parts) == 1 {
		return trimmed
	}

	rest := strings.TrimSpace(trimmed[len(parts[0]):])
	return parts[0] + " " + strings.Repeat("*", len(rest))
}
