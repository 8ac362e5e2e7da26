package domain

import "regexp"

// e164 matches the E.164 international phone number format: a leading plus,
// a non-zero country code digit, and up to 14 further digits.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidE164 reports whether number is a syntactically valid E.164 number.
func ValidE164(number string) bool {
	return e164.MatchString(number)
}
