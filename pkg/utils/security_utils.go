package utils

import "regexp"

// MaskedNumber stands in for any digit run long enough to be a card,
// account or phone number. It contains no digits, so masking twice is a no-op.
const MaskedNumber = "[MASKED_NUMBER]"

var longDigitRun = regexp.MustCompile(`\d{8,}`)

// MaskPersonalData blanks digit runs of eight or more before free-form text
// reaches logs or downstream topics. Shorter runs (amounts, hours, pin codes)
// pass through untouched.
func MaskPersonalData(text string) string {
	return longDigitRun.ReplaceAllString(text, MaskedNumber)
}
