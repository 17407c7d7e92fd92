package validate

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Ratio returns the Ratcliff/Obershelp similarity of a and b, compared
// character by character: twice the matched characters over the total
// length. The suggestion thresholds are calibrated against this measure.
func Ratio(a, b string) float64 {
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}
