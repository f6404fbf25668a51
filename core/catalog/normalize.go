package catalog

import (
	"strings"

	"golang.org/x/text/cases"
)

// Normalize folds case and collapses whitespace so user input can be
// compared with labels and keywords in any supported script.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}
