// Package formula protects math and LaTeX spans from machine translation.
//
// Strip replaces every detected span with a sequential placeholder token
// (__FORMULA_0__, __FORMULA_1__, ...) and returns the mapping needed to put
// the spans back. Restore performs the reverse substitution after translation.
package formula

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	placeholderPrefix = "__FORMULA_"
	placeholderSuffix = "__"
)

var (
	// placeholderRe matches tokens produced by Placeholder.
	placeholderRe = regexp.MustCompile(`__FORMULA_(\d+)__`)

	// spanRe detects display math, inline math and backslash commands.
	// Placeholder-shaped input is captured first so that it round-trips
	// instead of colliding with generated tokens.
	spanRe = regexp.MustCompile(
		`__FORMULA_\d+__` +
			`|\$\$[\s\S]*?\$\$` +
			`|\$[^$]*\$` +
			`|\\\w+\{[^}]*\}` +
			`|\\\w+\[[\^\w]+\]` +
			`|\\[a-zA-Z]+`)
)

// Map associates placeholder tokens with the original formula text.
type Map map[string]string

// Placeholders returns the map keys ordered by their sequence number.
func (m Map) Placeholders() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return placeholderIndex(keys[i]) < placeholderIndex(keys[j])
	})
	return keys
}

// Placeholder returns the token used for the i-th formula.
func Placeholder(i int) string {
	return fmt.Sprintf("%s%d%s", placeholderPrefix, i, placeholderSuffix)
}

// Strip replaces every formula span in text with a unique placeholder.
// Replacement is positional, so repeated formulas get distinct tokens.
func Strip(text string) (string, Map) {
	formulas := make(Map)
	next := 0

	clean := spanRe.ReplaceAllStringFunc(text, func(span string) string {
		token := Placeholder(next)
		formulas[token] = span
		next++
		return token
	})

	return clean, formulas
}

// Restore puts the original formulas back in place of their placeholders.
// Every occurrence of a known token is replaced in a single pass; restored
// text is never scanned again. Tokens from the map that do not appear in the
// text are returned as missing, ordered by sequence number.
func Restore(text string, formulas Map) (string, []string) {
	if len(formulas) == 0 {
		return text, nil
	}

	seen := make(map[string]bool, len(formulas))
	restored := placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		original, ok := formulas[token]
		if !ok {
			return token
		}
		seen[token] = true
		return original
	})

	var missing []string
	for _, token := range formulas.Placeholders() {
		if !seen[token] {
			missing = append(missing, token)
		}
	}

	return restored, missing
}

// Count returns how many placeholder tokens appear in text.
func Count(text string) int {
	return len(placeholderRe.FindAllStringIndex(text, -1))
}

func placeholderIndex(token string) int {
	digits := strings.TrimSuffix(strings.TrimPrefix(token, placeholderPrefix), placeholderSuffix)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return -1
	}
	return n
}
