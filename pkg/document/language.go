package document

import "unicode"

// LanguageAuto is reported when the script does not identify a language.
const LanguageAuto = "auto"

// scriptLanguages maps scripts that are used by essentially one language
// (or one dominant one) to its ISO 639-1 code.
var scriptLanguages = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Arabic, "ar"},
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Hangul, "ko"},
	{unicode.Han, "zh"},
	{unicode.Cyrillic, "ru"},
	{unicode.Greek, "el"},
	{unicode.Hebrew, "he"},
	{unicode.Devanagari, "hi"},
}

// minScriptShare is the share of letters a script needs before it decides
// the language.
const minScriptShare = 0.6

// DetectLanguage guesses the language of text from its dominant script.
// Latin-script and mixed text returns LanguageAuto.
func DetectLanguage(text string) string {
	counts := make(map[string]int)
	letters := 0

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for _, s := range scriptLanguages {
			if unicode.Is(s.table, r) {
				counts[s.code]++
				break
			}
		}
	}

	if letters == 0 {
		return LanguageAuto
	}

	// Kana marks Japanese even when Han characters dominate.
	if counts["ja"] > 0 && float64(counts["ja"]+counts["zh"])/float64(letters) >= minScriptShare {
		return "ja"
	}

	best, bestCount := "", 0
	for code, n := range counts {
		if n > bestCount || (n == bestCount && code < best) {
			best, bestCount = code, n
		}
	}
	if best == "" || float64(bestCount)/float64(letters) < minScriptShare {
		return LanguageAuto
	}
	return best
}
