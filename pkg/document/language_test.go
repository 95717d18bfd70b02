package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"The quick brown fox.", LanguageAuto},
		{"El zorro marrón rápido.", LanguageAuto},
		{"", LanguageAuto},
		{"12345 !?", LanguageAuto},
		{"مرحبا بالعالم", "ar"},
		{"Привет мир", "ru"},
		{"你好世界", "zh"},
		{"こんにちは世界", "ja"},
		{"안녕하세요", "ko"},
		{"Γειά σου κόσμε", "el"},
		{"hello world مرحبا", LanguageAuto},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.text), tt.text)
	}
}
