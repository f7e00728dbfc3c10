package languages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidLanguage(t *testing.T) {
	for _, code := range Codes() {
		assert.True(t, IsValidLanguage(code), "code %q should be valid", code)
	}
	assert.False(t, IsValidLanguage("xx"))
	assert.False(t, IsValidLanguage(""))
	assert.False(t, IsValidLanguage("ES"))
}

func TestGetSupportedLanguages(t *testing.T) {
	langs := GetSupportedLanguages()
	assert.Len(t, langs, len(Codes()))
	for _, l := range langs {
		assert.NotEmpty(t, l.Name)
		assert.NotEmpty(t, l.Code)
	}
}
