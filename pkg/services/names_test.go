package services

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchemaName(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name, err := GenerateSchemaName()
		require.NoError(t, err)
		assert.Len(t, name, 30)
		assert.True(t, unicode.IsLetter(rune(name[0])), "name %q must start with a letter", name)
		assert.Empty(t, strings.Trim(name, alphanumerics))
		assert.False(t, seen[name])
		seen[name] = true
	}
}

func TestGeneratePassword(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword()
		require.NoError(t, err)
		assert.Len(t, pw, 30)
		assert.True(t, unicode.IsLetter(rune(pw[0])))
		assert.True(t, strings.ContainsAny(pw, letters))
		assert.True(t, strings.ContainsAny(pw, digits))
		assert.Empty(t, strings.Trim(pw, alphanumerics))
	}
}
