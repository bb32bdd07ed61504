package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := GenerateRoomCode()
		assert.Len(t, code, minRoomCodeLen)
		assert.Nil(t, validateRoomCode(code), "generated code must satisfy the schema: %q", code)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(roomCodeAlphabet, r))
		}
	}
}

func TestRoomCodeAlphabetOmitsAmbiguousRunes(t *testing.T) {
	for _, r := range "OI01" {
		assert.NotContains(t, roomCodeAlphabet, string(r))
	}
}

func TestNormalizeColor(t *testing.T) {
	assert.Equal(t, "#38bdf8", NormalizeColor("#38bdf8"))
	assert.Equal(t, "#38bdf8", NormalizeColor("#38BDF8"))
	assert.Equal(t, "", NormalizeColor("38bdf8"))
	assert.Equal(t, "", NormalizeColor("#38bdf"))
	assert.Equal(t, "", NormalizeColor("#38bdg8"))
	assert.Equal(t, "", NormalizeColor(""))
}
