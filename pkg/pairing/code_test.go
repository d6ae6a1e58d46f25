package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[Code]bool)
	for i := 0; i < 100; i++ {
		c, err := GenerateCode()
		require.NoError(t, err)
		assert.LessOrEqual(t, uint32(c), uint32(CodeMax))
		assert.Len(t, c.String(), CodeLength)
		seen[c] = true
	}
	// 100 draws from a million values collide rarely enough that at
	// least two distinct codes is a safe bet.
	assert.Greater(t, len(seen), 1)
}

func TestParseCode(t *testing.T) {
	c, err := ParseCode("042100")
	require.NoError(t, err)
	assert.Equal(t, Code(42100), c)
	assert.Equal(t, "042100", c.String())

	c, err = ParseCode("  999999\n")
	require.NoError(t, err)
	assert.Equal(t, Code(999999), c)

	for _, raw := range []string{"", "12345", "1234567", "12a456", "-12345", "12 456"} {
		_, err := ParseCode(raw)
		assert.ErrorIs(t, err, ErrInvalidCode, "code %q", raw)
	}
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "000007", Code(7).String())
	assert.Equal(t, "999999", Code(999999).String())
}
