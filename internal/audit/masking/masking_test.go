package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefghwxyz"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j****@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "****", MaskEmail("bad"))
}

func TestMaskFields(t *testing.T) {
	out := MaskFields(map[string]any{
		"email":   "jane@example.com",
		"token":   "abcdefgh1234",
		"role":    "member",
		"attempt": 2,
	}, "email", "token", "attempt")

	assert.Equal(t, "j****@example.com", out["email"])
	assert.Equal(t, "****1234", out["token"])
	assert.Equal(t, "member", out["role"])
	assert.Equal(t, 2, out["attempt"])
	assert.Nil(t, MaskFields(nil))
}
