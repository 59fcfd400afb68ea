package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredSecretMaskerAppliesToJSONAndYAML(t *testing.T) {
	m := &StructuredSecretMasker{}

	assert.True(t, m.AppliesTo(`{"token":"abc"}`))
	assert.True(t, m.AppliesTo("token: abc\nname: x\n"))
	assert.False(t, m.AppliesTo(""))
	assert.False(t, m.AppliesTo("just plain text with no structure"))
}

func TestStructuredSecretMaskerLeavesNonSensitiveFieldsAlone(t *testing.T) {
	m := &StructuredSecretMasker{}

	out := m.Mask(`{"name":"agent-1","secret":"shh-dont-tell"}`)

	assert.Contains(t, out, "agent-1")
	assert.Contains(t, out, MaskedValue)
	assert.NotContains(t, out, "shh-dont-tell")
}

func TestStructuredSecretMaskerReturnsOriginalOnUnparsableInput(t *testing.T) {
	m := &StructuredSecretMasker{}

	in := `{"unterminated": `
	assert.Equal(t, in, m.Mask(in))
}
