package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		class string
		unit  string
		want  string
	}{
		{"top-level function", "math_utils.py", "", "add", "math_utils.py_add"},
		{"method", "math_utils.py", "Calculator", "multiply", "math_utils.py_Calculator_multiply"},
		{"other file", "auth.py", "", "add", "auth.py_add"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identifier(tt.file, tt.class, tt.unit)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Identifier(tt.file, tt.class, tt.unit))
		})
	}
}

func TestIdentifierDistinguishesFields(t *testing.T) {
	base := Identifier("a.py", "C", "f")
	assert.NotEqual(t, base, Identifier("b.py", "C", "f"))
	assert.NotEqual(t, base, Identifier("a.py", "D", "f"))
	assert.NotEqual(t, base, Identifier("a.py", "C", "g"))
	assert.NotEqual(t, base, Identifier("a.py", "", "f"))
}

func TestCodeUnitID(t *testing.T) {
	u := CodeUnit{FileName: "x.py", EnclosingClass: "K", Name: "m"}
	assert.Equal(t, "x.py_K_m", u.ID())
	assert.True(t, u.HasClass())
}
