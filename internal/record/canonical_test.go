package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Int(1),
		"alpha": Int(2),
		"beta":  Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000: UTF-16 order differs from UTF-8 order here.
	obj := Object{
		"": Int(1),
		"𐀀":      Int(2), // surrogate pair 0xD800 0xDC00
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	expected := `{"𐀀":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<a> & </a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a> & </a>"`, string(result))
	assert.NotContains(t, string(result), `<`)
	assert.NotContains(t, string(result), `&`)
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "é" as combining sequence (e + U+0301) must normalize to U+00E9.
	decomposed := String("é")
	composed := String("é")

	d, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	c, err := MarshalCanonical(composed)
	require.NoError(t, err)

	assert.Equal(t, string(c), string(d), "NFC normalization must unify equivalent strings")
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	// U+2028 stays literal per RFC 8785.
	result, err := MarshalCanonical(String("a b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b\"", string(result))

	// A literal backslash followed by the text "u2028" must stay escaped.
	result, err = MarshalCanonical(String(`a b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(result))
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(Null{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")

	_, err = MarshalCanonical(Object{"a": Null{}})
	require.Error(t, err)
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
}

func TestMarshalCanonicalControlCharacters(t *testing.T) {
	result, err := MarshalCanonical(String("line1\nline2\ttab"))
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab"`, string(result))
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)

	h1 := HashWithDomain(DomainSchema, data)
	h2 := HashWithDomain(DomainValue, data)

	assert.NotEqual(t, h1, h2, "different domains must produce different hashes")
	assert.Len(t, h1, 64, "SHA-256 hex digest")
}

func TestHashWithDomainBoundary(t *testing.T) {
	// The null separator prevents "ab"+"c" colliding with "a"+"bc".
	h1 := HashWithDomain("ab", []byte("c"))
	h2 := HashWithDomain("a", []byte("bc"))
	assert.NotEqual(t, h1, h2)
}

func TestHashValueDeterministic(t *testing.T) {
	obj := Object{"b": Int(2), "a": Int(1)}
	reordered := Object{"a": Int(1), "b": Int(2)}

	h1, err := HashValue(DomainValue, obj)
	require.NoError(t, err)
	h2, err := HashValue(DomainValue, reordered)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "key order must not affect the hash")
}

func TestMustHashValuePanicsOnNull(t *testing.T) {
	assert.Panics(t, func() {
		MustHashValue(DomainValue, Null{})
	})
}
