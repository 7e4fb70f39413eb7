package echoserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUppercase(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sentence with newline", "Hello World\n", "HELLO WORLD\n"},
		{"all lowercase", "already upper", "ALREADY UPPER"},
		{"already uppercase", "ALREADY UPPER", "ALREADY UPPER"},
		{"digits and punctuation untouched", "a1-b2_c3!?", "A1-B2_C3!?"},
		{"boundaries", "`az{@AZ[", "`AZ{@AZ["},
		{"empty", "", ""},
		{"non-ascii bytes untouched", "caf\xc3\xa9 \xff", "CAF\xc3\xa9 \xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Uppercase([]byte(tt.in))
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestUppercase_InPlace(t *testing.T) {
	p := []byte("abc")
	got := Uppercase(p)

	assert.Equal(t, "ABC", string(p))
	assert.Same(t, &p[0], &got[0])
}

func TestUppercase_PrintableASCII(t *testing.T) {
	in := make([]byte, 0, 0x7f-0x20)
	for b := byte(0x20); b < 0x7f; b++ {
		in = append(in, b)
	}
	orig := append([]byte(nil), in...)

	got := Uppercase(in)

	require.Len(t, got, len(orig))
	for i, b := range orig {
		if b >= 'a' && b <= 'z' {
			assert.Equal(t, b-32, got[i], "byte %q", b)
			continue
		}
		assert.Equal(t, b, got[i], "byte %q", b)
	}
}

func TestUppercase_Idempotent(t *testing.T) {
	inputs := []string{"Hello World\n", "mIxEd CaSe 123", "", "~!@#"}

	for _, in := range inputs {
		once := string(Uppercase([]byte(in)))
		twice := string(Uppercase([]byte(once)))
		assert.Equal(t, once, twice)
	}
}

func TestUppercaseTransformer(t *testing.T) {
	out, err := UppercaseTransformer.Transform(context.Background(), []byte("go"))
	require.NoError(t, err)
	assert.Equal(t, "GO", string(out))
}

func TestTransformFunc(t *testing.T) {
	f := TransformFunc(func(_ context.Context, p []byte) ([]byte, error) {
		return nil, assert.AnError
	})

	_, err := f.Transform(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, assert.AnError)
}
