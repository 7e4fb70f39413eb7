package echoserver

import "context"

// Transformer turns a request payload into its response payload. It may
// modify p in place and return it.
type Transformer interface {
	Transform(ctx context.Context, p []byte) ([]byte, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(ctx context.Context, p []byte) ([]byte, error)

// Transform implements Transformer.
func (f TransformFunc) Transform(ctx context.Context, p []byte) ([]byte, error) {
	return f(ctx, p)
}

// UppercaseTransformer applies Uppercase.
var UppercaseTransformer Transformer = TransformFunc(func(_ context.Context, p []byte) ([]byte, error) {
	return Uppercase(p), nil
})

// Uppercase replaces every ASCII lowercase letter in p with its uppercase
// counterpart, in place, and returns p. Every other byte, including non-ASCII
// bytes, is left unchanged.
func Uppercase(p []byte) []byte {
	for i, b := range p {
		if 'a' <= b && b <= 'z' {
			p[i] = b - ('a' - 'A')
		}
	}

	return p
}
