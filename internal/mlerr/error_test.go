package mlerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOwnKind(t *testing.T) {
	err := Decode("bad header")
	assert.True(t, Is(err, KindDecode))
	assert.False(t, Is(err, KindPreprocess))
}

func TestIsLooksThroughWrapping(t *testing.T) {
	cause := errors.New("file not found")
	err := WrapOrt(cause, "session build failed")

	assert.True(t, Is(err, KindOrt))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "file not found")
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindRuntime))
}

func TestWrapConstructorsCarryCause(t *testing.T) {
	cause := errors.New("root cause")

	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"decode", WrapDecode(cause, "x"), KindDecode},
		{"preprocess", WrapPreprocess(cause, "x"), KindPreprocess},
		{"ort", WrapOrt(cause, "x"), KindOrt},
		{"postprocess", WrapPostprocess(cause, "x"), KindPostprocess},
		{"runtime", WrapRuntime(cause, "x"), KindRuntime},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.Same(t, cause, tc.err.Unwrap())
		})
	}
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(99).String())
}
