package checksum

import (
	"io"
	"strings"
	"testing"
)

const (
	helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

func TestCalculateSHA256(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "hello", input: "hello", want: helloSHA256},
		{name: "empty string", input: "", want: emptySHA256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSHA256(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("CalculateSHA256() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CalculateSHA256(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("read error is propagated", func(t *testing.T) {
		if _, err := CalculateSHA256(errReader{}); err == nil {
			t.Error("CalculateSHA256() expected error from failing reader, got nil")
		}
	})
}

func TestSumBytes(t *testing.T) {
	if got := SumBytes([]byte("hello")); got != helloSHA256 {
		t.Errorf("SumBytes(hello) = %q, want %q", got, helloSHA256)
	}
	if got := SumBytes(nil); got != emptySHA256 {
		t.Errorf("SumBytes(nil) = %q, want %q", got, emptySHA256)
	}
}

func TestEqual(t *testing.T) {
	if !Equal(helloSHA256, strings.ToUpper(helloSHA256)) {
		t.Error("Equal() should ignore case")
	}
	if Equal(helloSHA256, emptySHA256) {
		t.Error("Equal() = true for different digests")
	}
	if Equal(helloSHA256, helloSHA256[:10]) {
		t.Error("Equal() = true for a truncated digest")
	}
}

func TestVerifySHA256(t *testing.T) {
	t.Run("matching checksum returns true", func(t *testing.T) {
		ok, err := VerifySHA256(strings.NewReader("hello"), helloSHA256)
		if err != nil {
			t.Fatalf("VerifySHA256() error: %v", err)
		}
		if !ok {
			t.Error("VerifySHA256() = false, want true for matching checksum")
		}
	})

	t.Run("wrong checksum returns false", func(t *testing.T) {
		ok, err := VerifySHA256(strings.NewReader("hello"), emptySHA256)
		if err != nil {
			t.Fatalf("VerifySHA256() error: %v", err)
		}
		if ok {
			t.Error("VerifySHA256() = true, want false for mismatched checksum")
		}
	})

	t.Run("read error is propagated", func(t *testing.T) {
		if _, err := VerifySHA256(errReader{}, "anyvalue"); err == nil {
			t.Error("VerifySHA256() expected error from failing reader, got nil")
		}
	})
}

// errReader is an io.Reader that always returns an error.
type errReader struct{}

func (errReader) Read(_ []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
