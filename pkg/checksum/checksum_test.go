package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSumKnownValue(t *testing.T) {
	// sha256("hello world")
	const want = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	got, err := Sum([]byte("hello world"), "sha256")
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSumDigestLengths(t *testing.T) {
	tests := []struct {
		alg    string
		length int
	}{
		{"sha256", 64},
		{"sha512", 128},
		{"sha1", 40},
		{"md5", 32},
		{"SHA256", 64},
	}
	for _, tt := range tests {
		sum, err := Sum([]byte("data"), tt.alg)
		if err != nil {
			t.Fatalf("Sum(%s): %v", tt.alg, err)
		}
		if len(sum) != tt.length {
			t.Errorf("Sum(%s) length = %d, want %d", tt.alg, len(sum), tt.length)
		}
	}
}

func TestSumUnsupported(t *testing.T) {
	if _, err := Sum([]byte("data"), "crc32"); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if Supported("crc32") {
		t.Fatal("crc32 should not be supported")
	}
}

func TestSumFileMatchesSum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	data := []byte("some package bytes")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fromFile, err := SumFile(path, "sha256")
	if err != nil {
		t.Fatalf("SumFile: %v", err)
	}
	fromBytes, _ := Sum(data, "sha256")
	if fromFile != fromBytes {
		t.Fatalf("file digest %s != bytes digest %s", fromFile, fromBytes)
	}
}

func TestSumReader(t *testing.T) {
	sum, err := SumReader(strings.NewReader("hello world"), "sha256")
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	fromBytes, _ := Sum([]byte("hello world"), "sha256")
	if sum != fromBytes {
		t.Fatalf("reader digest %s != bytes digest %s", sum, fromBytes)
	}
}
