// Package checksum provides content hashing for package identity,
// deduplication, and metadata file naming.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Default is the algorithm used for package identity (pkgId) and
// metadata file naming unless the repository says otherwise.
const Default = "sha256"

func newHash(alg string) (hash.Hash, error) {
	switch strings.ToLower(alg) {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
	}
}

// Supported reports whether the algorithm is one of the allowed types.
func Supported(alg string) bool {
	_, err := newHash(alg)
	return err == nil
}

// Sum returns the hex digest of data.
func Sum(data []byte, alg string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumReader returns the hex digest of everything read from r.
func SumReader(r io.Reader, alg string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile returns the hex digest of the file at path, streaming its contents.
func SumFile(path, alg string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return SumReader(f, alg)
}
