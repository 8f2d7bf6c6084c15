package metadata

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	dbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Gzip compresses content with gzip (used for XML descriptors).
func Gzip(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a gzip payload.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bzip2 compresses content with bzip2 (used for SQLite databases).
func Bzip2(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := dbzip2.NewWriter(&buf, &dbzip2.WriterConfig{Level: dbzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unbzip2 decompresses a bzip2 payload.
func Unbzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, bzip2.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress dispatches on the file name's extension. Plain names are
// returned unchanged; some producers publish .xml.xz descriptors.
func Decompress(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return Gunzip(data)
	case strings.HasSuffix(name, ".bz2"):
		return Unbzip2(data)
	case strings.HasSuffix(name, ".xz"):
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", name, err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", name, err)
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}
