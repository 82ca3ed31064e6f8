package reel

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// Compression identifies how a reel payload is encoded on disk or on the wire.
type Compression string

// Supported payload compressions.
const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
	CompressionXZ    Compression = "xz"
)

// DetectCompression sniffs the magic bytes at the start of header.
func DetectCompression(header []byte) Compression {
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		return CompressionGzip
	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return CompressionBzip2
	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		return CompressionXZ
	default:
		return CompressionNone
	}
}

// Decompress returns a reader yielding the plain payload of r. Manifests and
// chunks may be stored gzip, bzip2 or xz compressed; JSON passes through.
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch DetectCompression(header) {
	case CompressionGzip:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case CompressionBzip2:
		return bzip2.NewReader(br), nil
	case CompressionXZ:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	default:
		return br, nil
	}
}
