package iobundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

// DefaultAcceptEncoding is sent on every outbound request.
const DefaultAcceptEncoding = "gzip,deflate"

const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned when a response body, raw or decoded, exceeds
// maxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// decodeBody undoes the response Content-Encoding. Unrecognized encodings are
// returned unmodified.
func decodeBody(raw []byte, contentEncoding string, log *zap.SugaredLogger) ([]byte, error) {
	enc := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch enc {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		return readLimited(zr)
	case "deflate":
		// Servers disagree on whether "deflate" carries a zlib wrapper.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return readLimited(zr)
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return readLimited(fr)
	default:
		log.Warnw("unrecognized Content-Encoding", "encoding", contentEncoding)
		return raw, nil
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(b) > maxBodyBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxBodyBytes)
	}
	return b, nil
}
