package bus

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"github.com/droverhq/drover/pkg/types"
)

// gzip stream magic bytes, used to detect compressed payloads on read
var gzipMagic = []byte{0x1f, 0x8b}

// Encode serializes an event for the wire, gzipping payloads at or above
// minSize when compression is enabled. Mixed buffers are fine: Decode
// detects compression per payload.
func Encode(evt *types.Event, compress bool, minSize int) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}
	if !compress || len(data) < minSize {
		return string(data), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress event %s: %w", evt.ID, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress event %s: %w", evt.ID, err)
	}
	return buf.String(), nil
}

// Decode deserializes a wire payload, transparently decompressing gzip
func Decode(payload string) (*types.Event, error) {
	data := []byte(payload)
	if IsCompressed(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed event: %w", err)
		}
		defer zr.Close()
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress event: %w", err)
		}
	}

	var evt types.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &evt, nil
}

// IsCompressed reports whether a payload starts with the gzip magic header
func IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1]
}
