package artifact

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// encodeChunkSize is the read granularity when base64-encoding a payload for
// the legacy jobd wire format.
const encodeChunkSize = 3 * 1024

// FileToBase64 reads path in 3 KiB chunks through a streaming base64 encoder
// and returns the encoded string. Chunks of a multiple of 3 bytes keep the
// encoder from emitting padding mid-stream.
func FileToBase64(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("artifact: open %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)

	buf := make([]byte, encodeChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := enc.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("artifact: encode %s: %w", path, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("artifact: read %s: %w", path, readErr)
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("artifact: encode %s: %w", path, err)
	}
	return sb.String(), nil
}

// Base64ToFile decodes data and writes the bytes to path.
func Base64ToFile(data, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("artifact: create %s: %w", path, err)
	}
	defer f.Close()

	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(data))
	if _, err := io.Copy(f, dec); err != nil {
		return fmt.Errorf("artifact: decode to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("artifact: sync %s: %w", path, err)
	}
	return nil
}
