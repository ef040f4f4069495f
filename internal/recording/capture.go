// Package recording tracks per-room capture sessions and drives the merge
// pipeline once every participant's capture has finished.
package recording

import (
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"time"
)

type CaptureState int

const (
	StateCapturing CaptureState = iota
	StateStopped
	StateEncoded
	StateFailed
)

func (s CaptureState) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	case StateEncoded:
		return "encoded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var errBadChunk = errors.New("malformed audio chunk")

// Capture is one participant's audio capture within a session.
type Capture struct {
	UserName    string
	Dir         string
	RawPath     string
	EncodedPath string
	StartedAt   time.Time
	StoppedAt   time.Time

	state CaptureState
	file  *os.File
}

// write appends chunk bytes to the open capture stream. Writes after the
// stream is closed are dropped, not errors.
func (c *Capture) write(data []byte) error {
	if c.file == nil {
		return nil
	}
	_, err := c.file.Write(data)
	return err
}

// closeStream closes the capture stream; safe to call more than once.
func (c *Capture) closeStream() {
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
}

// decodeChunk extracts the raw bytes from a base64 data URL
// ("data:audio/webm;base64,...").
func decodeChunk(dataURL string) ([]byte, error) {
	_, b64, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, errBadChunk
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errBadChunk
	}
	return data, nil
}
