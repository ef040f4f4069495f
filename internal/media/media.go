// Package media wraps the audio toolchain (ffmpeg/ffprobe subprocesses) and
// implements the timeline alignment and merge engine on top of it.
package media

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Spec is the target audio format every artifact is normalized to before
// concatenation. Concatenating heterogeneous formats is unreliable, so each
// segment goes through this spec first.
type Spec struct {
	Codec      string
	Bitrate    string
	SampleRate int
	Channels   int
}

// DefaultSpec is the merge output format.
func DefaultSpec() Spec {
	return Spec{Codec: "libmp3lame", Bitrate: "128k", SampleRate: 44100, Channels: 2}
}

// CaptureSpec is the per-participant encode format.
func CaptureSpec() Spec {
	return Spec{Codec: "libmp3lame", Bitrate: "192k", SampleRate: 44100, Channels: 2}
}

func (s Spec) channelLayout() string {
	if s.Channels == 1 {
		return "mono"
	}
	return "stereo"
}

// Processor is the media primitive capability consumed by the engine and the
// recording pipeline. Silence applies its own internal fallback policy;
// reference names an existing track it may derive silence from and may be
// empty.
type Processor interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Transcode(ctx context.Context, in, out string, spec Spec) error
	Trim(ctx context.Context, in, out string, offset, duration float64, spec Spec) error
	Mix(ctx context.Context, inputs []string, out string, spec Spec) error
	Concat(ctx context.Context, listFile, out string, spec Spec) error
	Silence(ctx context.Context, duration float64, out string, spec Spec, reference string) error
}

const (
	filePollInterval = 100 * time.Millisecond
	fileWaitTimeout  = 10 * time.Second
)

// WaitForFile polls until path exists with non-zero size. The wait is
// bounded; a timeout fails the wait instead of blocking the pipeline.
func WaitForFile(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("file %s not ready after %s", path, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(filePollInterval):
		}
	}
}
