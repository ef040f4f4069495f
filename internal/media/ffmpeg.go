package media

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes one toolchain binary invocation. Swappable in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %w\noutput: %s", name, err, output)
	}
	return output, nil
}

// FFmpeg implements Processor over the ffmpeg/ffprobe binaries.
type FFmpeg struct {
	run        Runner
	ffmpegBin  string
	ffprobeBin string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{run: execRunner{}, ffmpegBin: "ffmpeg", ffprobeBin: "ffprobe"}
}

// NewFFmpegWithRunner is used by tests to intercept subprocess calls.
func NewFFmpegWithRunner(run Runner) *FFmpeg {
	return &FFmpeg{run: run, ffmpegBin: "ffmpeg", ffprobeBin: "ffprobe"}
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := f.run.Run(ctx, f.ffprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: parse duration %q: %w", path, strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

func (f *FFmpeg) Transcode(ctx context.Context, in, out string, spec Spec) error {
	args := []string{"-y", "-i", in, "-vn"}
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	return f.runAudio(ctx, "transcode", args)
}

func (f *FFmpeg) Trim(ctx context.Context, in, out string, offset, duration float64, spec Spec) error {
	args := []string{
		"-y",
		"-i", in,
		"-ss", formatSeconds(offset),
		"-t", formatSeconds(duration),
	}
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	return f.runAudio(ctx, "trim", args)
}

func (f *FFmpeg) Mix(ctx context.Context, inputs []string, out string, spec Spec) error {
	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	var filter strings.Builder
	for i := range inputs {
		fmt.Fprintf(&filter, "[%d:a]", i)
	}
	// Mix runs until the longest input ends; shorter inputs are padded with
	// silence rather than faded out.
	fmt.Fprintf(&filter, "amix=inputs=%d:duration=longest:dropout_transition=0[a]", len(inputs))
	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[a]",
	)
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	return f.runAudio(ctx, "mix", args)
}

func (f *FFmpeg) Concat(ctx context.Context, listFile, out string, spec Spec) error {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
	}
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	return f.runAudio(ctx, "concat", args)
}

// runAudio runs one ffmpeg invocation with a single re-encode retry.
func (f *FFmpeg) runAudio(ctx context.Context, op string, args []string) error {
	_, err := f.run.Run(ctx, f.ffmpegBin, args...)
	if err == nil {
		return nil
	}
	zerolog.Ctx(ctx).Warn().Err(err).Str("module", "media.ffmpeg").Str("op", op).Msg("ffmpeg failed, retrying once")
	if _, retryErr := f.run.Run(ctx, f.ffmpegBin, args...); retryErr == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s Spec) outputArgs() []string {
	return []string{
		"-acodec", s.Codec,
		"-b:a", s.Bitrate,
		"-ar", strconv.Itoa(s.SampleRate),
		"-ac", strconv.Itoa(s.Channels),
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
