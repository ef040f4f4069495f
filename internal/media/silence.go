package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Silence synthesizes duration seconds of silence at out in the target spec.
// Strategies are tried in order; each reports success or failure uniformly so
// the chain advances without nested control flow:
//
//  1. generate directly from the anullsrc source at the target codec;
//  2. derive from reference by muting its amplitude and trimming;
//  3. write raw zero samples into a WAV container and transcode it, walking
//     an ordered list of codec identifiers;
//  4. keep the uncompressed WAV under the requested name as a last resort.
func (f *FFmpeg) Silence(ctx context.Context, duration float64, out string, spec Spec, reference string) error {
	logger := zerolog.Ctx(ctx)

	type strategy struct {
		name string
		fn   func() error
	}

	strategies := []strategy{
		{"anullsrc", func() error {
			return f.silenceFromSource(ctx, duration, out, spec)
		}},
		{"mute-reference", func() error {
			if reference == "" {
				return fmt.Errorf("no reference track available")
			}
			return f.silenceFromReference(ctx, duration, out, spec, reference)
		}},
		{"raw-wav-transcode", func() error {
			return f.silenceFromRawWav(ctx, duration, out, spec)
		}},
		{"keep-wav", func() error {
			return writeSilenceWav(out, duration, spec)
		}},
	}

	var lastErr error
	for _, s := range strategies {
		if err := s.fn(); err != nil {
			logger.Warn().Err(err).Str("module", "media.silence").Str("strategy", s.name).Msg("silence strategy failed")
			lastErr = err
			continue
		}
		logger.Debug().Str("module", "media.silence").Str("strategy", s.name).Float64("duration", duration).Msg("silence synthesized")
		return nil
	}
	return fmt.Errorf("all silence strategies failed: %w", lastErr)
}

func (f *FFmpeg) silenceFromSource(ctx context.Context, duration float64, out string, spec Spec) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", spec.channelLayout(), spec.SampleRate),
		"-t", formatSeconds(duration),
	}
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	_, err := f.run.Run(ctx, f.ffmpegBin, args...)
	return err
}

func (f *FFmpeg) silenceFromReference(ctx context.Context, duration float64, out string, spec Spec, reference string) error {
	args := []string{
		"-y",
		"-i", reference,
		"-af", "volume=0",
		"-t", formatSeconds(duration),
	}
	args = append(args, spec.outputArgs()...)
	args = append(args, out)
	_, err := f.run.Run(ctx, f.ffmpegBin, args...)
	return err
}

func (f *FFmpeg) silenceFromRawWav(ctx context.Context, duration float64, out string, spec Spec) error {
	wavPath := out + ".wav"
	if err := writeSilenceWav(wavPath, duration, spec); err != nil {
		return err
	}
	defer os.Remove(wavPath)

	var lastErr error
	for _, codec := range codecCandidates(spec.Codec) {
		codecSpec := spec
		codecSpec.Codec = codec
		args := []string{"-y", "-i", wavPath}
		args = append(args, codecSpec.outputArgs()...)
		args = append(args, out)
		if _, err := f.run.Run(ctx, f.ffmpegBin, args...); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("no usable codec for silence: %w", lastErr)
}

// codecCandidates orders the codec identifiers to try, starting with the
// spec's own and falling back to the alternates the toolchain may ship.
func codecCandidates(primary string) []string {
	candidates := []string{primary}
	for _, alt := range []string{"libmp3lame", "mp3", "mp3_mf"} {
		if alt != primary {
			candidates = append(candidates, alt)
		}
	}
	return candidates
}

// writeSilenceWav writes duration seconds of 16-bit zero samples into a
// minimal RIFF/WAVE container.
func writeSilenceWav(path string, duration float64, spec Spec) error {
	samplesPerChannel := int(duration * float64(spec.SampleRate))
	dataSize := samplesPerChannel * spec.Channels * 2

	buf := make([]byte, 44+dataSize)
	writeWavHeader(buf, samplesPerChannel, spec.SampleRate, spec.Channels)
	// Sample bytes stay zero: that is the silence.

	return os.WriteFile(path, buf, 0o644)
}

func writeWavHeader(buf []byte, samplesPerChannel, sampleRate, channels int) {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	dataSize := samplesPerChannel * channels * 2

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}
