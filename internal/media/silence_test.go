package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// fakeRunner fails the first failures invocations, then succeeds and writes
// the output path (the last argument) like the real toolchain would.
type fakeRunner struct {
	failures int
	args     [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.args = append(r.args, append([]string{name}, args...))
	if len(r.args) <= r.failures {
		return []byte("boom"), errors.New("simulated toolchain failure")
	}
	out := args[len(args)-1]
	return nil, os.WriteFile(out, []byte("audio"), 0o644)
}

func (r *fakeRunner) joined(i int) string {
	return strings.Join(r.args[i], " ")
}

func TestSilenceFirstStrategy(t *testing.T) {
	run := &fakeRunner{}
	f := NewFFmpegWithRunner(run)
	out := filepath.Join(t.TempDir(), "silence.mp3")

	if err := f.Silence(context.Background(), 2.5, out, DefaultSpec(), "ref.mp3"); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if len(run.args) != 1 {
		t.Fatalf("runner calls = %d, want 1", len(run.args))
	}
	if !strings.Contains(run.joined(0), "anullsrc") {
		t.Errorf("first call should use anullsrc: %s", run.joined(0))
	}
	if !strings.Contains(run.joined(0), "2.500") {
		t.Errorf("duration missing from args: %s", run.joined(0))
	}
}

func TestSilenceFallsBackToReference(t *testing.T) {
	run := &fakeRunner{failures: 1}
	f := NewFFmpegWithRunner(run)
	out := filepath.Join(t.TempDir(), "silence.mp3")

	if err := f.Silence(context.Background(), 3, out, DefaultSpec(), "ref.mp3"); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if len(run.args) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(run.args))
	}
	if !strings.Contains(run.joined(1), "volume=0") {
		t.Errorf("second call should mute the reference: %s", run.joined(1))
	}
	if !strings.Contains(run.joined(1), "ref.mp3") {
		t.Errorf("reference track missing from args: %s", run.joined(1))
	}
}

func TestSilenceSkipsReferenceWhenAbsent(t *testing.T) {
	run := &fakeRunner{failures: 1}
	f := NewFFmpegWithRunner(run)
	out := filepath.Join(t.TempDir(), "silence.mp3")

	// With no reference the mute strategy is skipped without a subprocess
	// call: the second invocation is already the raw WAV transcode.
	if err := f.Silence(context.Background(), 3, out, DefaultSpec(), ""); err != nil {
		t.Fatalf("Silence: %v", err)
	}
	if len(run.args) != 2 {
		t.Fatalf("runner calls = %d, want 2", len(run.args))
	}
	if !strings.Contains(run.joined(1), ".wav") {
		t.Errorf("second call should transcode the raw WAV: %s", run.joined(1))
	}
}

func TestSilenceKeepsWavAsLastResort(t *testing.T) {
	// Every subprocess call fails, so the uncompressed WAV is kept under
	// the requested name.
	run := &fakeRunner{failures: 1000}
	f := NewFFmpegWithRunner(run)
	out := filepath.Join(t.TempDir(), "silence.mp3")

	if err := f.Silence(context.Background(), 1, out, DefaultSpec(), "ref.mp3"); err != nil {
		t.Fatalf("Silence: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("output is not a WAV container (%d bytes)", len(data))
	}
	// 1s of 16-bit stereo at 44100Hz plus the 44-byte header.
	if want := 44 + 44100*2*2; len(data) != want {
		t.Errorf("wav size = %d, want %d", len(data), want)
	}
}

func TestCodecCandidates(t *testing.T) {
	got := codecCandidates("libmp3lame")
	want := []string{"libmp3lame", "mp3", "mp3_mf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("codecCandidates(libmp3lame) = %v, want %v", got, want)
	}

	got = codecCandidates("aac")
	want = []string{"aac", "libmp3lame", "mp3", "mp3_mf"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("codecCandidates(aac) = %v, want %v", got, want)
	}
}
