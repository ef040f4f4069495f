package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeProcessor records every operation and writes a non-empty placeholder
// wherever a real toolchain would produce output.
type fakeProcessor struct {
	mu    sync.Mutex
	calls []string

	silenceDurations []float64
	mixInputCounts   []int
	concatLists      []string
}

func (p *fakeProcessor) record(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
}

func (p *fakeProcessor) produce(out string) error {
	return os.WriteFile(out, []byte("audio"), 0o644)
}

func (p *fakeProcessor) ProbeDuration(_ context.Context, _ string) (float64, error) {
	p.record("probe")
	return 60, nil
}

func (p *fakeProcessor) Transcode(_ context.Context, _, out string, _ Spec) error {
	p.record("transcode")
	return p.produce(out)
}

func (p *fakeProcessor) Trim(_ context.Context, _, out string, _, _ float64, _ Spec) error {
	p.record("trim")
	return p.produce(out)
}

func (p *fakeProcessor) Mix(_ context.Context, inputs []string, out string, _ Spec) error {
	p.record("mix")
	p.mu.Lock()
	p.mixInputCounts = append(p.mixInputCounts, len(inputs))
	p.mu.Unlock()
	return p.produce(out)
}

func (p *fakeProcessor) Concat(_ context.Context, listFile, out string, _ Spec) error {
	p.record("concat")
	data, err := os.ReadFile(listFile)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.concatLists = append(p.concatLists, string(data))
	p.mu.Unlock()
	return p.produce(out)
}

func (p *fakeProcessor) Silence(_ context.Context, duration float64, out string, _ Spec, _ string) error {
	p.record("silence")
	p.mu.Lock()
	p.silenceDurations = append(p.silenceDurations, duration)
	p.mu.Unlock()
	return p.produce(out)
}

func (p *fakeProcessor) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestEngineMergeGap(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	eng := NewEngine(proc, DefaultSpec())

	out := filepath.Join(dir, "combined.mp3")
	total, err := eng.Merge(context.Background(), []Track{track(0, 30), track(40, 20)}, out)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !approx(total, 60) {
		t.Errorf("total = %f, want 60", total)
	}

	if n := proc.count("silence"); n != 1 {
		t.Errorf("silence calls = %d, want 1", n)
	}
	if len(proc.silenceDurations) != 1 || !approx(proc.silenceDurations[0], 10) {
		t.Errorf("silence durations = %v, want [10]", proc.silenceDurations)
	}
	if n := proc.count("trim"); n != 2 {
		t.Errorf("trim calls = %d, want 2", n)
	}
	if n := proc.count("concat"); n != 1 {
		t.Errorf("concat calls = %d, want 1", n)
	}
	// Every segment is normalized before concatenation.
	if n := proc.count("transcode"); n != 3 {
		t.Errorf("transcode calls = %d, want 3", n)
	}

	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		t.Errorf("combined output missing or empty: %v", err)
	}
	if len(proc.concatLists) == 1 && strings.Count(proc.concatLists[0], "file '") != 3 {
		t.Errorf("concat list entries:\n%s", proc.concatLists[0])
	}
}

func TestEngineMergeOverlapMixes(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	eng := NewEngine(proc, DefaultSpec())

	out := filepath.Join(dir, "combined.mp3")
	if _, err := eng.Merge(context.Background(), []Track{track(0, 40), track(10, 20)}, out); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if n := proc.count("mix"); n != 1 {
		t.Fatalf("mix calls = %d, want 1", n)
	}
	if proc.mixInputCounts[0] != 2 {
		t.Errorf("mix inputs = %d, want 2", proc.mixInputCounts[0])
	}
	if n := proc.count("silence"); n != 0 {
		t.Errorf("silence calls = %d, want 0", n)
	}
}

func TestEngineMergeCleansWorkDir(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{}
	eng := NewEngine(proc, DefaultSpec())

	if _, err := eng.Merge(context.Background(), []Track{track(0, 10)}, filepath.Join(dir, "combined.mp3")); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("intermediate dir %s left behind", e.Name())
		}
	}
}

func TestEngineMergeNoTracks(t *testing.T) {
	eng := NewEngine(&fakeProcessor{}, DefaultSpec())
	if _, err := eng.Merge(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp3")); err == nil {
		t.Fatal("want error for empty track list")
	}
}
