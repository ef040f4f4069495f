package media

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func track(offsetSec, durSec float64) Track {
	return Track{
		Path:     "track.mp3",
		Start:    t0.Add(time.Duration(offsetSec * float64(time.Second))),
		Duration: durSec,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestPlanTimelineGap(t *testing.T) {
	// A covers [0,30), B covers [40,60): the 10s in between must become
	// synthesized silence and the total must reach B's end.
	plan, err := PlanTimeline([]Track{track(0, 30), track(40, 20)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}

	if !approx(plan.Total, 60) {
		t.Errorf("total = %f, want 60", plan.Total)
	}
	if len(plan.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(plan.Segments))
	}

	want := []struct {
		start, end float64
		kind       SegmentKind
	}{
		{0, 30, SegmentSingle},
		{30, 40, SegmentSilence},
		{40, 60, SegmentSingle},
	}
	for i, w := range want {
		seg := plan.Segments[i]
		if !approx(seg.Start, w.start) || !approx(seg.End, w.end) {
			t.Errorf("segment %d = [%f,%f), want [%f,%f)", i, seg.Start, seg.End, w.start, w.end)
		}
		if seg.Kind() != w.kind {
			t.Errorf("segment %d kind = %s, want %s", i, seg.Kind(), w.kind)
		}
	}
	if got := plan.Segments[0].Tracks[0]; got != 0 {
		t.Errorf("first segment track = %d, want 0", got)
	}
	if got := plan.Segments[2].Tracks[0]; got != 1 {
		t.Errorf("last segment track = %d, want 1", got)
	}
}

func TestPlanTimelineOverlap(t *testing.T) {
	// B starts while A is still running: the overlap must be a mixed
	// segment flanked by A-only segments.
	plan, err := PlanTimeline([]Track{track(0, 40), track(10, 20)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}

	if !approx(plan.Total, 40) {
		t.Errorf("total = %f, want 40", plan.Total)
	}
	if len(plan.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(plan.Segments))
	}

	mid := plan.Segments[1]
	if mid.Kind() != SegmentMixed {
		t.Fatalf("middle segment kind = %s, want mixed", mid.Kind())
	}
	if !approx(mid.Start, 10) || !approx(mid.End, 30) {
		t.Errorf("middle segment = [%f,%f), want [10,30)", mid.Start, mid.End)
	}
	if len(mid.Tracks) != 2 {
		t.Errorf("middle segment tracks = %v, want both", mid.Tracks)
	}
	for _, i := range []int{0, 2} {
		if plan.Segments[i].Kind() != SegmentSingle {
			t.Errorf("segment %d kind = %s, want single", i, plan.Segments[i].Kind())
		}
	}
}

func TestPlanTimelineSingleTrack(t *testing.T) {
	plan, err := PlanTimeline([]Track{track(0, 12.5)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}
	if !approx(plan.Total, 12.5) {
		t.Errorf("total = %f, want 12.5", plan.Total)
	}
	if len(plan.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(plan.Segments))
	}
	if plan.Segments[0].Kind() != SegmentSingle {
		t.Errorf("kind = %s, want single", plan.Segments[0].Kind())
	}
}

func TestPlanTimelineBaselineIsEarliestStart(t *testing.T) {
	// Track order must not matter: the baseline is the earliest start.
	plan, err := PlanTimeline([]Track{track(40, 20), track(0, 30)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}
	if !plan.Baseline.Equal(t0) {
		t.Errorf("baseline = %v, want %v", plan.Baseline, t0)
	}
	if !approx(plan.Offsets[0], 40) || !approx(plan.Offsets[1], 0) {
		t.Errorf("offsets = %v, want [40 0]", plan.Offsets)
	}
	if !approx(plan.Total, 60) {
		t.Errorf("total = %f, want 60", plan.Total)
	}
}

func TestPlanTimelineDedupesNearBoundaries(t *testing.T) {
	// B starts 5ms after A ends: within epsilon, so no sliver of silence
	// may appear between them.
	plan, err := PlanTimeline([]Track{track(0, 30), track(30.005, 10)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}
	if len(plan.Segments) != 2 {
		t.Fatalf("segments = %d, want 2: %+v", len(plan.Segments), plan.Segments)
	}
	for i, seg := range plan.Segments {
		if seg.Kind() == SegmentSilence {
			t.Errorf("segment %d is silence, want none", i)
		}
	}
}

func TestPlanTimelineEpsilonBoundaryKeepsPartitionGapless(t *testing.T) {
	// A boundary pair exactly epsilon apart must be deduplicated, not left
	// to produce a sub-epsilon segment whose skip would open a gap at the
	// front of the partition.
	plan, err := PlanTimeline([]Track{track(0, boundaryEpsilon), track(0, 30)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}
	if len(plan.Segments) == 0 {
		t.Fatal("no segments planned")
	}
	if !approx(plan.Segments[0].Start, 0) {
		t.Errorf("first segment starts at %f, want 0", plan.Segments[0].Start)
	}
	cursor := 0.0
	for i, seg := range plan.Segments {
		if !approx(seg.Start, cursor) {
			t.Errorf("segment %d starts at %f, want %f", i, seg.Start, cursor)
		}
		cursor = seg.End
	}
	if !approx(cursor, plan.Total) {
		t.Errorf("segments end at %f, want total %f", cursor, plan.Total)
	}
}

func TestPlanTimelineSegmentsPartitionTimeline(t *testing.T) {
	plan, err := PlanTimeline([]Track{track(0, 25), track(5, 40), track(60, 10)})
	if err != nil {
		t.Fatalf("PlanTimeline: %v", err)
	}
	cursor := 0.0
	for i, seg := range plan.Segments {
		if !approx(seg.Start, cursor) {
			t.Errorf("segment %d starts at %f, want %f (no gap or overlap)", i, seg.Start, cursor)
		}
		if seg.End <= seg.Start {
			t.Errorf("segment %d is empty or inverted: [%f,%f)", i, seg.Start, seg.End)
		}
		cursor = seg.End
	}
	if !approx(cursor, plan.Total) {
		t.Errorf("segments end at %f, want total %f", cursor, plan.Total)
	}
}

func TestPlanTimelineErrors(t *testing.T) {
	if _, err := PlanTimeline(nil); !errors.Is(err, ErrNoTracks) {
		t.Errorf("empty input: err = %v, want ErrNoTracks", err)
	}
	if _, err := PlanTimeline([]Track{track(0, -1)}); err == nil {
		t.Error("negative duration: want error, got nil")
	}
}
