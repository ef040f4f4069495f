package media

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// boundaryEpsilon both deduplicates near-identical segment boundaries and
// absorbs floating-point jitter when deciding which tracks are active at a
// boundary.
const boundaryEpsilon = 0.01

var ErrNoTracks = errors.New("no tracks to merge")

// Track is a finished, probeable audio artifact with a known wall-clock
// start and duration.
type Track struct {
	Path     string
	Start    time.Time
	Duration float64
}

type SegmentKind int

const (
	SegmentSilence SegmentKind = iota
	SegmentSingle
	SegmentMixed
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentSilence:
		return "silence"
	case SegmentSingle:
		return "single"
	case SegmentMixed:
		return "mixed"
	}
	return "unknown"
}

// Segment is one [Start,End) interval of the merge timeline. Tracks holds
// the indices of the tracks active in the interval; empty means silence.
type Segment struct {
	Start  float64
	End    float64
	Tracks []int
}

func (s Segment) Kind() SegmentKind {
	switch len(s.Tracks) {
	case 0:
		return SegmentSilence
	case 1:
		return SegmentSingle
	default:
		return SegmentMixed
	}
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// Plan is the full segmentation of the merge timeline. Segments partition
// [0,Total) with no gaps or overlaps; Offsets[i] is track i's start relative
// to the baseline (the earliest start among all tracks).
type Plan struct {
	Baseline time.Time
	Offsets  []float64
	Total    float64
	Segments []Segment
}

// PlanTimeline computes the segmentation for any number of tracks in one
// pass. Every track keeps its own wall-clock anchor relative to the shared
// baseline, so alignment is exact regardless of participant count.
func PlanTimeline(tracks []Track) (Plan, error) {
	if len(tracks) == 0 {
		return Plan{}, ErrNoTracks
	}
	for i, t := range tracks {
		if t.Duration < 0 {
			return Plan{}, fmt.Errorf("track %d has negative duration %f", i, t.Duration)
		}
	}

	baseline := tracks[0].Start
	for _, t := range tracks[1:] {
		if t.Start.Before(baseline) {
			baseline = t.Start
		}
	}

	offsets := make([]float64, len(tracks))
	ends := make([]float64, len(tracks))
	total := 0.0
	for i, t := range tracks {
		offsets[i] = t.Start.Sub(baseline).Seconds()
		ends[i] = offsets[i] + t.Duration
		if ends[i] > total {
			total = ends[i]
		}
	}

	boundaries := []float64{0}
	for i := range tracks {
		if offsets[i] > 0 {
			boundaries = append(boundaries, offsets[i])
		}
		boundaries = append(boundaries, ends[i])
	}
	boundaries = append(boundaries, total)
	boundaries = dedupeSorted(boundaries)

	var segments []Segment
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end-start <= boundaryEpsilon {
			continue
		}
		seg := Segment{Start: start, End: end}
		for j := range tracks {
			if start >= offsets[j]-boundaryEpsilon && start < ends[j]-boundaryEpsilon {
				seg.Tracks = append(seg.Tracks, j)
			}
		}
		segments = append(segments, seg)
	}

	return Plan{Baseline: baseline, Offsets: offsets, Total: total, Segments: segments}, nil
}

// dedupeSorted drops boundaries within epsilon of their predecessor. The
// comparison must match the segment-skip threshold in PlanTimeline: any pair
// that survives here is strictly more than epsilon apart, so no surviving
// segment is ever skipped and the partition stays gapless.
func dedupeSorted(values []float64) []float64 {
	sort.Float64s(values)
	out := values[:0]
	for _, v := range values {
		if len(out) > 0 && v-out[len(out)-1] <= boundaryEpsilon {
			continue
		}
		out = append(out, v)
	}
	return out
}
