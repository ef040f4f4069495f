package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// durationTolerance is how far the probed output may drift from the planned
// timeline before a warning is logged. Drift is logged, never failed.
const durationTolerance = 1.0

// Engine is the TimelineMergeEngine: it turns N independently-timed tracks
// into one continuous artifact, synthesizing silence for gaps and mixing
// overlap, with every segment normalized to one spec before concatenation.
type Engine struct {
	proc Processor
	spec Spec
}

func NewEngine(proc Processor, spec Spec) *Engine {
	return &Engine{proc: proc, spec: spec}
}

// Merge writes the combined artifact to outPath and returns the planned
// total timeline length in seconds. It works only on the given snapshot of
// tracks; it does not consult any live room state.
func (e *Engine) Merge(ctx context.Context, tracks []Track, outPath string) (float64, error) {
	logger := zerolog.Ctx(ctx)

	plan, err := PlanTimeline(tracks)
	if err != nil {
		return 0, err
	}
	logger.Info().
		Str("module", "media.engine").
		Int("tracks", len(tracks)).
		Int("segments", len(plan.Segments)).
		Float64("total", plan.Total).
		Msg("timeline planned")

	workDir := filepath.Join(filepath.Dir(outPath), "segments-"+shortID())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return 0, fmt.Errorf("create segment dir: %w", err)
	}
	defer e.cleanup(ctx, workDir)

	// Silence derivation may need an existing artifact as a template.
	reference := tracks[0].Path

	var normalized []string
	for i, seg := range plan.Segments {
		segFile := filepath.Join(workDir, fmt.Sprintf("segment_%d.mp3", i))
		logger.Debug().
			Str("module", "media.engine").
			Int("segment", i).
			Str("kind", seg.Kind().String()).
			Float64("start", seg.Start).
			Float64("end", seg.End).
			Msg("rendering segment")

		if err := e.renderSegment(ctx, plan, seg, tracks, segFile, reference, i); err != nil {
			return 0, fmt.Errorf("segment %d [%s]: %w", i, seg.Kind(), err)
		}
		if err := WaitForFile(ctx, segFile, fileWaitTimeout); err != nil {
			return 0, fmt.Errorf("segment %d: %w", i, err)
		}

		normFile := filepath.Join(workDir, fmt.Sprintf("segment_%d_norm.mp3", i))
		if err := e.proc.Transcode(ctx, segFile, normFile, e.spec); err != nil {
			return 0, fmt.Errorf("normalize segment %d: %w", i, err)
		}
		if err := WaitForFile(ctx, normFile, fileWaitTimeout); err != nil {
			return 0, fmt.Errorf("segment %d: %w", i, err)
		}
		normalized = append(normalized, normFile)
	}

	listFile := filepath.Join(workDir, "concat.txt")
	if err := writeConcatList(listFile, normalized); err != nil {
		return 0, err
	}
	if err := e.proc.Concat(ctx, listFile, outPath, e.spec); err != nil {
		return 0, fmt.Errorf("concat: %w", err)
	}
	if err := WaitForFile(ctx, outPath, fileWaitTimeout); err != nil {
		return 0, err
	}

	if probed, err := e.proc.ProbeDuration(ctx, outPath); err != nil {
		logger.Warn().Err(err).Str("module", "media.engine").Msg("could not probe merged output")
	} else if math.Abs(probed-plan.Total) > durationTolerance {
		logger.Warn().
			Str("module", "media.engine").
			Float64("expected", plan.Total).
			Float64("actual", probed).
			Msg("merged duration drifted from planned timeline")
	}

	return plan.Total, nil
}

func (e *Engine) renderSegment(ctx context.Context, plan Plan, seg Segment, tracks []Track, segFile, reference string, idx int) error {
	switch seg.Kind() {
	case SegmentSilence:
		return e.proc.Silence(ctx, seg.Duration(), segFile, e.spec, reference)

	case SegmentSingle:
		ti := seg.Tracks[0]
		offset := math.Max(0, seg.Start-plan.Offsets[ti])
		return e.proc.Trim(ctx, tracks[ti].Path, segFile, offset, seg.Duration(), e.spec)

	default:
		trims := make([]string, 0, len(seg.Tracks))
		for _, ti := range seg.Tracks {
			trimFile := strings.TrimSuffix(segFile, ".mp3") + fmt.Sprintf("_trim_%d.mp3", ti)
			offset := math.Max(0, seg.Start-plan.Offsets[ti])
			if err := e.proc.Trim(ctx, tracks[ti].Path, trimFile, offset, seg.Duration(), e.spec); err != nil {
				return fmt.Errorf("trim track %d: %w", ti, err)
			}
			if err := WaitForFile(ctx, trimFile, fileWaitTimeout); err != nil {
				return err
			}
			trims = append(trims, trimFile)
		}
		return e.proc.Mix(ctx, trims, segFile, e.spec)
	}
}

// cleanup removes all intermediate per-segment artifacts. Best effort:
// failures are logged, never propagated.
func (e *Engine) cleanup(ctx context.Context, workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("module", "media.engine").Str("dir", workDir).Msg("could not clean up segment dir")
	}
}

func writeConcatList(listFile string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("concat list: %w", err)
		}
		path := strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", path)
	}
	if err := os.WriteFile(listFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
