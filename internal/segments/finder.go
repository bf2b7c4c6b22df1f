package segments

import (
	"errors"
)

// BestEffort describes the fastest contiguous interval of a stream covering
// at least DistanceMeters. TimeSeconds is fractional; rounding happens when
// a result is persisted, not here.
type BestEffort struct {
	DistanceMeters float64
	TimeSeconds    float64
	StartIndex     int
	EndIndex       int
}

// ErrLengthMismatch indicates the time and distance streams have different
// lengths. That is a caller bug, never a property of the run itself.
var ErrLengthMismatch = errors.New("time and distance streams have different lengths")

// FindBestEffort returns the fastest sub-interval of at least targetMeters
// within index-aligned cumulative time and distance streams. It returns
// (nil, nil) when the stream is too short to cover the target: a short run
// is a normal outcome, not an error.
//
// The scan is a two-pointer sliding window. The end cursor j is shared
// across iterations of the start index i and only ever moves forward, which
// makes the whole scan O(n) despite the nested loops: cumulative distance is
// non-decreasing, so once a window [i, j] covers the target, every later
// start needs an end at or beyond j.
func FindBestEffort(times, distances []float64, targetMeters float64) (*BestEffort, error) {
	if len(times) != len(distances) {
		return nil, ErrLengthMismatch
	}

	n := len(times)
	if n < 2 {
		return nil, nil
	}
	if distances[n-1]-distances[0] < targetMeters {
		return nil, nil
	}

	var best *BestEffort
	j := 0 // forward-only end cursor, shared across all i
	for i := 0; i < n; i++ {
		if j < i {
			j = i
		}
		for j < n && distances[j]-distances[i] < targetMeters {
			j++
		}
		if j >= n {
			// No remaining start index can cover the target either
			break
		}

		elapsed := times[j] - times[i]

		// The window usually overshoots the target because GPS samples are
		// discrete. Interpolate linearly within the final sample interval to
		// get the elapsed time at exactly targetMeters.
		if j > i && distances[j]-distances[i] > targetMeters {
			segment := distances[j] - distances[j-1]
			if segment > 0 {
				covered := distances[j-1] - distances[i]
				ratio := (targetMeters - covered) / segment
				elapsed = (times[j-1] - times[i]) + ratio*(times[j]-times[j-1])
			}
		}

		if best == nil || elapsed < best.TimeSeconds {
			best = &BestEffort{
				DistanceMeters: targetMeters,
				TimeSeconds:    elapsed,
				StartIndex:     i,
				EndIndex:       j,
			}
		}
	}

	return best, nil
}

// FindAllBestEfforts runs FindBestEffort for each target against the same
// streams. Results are identical to independent calls; duplicate or unsorted
// targets are fine, and an empty target list yields an empty map.
func FindAllBestEfforts(times, distances []float64, targets []float64) (map[float64]*BestEffort, error) {
	results := make(map[float64]*BestEffort, len(targets))
	for _, target := range targets {
		effort, err := FindBestEffort(times, distances, target)
		if err != nil {
			return nil, err
		}
		results[target] = effort
	}
	return results, nil
}
