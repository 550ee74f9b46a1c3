package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banshee-data/traffic.report/internal/db"
)

// FindJointMovements scans every other vehicle active in the comparison
// window and returns those that traveled together with the target: enough
// shared detector visits, close enough in time at each, without one vehicle
// systematically leading the other, and with the shared visits contiguous in
// the target's trajectory.
//
// No ranking is applied; qualifying vehicles come back in candidate scan
// order and ordering is the caller's concern.
func (e *Engine) FindJointMovements(ctx context.Context, p JointMovementParams) ([]JointMovement, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	target, err := e.VehicleTrack(ctx, p.TargetVehicleID, p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	// A target with fewer visits than the match minimum cannot qualify
	// anything; this also covers the empty-track case.
	if len(target) < p.MinCommonNodes {
		return []JointMovement{}, nil
	}

	// Explicit window if given, otherwise the target's own span padded by
	// the gap tolerance on each side.
	var winStart, winEnd time.Time
	if p.StartTime != nil && p.EndTime != nil {
		winStart, winEnd = *p.StartTime, *p.EndTime
	} else {
		pad := time.Duration(p.MaxTimeGapSeconds) * time.Second
		winStart = target[0].Timestamp.Add(-pad)
		winEnd = target[len(target)-1].Timestamp.Add(pad)
	}

	sightings, err := e.store.SightingsInWindow(ctx, winStart, winEnd, p.TargetVehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate sightings: %w", err)
	}

	candidates := groupByVehicle(sightings)

	gapSeconds := float64(p.MaxTimeGapSeconds)
	leadSeconds := float64(p.MaxLeadSeconds)

	movements := []JointMovement{}
	for _, c := range candidates {
		matches := matchVisits(target, c.track, gapSeconds)
		if len(matches) < p.MinCommonNodes {
			continue
		}

		// Reject pairs where one vehicle is systematically ahead. Only one
		// of the two lead extremes needs to be within tolerance; this is
		// deliberately permissive and preserved as-is.
		maxLead, minLead := leadExtremes(matches)
		if math.Abs(maxLead) > leadSeconds && math.Abs(minLead) > leadSeconds {
			continue
		}

		if !consecutiveMatches(matches, target) {
			continue
		}

		first := matches[0].TargetTimestamp
		last := matches[len(matches)-1].TargetTimestamp
		duration := 0.0
		if len(matches) > 1 {
			duration = last.Sub(first).Seconds()
		}

		movements = append(movements, JointMovement{
			VehicleID:        c.vehicleID,
			CommonNodesCount: len(matches),
			Matches:          matches,
			StartTime:        first,
			EndTime:          last,
			DurationSeconds:  duration,
		})
	}

	return movements, nil
}

type candidateTrack struct {
	vehicleID string
	track     []db.Sighting
}

// groupByVehicle splits sightings into per-vehicle trajectories. Input rows
// arrive ordered by vehicle then timestamp, so each group is already a
// time-sorted track and group order is deterministic.
func groupByVehicle(sightings []db.Sighting) []candidateTrack {
	var candidates []candidateTrack
	for _, s := range sightings {
		n := len(candidates)
		if n == 0 || candidates[n-1].vehicleID != s.VehicleID {
			candidates = append(candidates, candidateTrack{vehicleID: s.VehicleID})
			n++
		}
		candidates[n-1].track = append(candidates[n-1].track, s)
	}
	return candidates
}

// matchVisits walks the candidate track against the target track with a
// two-pointer merge. The target pointer never regresses, so each target
// visit is consumed at most once and matching stays sensitive to visit
// order, not just detector-set overlap.
func matchVisits(target []VisitRecord, other []db.Sighting, gapSeconds float64) []Match {
	gap := time.Duration(gapSeconds * float64(time.Second))

	var matches []Match
	ti := 0
	for _, o := range other {
		for ti < len(target) {
			t := target[ti]

			if t.DetectorID == o.DetectorID {
				diff := math.Abs(o.Timestamp.Sub(t.Timestamp).Seconds())
				if diff <= gapSeconds {
					matches = append(matches, Match{
						DetectorID:         t.DetectorID,
						DetectorExternalID: t.DetectorExternalID,
						TargetTimestamp:    t.Timestamp,
						OtherTimestamp:     o.Timestamp,
						TimeDiffSeconds:    diff,
						Latitude:           t.Latitude,
						Longitude:          t.Longitude,
					})
				}
				ti++
				break
			}

			// The candidate visit is already past this target visit by more
			// than the tolerance; keep the target pointer for the next
			// candidate visit instead of skipping ahead.
			if o.Timestamp.After(t.Timestamp.Add(gap)) {
				break
			}

			ti++
		}

		if ti >= len(target) {
			break
		}
	}

	return matches
}

// leadExtremes returns the maximum and minimum signed lead
// (candidate timestamp minus target timestamp, in seconds) across matches.
func leadExtremes(matches []Match) (maxLead, minLead float64) {
	for i, m := range matches {
		lead := m.OtherTimestamp.Sub(m.TargetTimestamp).Seconds()
		if i == 0 || lead > maxLead {
			maxLead = lead
		}
		if i == 0 || lead < minLead {
			minLead = lead
		}
	}
	return maxLead, minLead
}

// maxPositionGap is the largest allowed distance, in target trajectory
// slots, between consecutive matched detectors. A gap above this means the
// overlap is scattered coincidence rather than shared movement.
const maxPositionGap = 3

// consecutiveMatches reports whether the matched detectors occupy
// near-contiguous positions in the target trajectory.
func consecutiveMatches(matches []Match, target []VisitRecord) bool {
	if len(matches) < 2 {
		return true
	}

	// Position of each detector in the target track; a detector visited
	// twice resolves to its later position.
	positions := make(map[string]int, len(target))
	for idx, v := range target {
		positions[v.DetectorID] = idx
	}

	matchPositions := make([]int, 0, len(matches))
	for _, m := range matches {
		matchPositions = append(matchPositions, positions[m.DetectorID])
	}
	sort.Ints(matchPositions)

	for i := 0; i < len(matchPositions)-1; i++ {
		if matchPositions[i+1]-matchPositions[i] > maxPositionGap {
			return false
		}
	}

	return true
}
