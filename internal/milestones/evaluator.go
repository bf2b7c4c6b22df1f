package milestones

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"runclub-milestones/internal/database"
	"runclub-milestones/internal/metrics"
	"runclub-milestones/internal/segments"
	"runclub-milestones/internal/strava"
)

// Outcome is what a single activity unlocked or improved
type Outcome struct {
	NewAchievements []*database.Achievement
	Improvements    []*database.Achievement
}

// Summary renders the outcome as a short human-readable note for the queue row
func (o *Outcome) Summary() string {
	if len(o.NewAchievements) == 0 && len(o.Improvements) == 0 {
		return "no milestones unlocked or improved"
	}

	s := ""
	for _, a := range o.NewAchievements {
		if s != "" {
			s += "; "
		}
		s += fmt.Sprintf("unlocked %s in %ds", a.Milestone, a.TimeSeconds)
	}
	for _, a := range o.Improvements {
		if s != "" {
			s += "; "
		}
		s += fmt.Sprintf("improved %s to %ds (was %ds)", a.Milestone, a.TimeSeconds, *a.PreviousTimeSeconds)
	}
	return s
}

// Evaluator classifies an activity's best efforts against the milestone
// table and the member's existing season records
type Evaluator struct {
	db       *database.DB
	location *time.Location
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator. Seasons are calendar years in loc, not UTC.
func NewEvaluator(db *database.DB, loc *time.Location) *Evaluator {
	return &Evaluator{
		db:       db,
		location: loc,
		logger:   slog.Default(),
	}
}

// Season returns the calendar-year bucket an activity belongs to. A run at
// local 23:59 Dec 31 and one at local 00:01 Jan 1 are different seasons even
// if minutes apart in absolute time.
func (e *Evaluator) Season(startDate time.Time) int {
	return startDate.In(e.location).Year()
}

// Evaluate runs the segment finder for every milestone and persists new
// achievements and improvements as append-only rows. Failures reading or
// writing achievements are fatal: a partial insert would corrupt the
// current-best invariant. The processed-activity projection is best effort
// only and never fails the evaluation.
func (e *Evaluator) Evaluate(member *database.Member, activity *strava.Activity, stream *strava.Stream) (*Outcome, error) {
	season := e.Season(activity.StartDate)

	best, err := e.db.BestTimes(member.ID, season)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing achievements: %w", err)
	}

	outcome := &Outcome{}

	for _, def := range Definitions {
		effort, err := segments.FindBestEffort(stream.Time, stream.Distance, def.DistanceMeters)
		if err != nil {
			return nil, fmt.Errorf("failed to find best effort for %s: %w", def.Key, err)
		}
		if effort == nil {
			// Run too short for this milestone
			continue
		}

		rounded := int(math.Round(effort.TimeSeconds))

		row := &database.Achievement{
			MemberID:       member.ID,
			Milestone:      def.Key,
			Season:         season,
			ActivityID:     activity.ID,
			AchievedAt:     activity.StartDate,
			TimeSeconds:    rounded,
			DistanceMeters: def.DistanceMeters,
		}

		existing, hasRecord := best[def.Key]
		switch {
		case !hasRecord:
			// Ties with the pace target count as achieved
			if rounded > def.TargetSeconds {
				continue
			}
			if err := e.db.InsertAchievement(row); err != nil {
				return nil, fmt.Errorf("failed to insert achievement for %s: %w", def.Key, err)
			}
			outcome.NewAchievements = append(outcome.NewAchievements, row)
			metrics.AchievementsRecordedTotal.WithLabelValues(def.Key, metrics.AchievementKindNew).Inc()

			e.logger.Info("milestone unlocked",
				"member_id", member.ID,
				"milestone", def.Key,
				"season", season,
				"time_seconds", rounded)

		case rounded < existing:
			previous := existing
			row.PreviousTimeSeconds = &previous
			if err := e.db.InsertAchievement(row); err != nil {
				return nil, fmt.Errorf("failed to insert improvement for %s: %w", def.Key, err)
			}
			outcome.Improvements = append(outcome.Improvements, row)
			metrics.AchievementsRecordedTotal.WithLabelValues(def.Key, metrics.AchievementKindImprovement).Inc()

			e.logger.Info("milestone improved",
				"member_id", member.ID,
				"milestone", def.Key,
				"season", season,
				"time_seconds", rounded,
				"previous_seconds", previous)

		default:
			// Equal or slower than the current record is a no-op: re-processing
			// and GPS noise must not generate duplicate rows
		}
	}

	// Observational projection only; log and move on if it fails
	if err := e.db.UpsertProcessedActivity(&database.ProcessedActivity{
		ActivityID:     activity.ID,
		AthleteID:      member.AthleteID,
		Name:           activity.Name,
		DistanceMeters: activity.Distance,
		MovingTime:     activity.MovingTime,
		StartDate:      activity.StartDate,
	}); err != nil {
		e.logger.Error("failed to record processed activity", "activity_id", activity.ID, "error", err)
	}

	return outcome, nil
}
