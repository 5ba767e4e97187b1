package main

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// scoringConcurrency bounds the per-candidate scoring fan-out.
const scoringConcurrency = 8

// Ranker turns a candidate population into a ranked match list for one
// requesting user.
type Ranker struct {
	profiles ProfileStore
	settings SettingsStore
}

func NewRanker(profiles ProfileStore, settings SettingsStore) *Ranker {
	return &Ranker{profiles: profiles, settings: settings}
}

// TopMatches ranks candidates for userID and returns at most limit of them.
//
// Filtering is two-phase on purpose: the population scan only constrains
// account state and the requester's age range (cheap, index-level), while the
// distance check runs after scoring, which has already paid for the haversine
// computation. The age pre-filter uses the requester's range only; mutual
// range membership is enforced by the age sub-score itself.
func (r *Ranker) TopMatches(ctx context.Context, userID, limit int) ([]Match, error) {
	requester, err := r.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load requester profile: %w", err)
	}
	reqSettings, err := r.settings.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load requester settings: %w", err)
	}

	candidates, err := r.profiles.ListCandidates(ctx, CandidateFilter{
		ExcludeUserID: userID,
		MinAge:        reqSettings.MinAge,
		MaxAge:        reqSettings.MaxAge,
		RequireCoords: requester.Latitude != nil && requester.Longitude != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	// Fan out scoring: each candidate is independent and writes only to its
	// own slot, so no locking is needed. Any settings-load failure aborts the
	// whole computation; a partial ranking is never returned.
	results := make([]MatchResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoringConcurrency)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			candSettings, err := r.settings.GetOrCreateSettings(gctx, candidate.ID)
			if err != nil {
				return fmt.Errorf("settings for candidate %d: %w", candidate.ID, err)
			}
			results[i] = scoreMatch(requester, candidate, reqSettings, candSettings)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for i, candidate := range candidates {
		res := results[i]
		// Secondary distance filter against the requester's own radius.
		if res.Distance != nil && *res.Distance > float64(reqSettings.LocationRadius) {
			continue
		}
		if !res.IsCompatible {
			continue
		}
		matches = append(matches, Match{Profile: candidate, Result: res})
	}

	// Nearest first, unknown distance last, better score breaking ties.
	sort.SliceStable(matches, func(i, j int) bool {
		di, dj := matches[i].Result.Distance, matches[j].Result.Distance
		switch {
		case di == nil && dj == nil:
			return matches[i].Result.Overall > matches[j].Result.Overall
		case di == nil:
			return false
		case dj == nil:
			return true
		case *di != *dj:
			return *di < *dj
		default:
			return matches[i].Result.Overall > matches[j].Result.Overall
		}
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
