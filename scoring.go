package main

import (
	"math"
	"strings"
)

// Overall score weights. The sum is 1.0; a dimension with missing data
// contributes 0, it is never reweighted.
const (
	weightAge      = 0.30
	weightLocation = 0.25
	weightHashtags = 0.25
	weightBio      = 0.20

	// Raw (pre-percentage) overall above this counts as compatible.
	compatibilityThreshold = 0.30
)

// stopWords are dropped from bios before word-overlap scoring.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "may": {},
	"might": {}, "can": {}, "must": {}, "shall": {},
}

// haversine returns the great-circle distance in km between two points.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371 // Earth radius in km
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)
	lat1 = lat1 * (math.Pi / 180)
	lat2 = lat2 * (math.Pi / 180)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// pairDistance returns the distance between two profiles, or nil when either
// side has no coordinates. Missing coordinates are never reported as 0.
func pairDistance(a, b *UserProfile) *float64 {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return nil
	}
	d := haversine(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
	return &d
}

// ageScore is 0 unless each user's age falls inside the other's preferred
// range. When both qualify, closer ages score higher, normalized by the
// wider of the two preference ranges.
func ageScore(a, b *UserProfile, aSettings, bSettings *UserSettings) float64 {
	if a.Age == nil || b.Age == nil {
		return 0
	}
	aInRange := bSettings.MinAge <= *a.Age && *a.Age <= bSettings.MaxAge
	bInRange := aSettings.MinAge <= *b.Age && *b.Age <= aSettings.MaxAge
	if !aInRange || !bInRange {
		return 0
	}

	ageDiff := math.Abs(float64(*a.Age - *b.Age))
	maxRange := math.Max(
		float64(aSettings.MaxAge-aSettings.MinAge),
		float64(bSettings.MaxAge-bSettings.MinAge),
	)
	if maxRange == 0 {
		return 1
	}
	return clamp01(1 - ageDiff/maxRange)
}

// locationScore is 0 when either side has no coordinates or the pair is
// farther apart than the smaller of the two radius preferences; otherwise
// closer distance scores higher.
func locationScore(a, b *UserProfile, aSettings, bSettings *UserSettings) float64 {
	dist := pairDistance(a, b)
	if dist == nil {
		return 0
	}
	maxRadius := float64(min(aSettings.LocationRadius, bSettings.LocationRadius))
	if *dist > maxRadius {
		return 0
	}
	return clamp01(1 - *dist/maxRadius)
}

// hashtagScore is the Jaccard similarity of the case-normalized tag sets.
func hashtagScore(aTags, bTags []string) float64 {
	if len(aTags) == 0 || len(bTags) == 0 {
		return 0
	}
	aSet := lowerSet(aTags)
	bSet := lowerSet(bTags)
	return jaccard(aSet, bSet)
}

// bioScore is the Jaccard similarity of the bio word sets after lower-casing
// and stop-word removal.
func bioScore(aBio, bBio string) float64 {
	if aBio == "" || bBio == "" {
		return 0
	}
	aWords := bioWords(aBio)
	bWords := bioWords(bBio)
	if len(aWords) == 0 || len(bWords) == 0 {
		return 0
	}
	return jaccard(aWords, bWords)
}

func bioWords(bio string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(bio)) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

func lowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// scoreMatch computes the full MatchResult for one candidate. Pure: it reads
// two profile snapshots plus both sides' settings and touches nothing else.
func scoreMatch(requester, candidate *UserProfile, reqSettings, candSettings *UserSettings) MatchResult {
	age := ageScore(requester, candidate, reqSettings, candSettings)
	location := locationScore(requester, candidate, reqSettings, candSettings)
	tags := hashtagScore(requester.Hashtags, candidate.Hashtags)
	bio := bioScore(requester.Bio, candidate.Bio)

	overall := age*weightAge + location*weightLocation + tags*weightHashtags + bio*weightBio

	var distance *float64
	if d := pairDistance(requester, candidate); d != nil {
		rounded := round1(*d)
		distance = &rounded
	}

	return MatchResult{
		UserID:  candidate.ID,
		Overall: round1(overall * 100),
		Scores: SubScores{
			Age:      round1(age * 100),
			Location: round1(location * 100),
			Hashtags: round1(tags * 100),
			Bio:      round1(bio * 100),
		},
		Distance:     distance,
		IsCompatible: overall > compatibilityThreshold,
	}
}
