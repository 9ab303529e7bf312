package georank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/veepo/veeposync/internal/domain"
)

// Query optionally restricts ranking to a circle around Center.
type Query struct {
	Center       *Point
	RadiusMeters float64
}

func (q Query) Validate() error {
	if q.Center == nil {
		return nil
	}
	if err := q.Center.Validate(); err != nil {
		return fmt.Errorf("center: %w", err)
	}
	if q.RadiusMeters <= 0 || math.IsNaN(q.RadiusMeters) {
		return fmt.Errorf("radius must be positive: %v", q.RadiusMeters)
	}

	return nil
}

// Ranked is a provider annotated with its score and, for proximity queries,
// its distance to the query center.
type Ranked struct {
	Provider       domain.Provider
	Score          float64
	DistanceMeters float64
	HasDistance    bool
}

// Rank orders providers by descending score with ties broken by id. When the
// query has a center, providers without a location or outside the radius are
// left out.
func Rank(q Query, providers []domain.Provider, w Weights) ([]Ranked, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make([]Ranked, 0, len(providers))
	for _, p := range providers {
		r := Ranked{Provider: p, Score: Score(p, w)}
		if q.Center != nil {
			d, ok := within(*q.Center, q.RadiusMeters, p)
			if !ok {
				continue
			}
			r.DistanceMeters = d
			r.HasDistance = true
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}

		return out[i].Provider.ID < out[j].Provider.ID
	})

	return out, nil
}

// Nearby returns the providers within radius of center, closest first.
func Nearby(center Point, radiusMeters float64, providers []domain.Provider) ([]Ranked, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 || math.IsNaN(radiusMeters) {
		return nil, errors.New("radius must be positive")
	}

	out := make([]Ranked, 0, len(providers))
	for _, p := range providers {
		d, ok := within(center, radiusMeters, p)
		if !ok {
			continue
		}
		out = append(out, Ranked{Provider: p, DistanceMeters: d, HasDistance: true})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}

		return out[i].Provider.ID < out[j].Provider.ID
	})

	return out, nil
}

func within(center Point, radiusMeters float64, p domain.Provider) (float64, bool) {
	at, ok := ProviderPoint(p)
	if !ok {
		return 0, false
	}
	d := Distance(center, at)

	return d, d <= radiusMeters
}
