package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/georank"
)

// RankRequest selects the providers to rank and the optional proximity
// restriction.
type RankRequest struct {
	Criteria georank.Criteria
	Center   *georank.Point
	// RadiusMeters defaults to the configured radius when Center is set.
	RadiusMeters float64
	// Cached ranks the local provider cache instead of querying the backend.
	Cached bool
}

// SearchProviders queries the backend and applies the same predicates
// locally, so accent and case folding behave the same online and cached.
// Results are published for the provider cache.
func (r *Runtime) SearchProviders(ctx context.Context, c georank.Criteria) ([]domain.Provider, error) {
	rows, err := r.Backend.SearchProviders(ctx, backend.SearchProvidersRequest{
		Query:   c.Text,
		State:   c.State,
		City:    c.City,
		Segment: c.Segment,
	})
	if err != nil {
		return nil, err
	}
	r.Bus.Publish(connectors.TopicProvidersFetched, domain.ProviderList{Items: rows})

	return georank.Filter(c, rows), nil
}

// NearbyProviders lists providers within radius of center, closest first.
// Distances and the radius are re-checked locally, so rows without
// coordinates or just outside the radius are left out.
func (r *Runtime) NearbyProviders(ctx context.Context, center georank.Point, radiusMeters float64) ([]georank.Ranked, error) {
	if radiusMeters <= 0 {
		radiusMeters = r.CurrentConfig().Ranking.DefaultRadiusM
	}
	rows, err := r.Backend.FindNearbyProviders(ctx, backend.NearbyRequest{
		Latitude:     center.Latitude,
		Longitude:    center.Longitude,
		RadiusMeters: radiusMeters,
	})
	if err != nil {
		return nil, err
	}

	providers := make([]domain.Provider, 0, len(rows))
	for _, row := range rows {
		providers = append(providers, row.Provider)
	}
	r.Bus.Publish(connectors.TopicProvidersFetched, domain.ProviderList{Items: providers})

	out, err := georank.Nearby(center, radiusMeters, providers)
	if err != nil {
		return nil, err
	}
	if dropped := len(providers) - len(out); dropped > 0 {
		slog.Debug("nearby rows outside local radius dropped", "dropped", dropped, "radius_m", radiusMeters)
	}

	return out, nil
}

// RankProviders scores the selected providers with the configured weights.
func (r *Runtime) RankProviders(ctx context.Context, req RankRequest) ([]georank.Ranked, error) {
	cfg := r.CurrentConfig()

	var providers []domain.Provider
	if req.Cached {
		cached, err := r.ProviderRepo.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load cached providers: %w", err)
		}
		providers = georank.Filter(req.Criteria, cached)
	} else {
		fetched, err := r.SearchProviders(ctx, req.Criteria)
		if err != nil {
			return nil, err
		}
		providers = fetched
	}

	q := georank.Query{Center: req.Center, RadiusMeters: req.RadiusMeters}
	if q.Center != nil && q.RadiusMeters <= 0 {
		q.RadiusMeters = cfg.Ranking.DefaultRadiusM
	}

	return georank.Rank(q, providers, cfg.Ranking.Weights)
}
