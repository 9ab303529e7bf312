package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/veepo/veeposync/internal/domain"
)

type ProviderRepo struct {
	db *sql.DB
}

func NewProviderRepo(db *sql.DB) *ProviderRepo {
	return &ProviderRepo{db: db}
}

func (r *ProviderRepo) Upsert(ctx context.Context, p domain.Provider) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO providers(id, name, business_name, state, city, segment, avatar_url, latitude, longitude, is_available, plan, nps_score, average_rating, is_verified, activity_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			business_name = excluded.business_name,
			state = excluded.state,
			city = excluded.city,
			segment = excluded.segment,
			avatar_url = excluded.avatar_url,
			latitude = COALESCE(excluded.latitude, providers.latitude),
			longitude = COALESCE(excluded.longitude, providers.longitude),
			is_available = excluded.is_available,
			plan = excluded.plan,
			nps_score = excluded.nps_score,
			average_rating = excluded.average_rating,
			is_verified = excluded.is_verified,
			activity_score = excluded.activity_score,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, nullableString(p.BusinessName), nullableString(p.State), nullableString(p.City), nullableString(p.Segment),
		nullableString(p.AvatarURL), nullableFloat(p.Latitude), nullableFloat(p.Longitude), boolToInt(p.IsAvailable),
		string(p.Plan), p.NPSScore, p.AverageRating, boolToInt(p.IsVerified), p.ActivityScore, toUnixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}

	return nil
}

func (r *ProviderRepo) UpsertMany(ctx context.Context, providers []domain.Provider) error {
	for _, p := range providers {
		if err := r.Upsert(ctx, p); err != nil {
			return err
		}
	}

	return nil
}

// ListAll returns every cached provider ordered by id.
func (r *ProviderRepo) ListAll(ctx context.Context) ([]domain.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, business_name, state, city, segment, avatar_url, latitude, longitude, is_available, plan, nps_score, average_rating, is_verified, activity_score
		FROM providers
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Provider
	for rows.Next() {
		var (
			p            domain.Provider
			businessName sql.NullString
			state        sql.NullString
			city         sql.NullString
			segment      sql.NullString
			avatar       sql.NullString
			lat          sql.NullFloat64
			lon          sql.NullFloat64
			available    int64
			plan         string
			verified     int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &businessName, &state, &city, &segment, &avatar, &lat, &lon, &available, &plan, &p.NPSScore, &p.AverageRating, &verified, &p.ActivityScore); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		p.BusinessName = businessName.String
		p.State = state.String
		p.City = city.String
		p.Segment = segment.String
		p.AvatarURL = avatar.String
		p.Latitude = floatPtr(lat)
		p.Longitude = floatPtr(lon)
		p.IsAvailable = available != 0
		p.Plan = domain.PlanTier(plan)
		p.IsVerified = verified != 0
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}

	return out, nil
}
