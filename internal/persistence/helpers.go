package persistence

import (
	"database/sql"
	"time"
)

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}

	return time.UnixMilli(v).UTC()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}

	return v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}

	return 0
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64

	return &f
}
