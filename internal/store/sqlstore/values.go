package sqlstore

import (
	"database/sql"
	"time"

	"github.com/example/hotel-refunds/internal/models"
)

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func stringOrNil(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func decisionOrNil(v *models.FinalDecision) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func timeOrNil(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
