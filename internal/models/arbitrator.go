package models

import (
	"strings"
	"time"
	"unicode"
)

// Arbitrator is a committee member authorized to vote on one hotel's cases.
type Arbitrator struct {
	ID        string    `json:"id"`
	HotelID   string    `json:"hotel_id"`
	HotelName string    `json:"hotel_name"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizePhone keeps a leading '+' and the digits of a phone number so that
// "138-0013-8000" and "13800138000" collide on the per-hotel uniqueness check.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
