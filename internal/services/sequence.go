package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/models"
)

// OrderNumberer allocates order numbers from the per-day counter. The
// allocation joins the caller's transaction, so a rolled back order leaves
// the counter untouched.
type OrderNumberer struct {
	prefix string
	loc    *time.Location
	now    func() time.Time
}

func NewOrderNumberer(prefix string, loc *time.Location) *OrderNumberer {
	if loc == nil {
		loc = time.UTC
	}
	return &OrderNumberer{prefix: prefix, loc: loc, now: time.Now}
}

func (n *OrderNumberer) Next(ctx context.Context, tx db.Tx) (string, error) {
	day := n.now().In(n.loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, n.loc)

	seq, err := tx.NextOrderSequence(ctx, day)
	if err != nil {
		return "", fmt.Errorf("failed to allocate order sequence: %w", err)
	}
	return models.FormatOrderNo(n.prefix, day, seq), nil
}
