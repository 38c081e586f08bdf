package db

import (
	"context"
	"fmt"
	"time"
)

func (t *pgTx) NextOrderSequence(ctx context.Context, day time.Time) (int64, error) {
	const query = `
		INSERT INTO order_sequences (seq_date, last_number)
		VALUES ($1, 1)
		ON CONFLICT (seq_date) DO UPDATE SET last_number = order_sequences.last_number + 1
		RETURNING last_number
	`

	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var next int64
	if err := t.tx.QueryRow(ctx, query, date).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate order sequence: %w", err)
	}
	return next, nil
}

func (t *pgTx) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := t.tx.QueryRow(ctx, `SELECT setting_value FROM settings WHERE setting_key = $1`, key).Scan(&value)
	if err != nil {
		return "", notFound(err)
	}
	return value, nil
}
