// internal/database/cards.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcadia-gg/arcadia/internal/generator"
)

// CardStore serves the board generator's card pool from the card_pool table.
type CardStore struct {
	pool *pgxpool.Pool
}

// NewCardStore builds a card source over pool.
func NewCardStore(pool *pgxpool.Pool) *CardStore {
	return &CardStore{pool: pool}
}

// Cards implements generator.CardSource.
func (s *CardStore) Cards(ctx context.Context) ([]generator.CardPoolEntry, error) {
	q := `SELECT text, tier, tags FROM card_pool ORDER BY tier, text`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load card pool: %w", err)
	}
	defer rows.Close()

	var entries []generator.CardPoolEntry
	for rows.Next() {
		var e generator.CardPoolEntry
		if err := rows.Scan(&e.Text, &e.Tier, &e.Tags); err != nil {
			return nil, fmt.Errorf("scan card pool entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load card pool: %w", err)
	}
	return entries, nil
}
