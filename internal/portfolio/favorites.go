package portfolio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coinfeed/internal/model"
	"coinfeed/internal/store/sqldb"

	"github.com/google/uuid"
)

// Favorites is the SQL-backed model.FavoriteStore. A coin appears at most
// once per user.
type Favorites struct {
	db  *sqldb.DB
	now func() time.Time
}

func NewFavorites(db *sqldb.DB) *Favorites {
	return &Favorites{db: db, now: time.Now}
}

func (f *Favorites) Add(ctx context.Context, userID, coinID string) (*model.Favorite, error) {
	if strings.TrimSpace(coinID) == "" {
		return nil, &model.ValidationError{Field: "coin_id", Value: coinID}
	}
	fav := &model.Favorite{
		ID:        uuid.NewString(),
		UserID:    userID,
		CoinID:    coinID,
		CreatedAt: f.now().UTC().Truncate(time.Millisecond),
	}
	_, err := f.db.ExecContext(ctx, f.db.Rebind(`
		INSERT INTO favorites (id, user_id, coin_id, created_at) VALUES (?, ?, ?, ?)`),
		fav.ID, fav.UserID, fav.CoinID, fav.CreatedAt.UnixMilli())
	if sqldb.IsUniqueViolation(err) {
		return nil, model.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert favorite: %w", err)
	}
	return fav, nil
}

func (f *Favorites) List(ctx context.Context, userID string) ([]model.Favorite, error) {
	rows, err := f.db.QueryContext(ctx, f.db.Rebind(`
		SELECT id, user_id, coin_id, created_at FROM favorites
		WHERE user_id = ? ORDER BY created_at, coin_id`), userID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	out := []model.Favorite{}
	for rows.Next() {
		var (
			fav model.Favorite
			ts  int64
		)
		if err := rows.Scan(&fav.ID, &fav.UserID, &fav.CoinID, &ts); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		fav.CreatedAt = time.UnixMilli(ts).UTC()
		out = append(out, fav)
	}
	return out, rows.Err()
}

func (f *Favorites) Remove(ctx context.Context, userID, coinID string) error {
	if strings.TrimSpace(coinID) == "" {
		return &model.ValidationError{Field: "coin_id", Value: coinID}
	}
	res, err := f.db.ExecContext(ctx, f.db.Rebind(`DELETE FROM favorites WHERE user_id = ? AND coin_id = ?`), userID, coinID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}
