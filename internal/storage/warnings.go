package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type UserWarnings struct {
	GuildID    string
	UserID     string
	Count      int
	LastWarnAt time.Time
}

func (s *Store) GetWarnings(ctx context.Context, guildID, userID string) (UserWarnings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT warning_count, last_warn_at
		FROM user_warnings
		WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)

	record := UserWarnings{GuildID: guildID, UserID: userID}
	var lastWarn int64
	err := row.Scan(&record.Count, &lastWarn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, nil
		}
		return UserWarnings{}, err
	}
	record.LastWarnAt = time.Unix(lastWarn, 0)
	return record, nil
}

// IncrementWarnings bumps a user's counter by one inside a transaction so two
// near-simultaneous violations never lose an increment. Returns the new count.
func (s *Store) IncrementWarnings(ctx context.Context, guildID, userID string) (int, error) {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var count int
	row := tx.QueryRowContext(ctx, `
		SELECT warning_count FROM user_warnings
		WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	scanErr := row.Scan(&count)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return 0, err
	}

	count++
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_warnings (guild_id, user_id, warning_count, last_warn_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			warning_count = excluded.warning_count,
			last_warn_at = excluded.last_warn_at
	`, guildID, userID, count, now.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetWarnings(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_warnings SET warning_count = 0
		WHERE guild_id = ? AND user_id = ?
	`, guildID, userID)
	return err
}
