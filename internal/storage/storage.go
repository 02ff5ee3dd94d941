package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// GuildSettings is the per-guild wiring row. Lists (prohibited words, allowed
// link prefixes) live in their own tables and are fetched together with this
// row by GetModerationSettings.
type GuildSettings struct {
	GuildID          string
	LogChannel       string
	WelcomeChannel   string
	MuteRoleID       string
	TicketCategory   string
	TicketLogChannel string
	SupportRoleID    string
}

// ModerationSettings is what the message pipeline consumes on every inbound
// message.
type ModerationSettings struct {
	GuildID             string
	LogChannel          string
	MuteRoleID          string
	ProhibitedWords     []string
	AllowedLinkPrefixes []string
}

type ModLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Action    string
	Reason    string
	CreatedAt time.Time
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT log_channel, welcome_channel, mute_role_id,
		ticket_category, ticket_log_channel, support_role_id
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := GuildSettings{GuildID: guildID}
	err := row.Scan(
		&result.LogChannel,
		&result.WelcomeChannel,
		&result.MuteRoleID,
		&result.TicketCategory,
		&result.TicketLogChannel,
		&result.SupportRoleID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, err
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, log_channel, welcome_channel, mute_role_id,
			ticket_category, ticket_log_channel, support_role_id
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			log_channel = excluded.log_channel,
			welcome_channel = excluded.welcome_channel,
			mute_role_id = excluded.mute_role_id,
			ticket_category = excluded.ticket_category,
			ticket_log_channel = excluded.ticket_log_channel,
			support_role_id = excluded.support_role_id
	`,
		settings.GuildID,
		settings.LogChannel,
		settings.WelcomeChannel,
		settings.MuteRoleID,
		settings.TicketCategory,
		settings.TicketLogChannel,
		settings.SupportRoleID,
	)
	return err
}

// GetModerationSettings bundles the guild row with both rule lists. A guild
// that never configured anything gets empty lists, which the rule engine
// treats as "no word filter, no link restriction".
func (s *Store) GetModerationSettings(ctx context.Context, guildID string) (ModerationSettings, error) {
	settings, err := s.GetGuildSettings(ctx, guildID)
	if err != nil {
		return ModerationSettings{}, err
	}
	words, err := s.ListProhibitedWords(ctx, guildID)
	if err != nil {
		return ModerationSettings{}, err
	}
	links, err := s.ListAllowedLinks(ctx, guildID)
	if err != nil {
		return ModerationSettings{}, err
	}
	return ModerationSettings{
		GuildID:             guildID,
		LogChannel:          settings.LogChannel,
		MuteRoleID:          settings.MuteRoleID,
		ProhibitedWords:     words,
		AllowedLinkPrefixes: links,
	}, nil
}

func (s *Store) AddProhibitedWord(ctx context.Context, guildID, word string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO prohibited_words (guild_id, word) VALUES (?, ?)`,
		guildID, strings.ToLower(strings.TrimSpace(word)))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) RemoveProhibitedWord(ctx context.Context, guildID, word string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prohibited_words WHERE guild_id = ? AND word = ?`,
		guildID, strings.ToLower(strings.TrimSpace(word)))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListProhibitedWords(ctx context.Context, guildID string) ([]string, error) {
	return s.listValues(ctx, `SELECT word FROM prohibited_words WHERE guild_id = ? ORDER BY word`, guildID)
}

func (s *Store) AddAllowedLink(ctx context.Context, guildID, prefix string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO allowed_links (guild_id, prefix) VALUES (?, ?)`,
		guildID, strings.ToLower(strings.TrimSpace(prefix)))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) RemoveAllowedLink(ctx context.Context, guildID, prefix string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_links WHERE guild_id = ? AND prefix = ?`,
		guildID, strings.ToLower(strings.TrimSpace(prefix)))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) ListAllowedLinks(ctx context.Context, guildID string) ([]string, error) {
	return s.listValues(ctx, `SELECT prefix FROM allowed_links WHERE guild_id = ? ORDER BY prefix`, guildID)
}

func (s *Store) listValues(ctx context.Context, query, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func (s *Store) AddModLog(ctx context.Context, log ModLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mod_logs (guild_id, user_id, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Action, log.Reason, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListModLogs(ctx context.Context, guildID string, since time.Time) ([]ModLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, action, reason, created_at
		FROM mod_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ModLog
	for rows.Next() {
		var log ModLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Action, &log.Reason, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
