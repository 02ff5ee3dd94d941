package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

type Ticket struct {
	ID        string
	GuildID   string
	ChannelID string
	CreatorID string
	ClaimedBy string
	Status    string
	Reason    string
	Rating    int
	OpenedAt  time.Time
	ClosedAt  time.Time
}

func (s *Store) CreateTicket(ctx context.Context, ticket Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, guild_id, channel_id, creator_id, claimed_by, status, reason, rating, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ticket.ID, ticket.GuildID, ticket.ChannelID, ticket.CreatorID, ticket.ClaimedBy,
		ticket.Status, ticket.Reason, ticket.Rating, ticket.OpenedAt.Unix(), 0)
	return err
}

func (s *Store) GetTicketByChannel(ctx context.Context, guildID, channelID string) (Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, channel_id, creator_id, claimed_by, status, reason, rating, opened_at, closed_at
		FROM tickets
		WHERE guild_id = ? AND channel_id = ?
	`, guildID, channelID)
	return scanTicket(row)
}

func (s *Store) GetOpenTicketByCreator(ctx context.Context, guildID, creatorID string) (Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, channel_id, creator_id, claimed_by, status, reason, rating, opened_at, closed_at
		FROM tickets
		WHERE guild_id = ? AND creator_id = ? AND status = ?
	`, guildID, creatorID, TicketStatusOpen)
	return scanTicket(row)
}

func (s *Store) ClaimTicket(ctx context.Context, ticketID, memberID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET claimed_by = ? WHERE id = ? AND status = ?
	`, memberID, ticketID, TicketStatusOpen)
	return err
}

func (s *Store) CloseTicket(ctx context.Context, ticketID string, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET status = ?, closed_at = ? WHERE id = ?
	`, TicketStatusClosed, closedAt.Unix(), ticketID)
	return err
}

func (s *Store) RateTicket(ctx context.Context, ticketID string, rating int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET rating = ? WHERE id = ? AND status = ?
	`, rating, ticketID, TicketStatusClosed)
	return err
}

func (s *Store) GetLastClosedTicketByCreator(ctx context.Context, guildID, creatorID string) (Ticket, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, channel_id, creator_id, claimed_by, status, reason, rating, opened_at, closed_at
		FROM tickets
		WHERE guild_id = ? AND creator_id = ? AND status = ?
		ORDER BY closed_at DESC LIMIT 1
	`, guildID, creatorID, TicketStatusClosed)
	return scanTicket(row)
}

func scanTicket(row *sql.Row) (Ticket, bool, error) {
	var ticket Ticket
	var opened, closed int64
	err := row.Scan(&ticket.ID, &ticket.GuildID, &ticket.ChannelID, &ticket.CreatorID,
		&ticket.ClaimedBy, &ticket.Status, &ticket.Reason, &ticket.Rating, &opened, &closed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Ticket{}, false, nil
		}
		return Ticket{}, false, err
	}
	ticket.OpenedAt = time.Unix(opened, 0)
	if closed > 0 {
		ticket.ClosedAt = time.Unix(closed, 0)
	}
	return ticket, true, nil
}
