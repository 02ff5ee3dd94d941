// Package tickets manages per-user support tickets backed by private guild
// channels.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guardia/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyOpen      = errors.New("creator already has an open ticket")
	ErrNotTicketChannel = errors.New("channel is not a ticket")
	ErrAlreadyClaimed   = errors.New("ticket already claimed")
	ErrAlreadyClosed    = errors.New("ticket already closed")
	ErrNoClosedTicket   = errors.New("no closed ticket to rate")
	ErrBadRating        = errors.New("rating must be between 1 and 5")
	ErrNotSupport       = errors.New("member is not part of the support team")
	ErrNotAllowed       = errors.New("member may not close this ticket")
)

// Actor is the member invoking a ticket operation, with the slice of their
// guild standing the manager needs to authorize it.
type Actor struct {
	ID             string
	Roles          []string
	ManageChannels bool
}

// isSupport reports whether the actor belongs to the support team. When the
// guild has no support role configured, channel managers stand in.
func (a Actor) isSupport(supportRoleID string) bool {
	if supportRoleID == "" {
		return a.ManageChannels
	}
	for _, id := range a.Roles {
		if id == supportRoleID {
			return true
		}
	}
	return false
}

// Platform is the channel surface the manager needs from the bot.
type Platform interface {
	CreateTicketChannel(guildID, categoryID, name string, memberID, supportRoleID string) (string, error)
	SendMessage(channelID, content string) error
	DeleteChannel(channelID string) error
}

type Manager struct {
	store      *storage.Store
	platform   Platform
	logger     *zap.Logger
	prefix     string
	closeDelay time.Duration

	afterFunc func(time.Duration, func())
}

func NewManager(store *storage.Store, platform Platform, logger *zap.Logger, prefix string, closeDelay time.Duration) *Manager {
	return &Manager{
		store:      store,
		platform:   platform,
		logger:     logger,
		prefix:     prefix,
		closeDelay: closeDelay,
		afterFunc:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Open creates a ticket channel visible to the creator and the support role
// and records the ticket. One open ticket per creator per guild.
func (m *Manager) Open(ctx context.Context, guildID, creatorID, creatorName, reason string) (storage.Ticket, error) {
	if _, exists, err := m.store.GetOpenTicketByCreator(ctx, guildID, creatorID); err != nil {
		return storage.Ticket{}, err
	} else if exists {
		return storage.Ticket{}, ErrAlreadyOpen
	}

	settings, err := m.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return storage.Ticket{}, err
	}

	name := m.prefix + channelSlug(creatorName)
	channelID, err := m.platform.CreateTicketChannel(guildID, settings.TicketCategory, name, creatorID, settings.SupportRoleID)
	if err != nil {
		return storage.Ticket{}, err
	}

	ticket := storage.Ticket{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		ChannelID: channelID,
		CreatorID: creatorID,
		Status:    storage.TicketStatusOpen,
		Reason:    reason,
		OpenedAt:  time.Now(),
	}
	if err := m.store.CreateTicket(ctx, ticket); err != nil {
		// Channel without a row is an orphan, remove it.
		if derr := m.platform.DeleteChannel(channelID); derr != nil {
			m.logger.Warn("orphan ticket channel cleanup failed", zap.Error(derr))
		}
		return storage.Ticket{}, err
	}

	greeting := fmt.Sprintf("🎫 <@%s>, tu ticket ha sido creado. Un miembro del equipo te atenderá pronto.", creatorID)
	if reason != "" {
		greeting += fmt.Sprintf("\nMotivo: %s", reason)
	}
	if err := m.platform.SendMessage(channelID, greeting); err != nil {
		m.logger.Warn("ticket greeting failed", zap.Error(err))
	}
	return ticket, nil
}

// Claim marks the ticket in the given channel as handled by the actor. Only
// support members may claim.
func (m *Manager) Claim(ctx context.Context, guildID, channelID string, actor Actor) (storage.Ticket, error) {
	ticket, ok, err := m.store.GetTicketByChannel(ctx, guildID, channelID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if !ok {
		return storage.Ticket{}, ErrNotTicketChannel
	}
	settings, err := m.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if !actor.isSupport(settings.SupportRoleID) {
		return storage.Ticket{}, ErrNotSupport
	}
	if ticket.Status != storage.TicketStatusOpen {
		return storage.Ticket{}, ErrAlreadyClosed
	}
	if ticket.ClaimedBy != "" {
		return ticket, ErrAlreadyClaimed
	}
	if err := m.store.ClaimTicket(ctx, ticket.ID, actor.ID); err != nil {
		return storage.Ticket{}, err
	}
	ticket.ClaimedBy = actor.ID
	return ticket, nil
}

// Close closes the ticket in the given channel and deletes the channel after
// a short delay, leaving time for the closing notice to be read. The creator,
// support members and channel managers may close; anyone else is refused.
func (m *Manager) Close(ctx context.Context, guildID, channelID string, actor Actor) (storage.Ticket, error) {
	ticket, ok, err := m.store.GetTicketByChannel(ctx, guildID, channelID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if !ok {
		return storage.Ticket{}, ErrNotTicketChannel
	}
	settings, err := m.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if actor.ID != ticket.CreatorID && !actor.ManageChannels && !actor.isSupport(settings.SupportRoleID) {
		return storage.Ticket{}, ErrNotAllowed
	}
	if ticket.Status != storage.TicketStatusOpen {
		return storage.Ticket{}, ErrAlreadyClosed
	}
	if err := m.store.CloseTicket(ctx, ticket.ID, time.Now()); err != nil {
		return storage.Ticket{}, err
	}

	m.afterFunc(m.closeDelay, func() {
		if err := m.platform.DeleteChannel(channelID); err != nil {
			m.logger.Warn("ticket channel deletion failed",
				zap.String("channel_id", channelID),
				zap.Error(err))
		}
	})

	ticket.Status = storage.TicketStatusClosed
	return ticket, nil
}

// Rate records a 1 to 5 rating on the creator's most recently closed ticket.
func (m *Manager) Rate(ctx context.Context, guildID, creatorID string, rating int) (storage.Ticket, error) {
	if rating < 1 || rating > 5 {
		return storage.Ticket{}, ErrBadRating
	}
	ticket, ok, err := m.store.GetLastClosedTicketByCreator(ctx, guildID, creatorID)
	if err != nil {
		return storage.Ticket{}, err
	}
	if !ok {
		return storage.Ticket{}, ErrNoClosedTicket
	}
	if err := m.store.RateTicket(ctx, ticket.ID, rating); err != nil {
		return storage.Ticket{}, err
	}
	ticket.Rating = rating
	return ticket, nil
}

func channelSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "usuario"
	}
	return b.String()
}
