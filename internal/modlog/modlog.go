// Package modlog records every moderation outcome: to the store, to the
// process log, and optionally to the guild's configured log channel through a
// notifier installed by the bot. Recording never fails outward; a sink that
// cannot deliver must not take the message pipeline down with it.
package modlog

import (
	"context"
	"time"

	"guardia/internal/storage"

	"go.uber.org/zap"
)

const (
	ActionWarn       = "warn"
	ActionMute       = "mute"
	ActionUnmute     = "unmute"
	ActionMuteFailed = "mute_failed"
)

type Event struct {
	GuildID     string
	UserID      string
	Action      string
	Title       string
	Description string
	Reason      string
	MessageLink string
	Color       int
}

type Sink struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, Event)
}

func NewSink(store *storage.Store, logger *zap.Logger) *Sink {
	return &Sink{store: store, logger: logger}
}

func (s *Sink) SetNotifier(notify func(context.Context, Event)) {
	s.notify = notify
}

func (s *Sink) Record(ctx context.Context, event Event) {
	if s.store != nil {
		err := s.store.AddModLog(ctx, storage.ModLog{
			GuildID:   event.GuildID,
			UserID:    event.UserID,
			Action:    event.Action,
			Reason:    event.Reason,
			CreatedAt: time.Now(),
		})
		if err != nil {
			s.logger.Warn("mod log persist failed", zap.Error(err))
		}
	}
	if s.notify != nil {
		s.notify(ctx, event)
	}
	s.logger.Info("moderation",
		zap.String("guild_id", event.GuildID),
		zap.String("user_id", event.UserID),
		zap.String("action", event.Action),
		zap.String("reason", event.Reason),
	)
}

// ActionLabel maps an action kind to the label shown in guild-facing logs.
func ActionLabel(action string) string {
	switch action {
	case ActionWarn:
		return "Advertencia"
	case ActionMute:
		return "Mute Automático"
	case ActionUnmute:
		return "Desmute Automático"
	case ActionMuteFailed:
		return "Mute Fallido"
	default:
		return action
	}
}
