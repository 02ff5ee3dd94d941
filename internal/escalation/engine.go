// Package escalation turns rule violations into warnings and timed mutes.
//
// A user accumulates durable warnings per guild; at the configured maximum
// the next violation mutes instead of warning, resets the counter and
// schedules an automatic unmute. The warning increment is persisted before
// any side effect so a crash mid-escalation never loses a strike.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardia/internal/config"
	"guardia/internal/modlog"
	"guardia/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ActionWarned     = "warned"
	ActionMuted      = "muted"
	ActionMuteFailed = "mute_failed"
	ActionAborted    = "aborted"
)

type Role struct {
	ID   string
	Name string
}

type Channel struct {
	ID    string
	Voice bool
}

// Guild is the slice of platform access the escalation engine needs. The bot
// backs it with a live session; tests back it with a fake.
type Guild interface {
	DeleteMessage(channelID, messageID string) error
	SendMessage(channelID, content string) error
	Roles(guildID string) ([]Role, error)
	CreateMutedRole(guildID, name string) (Role, error)
	Channels(guildID string) ([]Channel, error)
	DenyRoleOnChannel(channelID, roleID string, voice bool) error
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
	MemberHasRole(guildID, userID, roleID string) (bool, error)
}

// Message identifies the offending message and its author.
type Message struct {
	GuildID    string
	ChannelID  string
	MessageID  string
	AuthorID   string
	AuthorName string
}

type Outcome struct {
	Action   string
	Warnings int
}

type Engine struct {
	store  *storage.Store
	guild  Guild
	sink   *modlog.Sink
	logger *zap.Logger
	cfg    config.ModerationConfig
	colors config.EmbedColors
	clock  Clock

	mu     sync.Mutex
	timers map[string]Timer
}

func NewEngine(store *storage.Store, guild Guild, sink *modlog.Sink, logger *zap.Logger, cfg config.ModerationConfig, colors config.EmbedColors) *Engine {
	return &Engine{
		store:  store,
		guild:  guild,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		colors: colors,
		clock:  NewRealClock(),
		timers: make(map[string]Timer),
	}
}

// WithClock swaps the scheduler clock. Tests use this to drive timers.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

// HandleViolation runs the escalation ladder for one violation. The warning
// increment happens first; if it fails nothing else runs, so a storage outage
// never deletes messages or mutes without a recorded strike.
func (e *Engine) HandleViolation(ctx context.Context, msg Message, reason string) Outcome {
	count, err := e.store.IncrementWarnings(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		e.logger.Error("warning increment failed, skipping escalation",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.AuthorID),
			zap.Error(err))
		return Outcome{Action: ActionAborted}
	}

	if msg.MessageID != "" {
		if err := e.guild.DeleteMessage(msg.ChannelID, msg.MessageID); err != nil {
			e.logger.Warn("could not delete offending message",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
		}
	}

	if count < e.cfg.MaxWarnings {
		e.warn(ctx, msg, reason, count)
		return Outcome{Action: ActionWarned, Warnings: count}
	}
	return e.mute(ctx, msg, reason, count)
}

func (e *Engine) warn(ctx context.Context, msg Message, reason string, count int) {
	notice := fmt.Sprintf("⚠️ <@%s>, has sido advertido. Razón: %s (%d/%d advertencias antes de un mute).",
		msg.AuthorID, reason, count, e.cfg.MaxWarnings)
	if err := e.guild.SendMessage(msg.ChannelID, notice); err != nil {
		e.logger.Warn("warning notice failed", zap.Error(err))
	}

	e.sink.Record(ctx, modlog.Event{
		GuildID:     msg.GuildID,
		UserID:      msg.AuthorID,
		Action:      modlog.ActionWarn,
		Title:       modlog.ActionLabel(modlog.ActionWarn),
		Description: fmt.Sprintf("%s (%d/%d)", msg.AuthorName, count, e.cfg.MaxWarnings),
		Reason:      reason,
		MessageLink: messageLink(msg),
		Color:       e.colors.Warning,
	})
}

func (e *Engine) mute(ctx context.Context, msg Message, reason string, count int) Outcome {
	roleID, err := e.ensureMutedRole(ctx, msg.GuildID, msg.ChannelID)
	if err == nil {
		err = e.guild.AddRole(msg.GuildID, msg.AuthorID, roleID)
	}
	if err != nil {
		e.logger.Error("mute failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.AuthorID),
			zap.Error(err))
		e.sink.Record(ctx, modlog.Event{
			GuildID:     msg.GuildID,
			UserID:      msg.AuthorID,
			Action:      modlog.ActionMuteFailed,
			Title:       modlog.ActionLabel(modlog.ActionMuteFailed),
			Description: msg.AuthorName,
			Reason:      reason,
			MessageLink: messageLink(msg),
			Color:       e.colors.Error,
		})
		// Counter stays at the maximum so the next violation retries the mute.
		return Outcome{Action: ActionMuteFailed, Warnings: count}
	}

	if err := e.store.ResetWarnings(ctx, msg.GuildID, msg.AuthorID); err != nil {
		e.logger.Warn("warning reset failed", zap.Error(err))
	}

	minutes := e.cfg.MuteDurationSeconds / 60
	notice := fmt.Sprintf("🔇 <@%s> ha sido muteado por %d minutos tras alcanzar %d advertencias.",
		msg.AuthorID, minutes, e.cfg.MaxWarnings)
	duration := fmt.Sprintf("%d minutos", minutes)
	if e.cfg.MuteDurationSeconds <= 0 {
		notice = fmt.Sprintf("🔇 <@%s> ha sido muteado indefinidamente tras alcanzar %d advertencias.",
			msg.AuthorID, e.cfg.MaxWarnings)
		duration = "indefinido"
	}
	if err := e.guild.SendMessage(msg.ChannelID, notice); err != nil {
		e.logger.Warn("mute notice failed", zap.Error(err))
	}

	e.sink.Record(ctx, modlog.Event{
		GuildID:     msg.GuildID,
		UserID:      msg.AuthorID,
		Action:      modlog.ActionMute,
		Title:       modlog.ActionLabel(modlog.ActionMute),
		Description: fmt.Sprintf("%s, %s", msg.AuthorName, duration),
		Reason:      reason,
		MessageLink: messageLink(msg),
		Color:       e.colors.Mute,
	})

	// A zero duration means the mute is indefinite until a moderator lifts it.
	if e.cfg.MuteDurationSeconds > 0 {
		e.scheduleUnmute(msg.GuildID, msg.AuthorID, msg.AuthorName, roleID, msg.ChannelID)
	}
	return Outcome{Action: ActionMuted, Warnings: 0}
}

// ensureMutedRole resolves the guild's muted role, creating and wiring it on
// first use. The stored role ID wins; a role matching the configured name is
// adopted and recorded; otherwise a fresh role is created and denied send,
// react and speak on every channel.
func (e *Engine) ensureMutedRole(ctx context.Context, guildID, channelID string) (string, error) {
	settings, err := e.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return "", err
	}

	roles, err := e.guild.Roles(guildID)
	if err != nil {
		return "", err
	}
	if settings.MuteRoleID != "" {
		for _, role := range roles {
			if role.ID == settings.MuteRoleID {
				return role.ID, nil
			}
		}
	}
	for _, role := range roles {
		if role.Name == e.cfg.MuteRoleName {
			e.rememberMutedRole(ctx, settings, role.ID)
			return role.ID, nil
		}
	}

	role, err := e.guild.CreateMutedRole(guildID, e.cfg.MuteRoleName)
	if err != nil {
		return "", err
	}

	channels, err := e.guild.Channels(guildID)
	if err != nil {
		e.logger.Warn("channel listing failed, muted role has no overrides", zap.Error(err))
		channels = nil
	}
	var group errgroup.Group
	group.SetLimit(4)
	for _, channel := range channels {
		channel := channel
		group.Go(func() error {
			if err := e.guild.DenyRoleOnChannel(channel.ID, role.ID, channel.Voice); err != nil {
				e.logger.Warn("channel override failed",
					zap.String("channel_id", channel.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()

	e.rememberMutedRole(ctx, settings, role.ID)

	notice := fmt.Sprintf("🚨 ¡Se ha creado y configurado el rol '%s' en este servidor!", e.cfg.MuteRoleName)
	if err := e.guild.SendMessage(channelID, notice); err != nil {
		e.logger.Warn("role creation notice failed", zap.Error(err))
	}
	return role.ID, nil
}

func (e *Engine) rememberMutedRole(ctx context.Context, settings storage.GuildSettings, roleID string) {
	settings.MuteRoleID = roleID
	if err := e.store.UpsertGuildSettings(ctx, settings); err != nil {
		e.logger.Warn("mute role persist failed", zap.Error(err))
	}
}

func (e *Engine) scheduleUnmute(guildID, userID, userName, roleID, channelID string) {
	key := guildID + ":" + userID
	duration := time.Duration(e.cfg.MuteDurationSeconds) * time.Second

	e.mu.Lock()
	if existing, ok := e.timers[key]; ok {
		existing.Stop()
	}
	e.timers[key] = e.clock.AfterFunc(duration, func() {
		e.mu.Lock()
		delete(e.timers, key)
		e.mu.Unlock()
		e.unmute(guildID, userID, userName, roleID, channelID)
	})
	e.mu.Unlock()
}

// unmute removes the muted role once the timer fires. A member who left the
// guild or was already unmuted by a moderator is left alone.
func (e *Engine) unmute(guildID, userID, userName, roleID, channelID string) {
	ctx := context.Background()

	held, err := e.guild.MemberHasRole(guildID, userID, roleID)
	if err != nil {
		e.logger.Warn("unmute member lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	if !held {
		return
	}
	if err := e.guild.RemoveRole(guildID, userID, roleID); err != nil {
		e.logger.Warn("unmute role removal failed", zap.Error(err))
		return
	}

	notice := fmt.Sprintf("✅ <@%s> ha sido desmuteado automáticamente.", userID)
	if err := e.guild.SendMessage(channelID, notice); err != nil {
		e.logger.Warn("unmute notice failed", zap.Error(err))
	}

	e.sink.Record(ctx, modlog.Event{
		GuildID:     guildID,
		UserID:      userID,
		Action:      modlog.ActionUnmute,
		Title:       modlog.ActionLabel(modlog.ActionUnmute),
		Description: userName,
		Reason:      "Fin del mute temporal",
		Color:       e.colors.Unmute,
	})
}

// PendingUnmute reports whether an automatic unmute is scheduled.
func (e *Engine) PendingUnmute(guildID, userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.timers[guildID+":"+userID]
	return ok
}

// CancelUnmute drops a scheduled unmute, for moderators who unmute by hand.
func (e *Engine) CancelUnmute(guildID, userID string) bool {
	key := guildID + ":" + userID
	e.mu.Lock()
	defer e.mu.Unlock()
	timer, ok := e.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(e.timers, key)
	return true
}

func messageLink(msg Message) string {
	if msg.MessageID == "" {
		return ""
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, msg.MessageID)
}
