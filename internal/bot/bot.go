package bot

import (
	"context"
	"time"

	"guardia/internal/config"
	"guardia/internal/escalation"
	"guardia/internal/metrics"
	"guardia/internal/modlog"
	"guardia/internal/rules"
	"guardia/internal/spamtrack"
	"guardia/internal/storage"
	"guardia/internal/tickets"
	"guardia/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	sink     *modlog.Sink
	metrics  *metrics.Metrics
	session  *discordgo.Session
	guild    *sessionGuild
	rules    *rules.Engine
	escalate *escalation.Engine
	tickets  *tickets.Manager
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, sink *modlog.Sink, mets *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		sink:    sink,
		metrics: mets,
		session: session,
		guild:   &sessionGuild{session: session},
	}

	tracker := spamtrack.New(
		time.Duration(cfg.Moderation.SpamWindowSeconds)*time.Second,
		cfg.Moderation.SpamCountThreshold,
		cfg.Moderation.RepetitionThreshold,
	)
	b.rules = rules.NewEngine(tracker, cfg.Moderation.SpamWindowSeconds, cfg.Moderation.RepetitionThreshold)
	b.escalate = escalation.NewEngine(store, b.guild, sink, logger, cfg.Moderation, cfg.EmbedColors)
	b.tickets = tickets.NewManager(store, b.guild, logger, cfg.Tickets.ChannelPrefix,
		time.Duration(cfg.Tickets.CloseDelaySeconds)*time.Second)

	sink.SetNotifier(b.notifyModLog)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

// onMessageCreate runs every guild message through the moderation rules. A
// broken settings read degrades to the built-in spam rules instead of
// blocking the guild.
func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	b.metrics.MessagesScanned.Inc()

	var violation *rules.Violation
	settings, err := b.store.GetModerationSettings(ctx, msg.GuildID)
	if err != nil {
		b.logger.Warn("moderation settings fallback", zap.String("guild_id", msg.GuildID), zap.Error(err))
		violation = b.rules.EvaluateDegraded(msg.GuildID, msg.Author.ID, msg.Content)
	} else {
		violation = b.rules.Evaluate(msg.GuildID, msg.Author.ID, msg.Content,
			settings.ProhibitedWords, settings.AllowedLinkPrefixes)
	}
	if violation == nil {
		return
	}
	b.metrics.Violations.WithLabelValues(violation.Rule).Inc()

	b.escalate.HandleViolation(ctx, escalation.Message{
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.ID,
		AuthorID:   msg.Author.ID,
		AuthorName: msg.Author.Username,
	}, violation.Reason)
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	ctx := context.Background()
	settings, err := b.store.GetGuildSettings(ctx, event.GuildID)
	if err != nil || settings.WelcomeChannel == "" {
		return
	}

	memberCount := 0
	guildName := ""
	if guild, err := session.State.Guild(event.GuildID); err == nil && guild != nil {
		memberCount = guild.MemberCount
		guildName = guild.Name
	}
	if guildName == "" {
		if guild, err := session.Guild(event.GuildID); err == nil && guild != nil {
			guildName = guild.Name
		}
	}
	embed := welcome.Embed(guildName, event.User.ID, event.User.AvatarURL("128"), memberCount, b.cfg.EmbedColors.Info)
	if _, err := session.ChannelMessageSendEmbed(settings.WelcomeChannel, embed); err != nil {
		b.logger.Warn("welcome message failed", zap.Error(err))
	}
}

// notifyModLog forwards a recorded moderation event to the guild's log
// channel and keeps the pipeline counters current.
func (b *Bot) notifyModLog(ctx context.Context, event modlog.Event) {
	switch event.Action {
	case modlog.ActionMute:
		b.metrics.Mutes.Inc()
	case modlog.ActionUnmute:
		b.metrics.Unmutes.Inc()
	case modlog.ActionMuteFailed:
		b.metrics.MuteFailures.Inc()
	}

	settings, err := b.store.GetGuildSettings(ctx, event.GuildID)
	if err != nil {
		b.logger.Warn("mod log settings lookup failed", zap.Error(err))
		return
	}
	channelID := settings.LogChannel
	if channelID == "" {
		channelID = b.cfg.DefaultLogChannel
	}
	if channelID == "" {
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Usuario", Value: "<@" + event.UserID + ">", Inline: true},
		{Name: "Acción", Value: event.Title, Inline: true},
	}
	if event.Reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Razón", Value: event.Reason, Inline: false})
	}
	if event.MessageLink != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Mensaje", Value: event.MessageLink, Inline: false})
	}

	embed := &discordgo.MessageEmbed{
		Title:       event.Title,
		Description: event.Description,
		Color:       event.Color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Warn("mod log channel send failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	settings, err := b.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.Error(err))
		return storage.GuildSettings{GuildID: guildID}
	}
	return settings
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "Sin respuesta disponible.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
