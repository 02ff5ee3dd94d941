package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guardia/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Error", "Este comando solo funciona en un servidor.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	switch data.Name {
	case "setmodlogs", "setwelcome", "setticketcategory", "setticketlogs", "setsupportrole":
		b.handleSettingsCommand(ctx, session, interaction, data.Name, data.Options)
	case "addword", "removeword", "listwords":
		b.handleWordCommand(ctx, session, interaction, data.Name, data.Options)
	case "addlink", "removelink", "listlinks":
		b.handleLinkCommand(ctx, session, interaction, data.Name, data.Options)
	case "warnings":
		b.handleWarningsCommand(ctx, session, interaction, data.Options)
	case "addrole", "removerole":
		b.handleRoleCommand(session, interaction, data.Name, data.Options)
	case "ticket":
		b.handleTicketCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleSettingsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Falta el valor a configurar.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	settings := b.guildSettings(ctx, interaction.GuildID)
	var confirmation string
	switch name {
	case "setmodlogs":
		channel := options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Canal no válido.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings.LogChannel = channel.ID
		confirmation = fmt.Sprintf("Canal de logs de moderación: <#%s>", channel.ID)
	case "setwelcome":
		channel := options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Canal no válido.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings.WelcomeChannel = channel.ID
		confirmation = fmt.Sprintf("Canal de bienvenida: <#%s>", channel.ID)
	case "setticketcategory":
		channel := options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Categoría no válida.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings.TicketCategory = channel.ID
		confirmation = fmt.Sprintf("Categoría de tickets: <#%s>", channel.ID)
	case "setticketlogs":
		channel := options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Canal no válido.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings.TicketLogChannel = channel.ID
		confirmation = fmt.Sprintf("Canal de logs de tickets: <#%s>", channel.ID)
	case "setsupportrole":
		role := options[0].RoleValue(session, interaction.GuildID)
		if role == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "Rol no válido.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings.SupportRoleID = role.ID
		confirmation = fmt.Sprintf("Rol de soporte: <@&%s>", role.ID)
	}

	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Warn("settings update failed", zap.String("command", name), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Configuración", "No se pudo guardar la configuración.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Configuración", confirmation, b.cfg.EmbedColors.Info, nil), true)
}

func (b *Bot) handleWordCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID

	switch name {
	case "addword":
		word := strings.TrimSpace(options[0].StringValue())
		if word == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", "La palabra no puede estar vacía.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		added, err := b.store.AddProhibitedWord(ctx, guildID, word)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", "No se pudo guardar la palabra.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if !added {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", fmt.Sprintf("'%s' ya estaba en la lista.", strings.ToLower(word)), b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", fmt.Sprintf("Palabra '%s' añadida.", strings.ToLower(word)), b.cfg.EmbedColors.Info, nil), true)
	case "removeword":
		word := strings.TrimSpace(options[0].StringValue())
		removed, err := b.store.RemoveProhibitedWord(ctx, guildID, word)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", "No se pudo quitar la palabra.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if !removed {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", fmt.Sprintf("'%s' no estaba en la lista.", strings.ToLower(word)), b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", fmt.Sprintf("Palabra '%s' eliminada.", strings.ToLower(word)), b.cfg.EmbedColors.Info, nil), true)
	case "listwords":
		words, err := b.store.ListProhibitedWords(ctx, guildID)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", "No se pudo leer la lista.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if len(words) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", "No hay palabras prohibidas configuradas.", b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Palabras", Value: strings.Join(words, "\n"), Inline: false}}
		b.respondEmbed(session, interaction, b.commandEmbed("Palabras prohibidas", fmt.Sprintf("%d palabras en la lista.", len(words)), b.cfg.EmbedColors.Info, fields), true)
	}
}

func (b *Bot) handleLinkCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID

	switch name {
	case "addlink":
		prefix := strings.TrimSpace(options[0].StringValue())
		if prefix == "" {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", "El prefijo no puede estar vacío.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		added, err := b.store.AddAllowedLink(ctx, guildID, prefix)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", "No se pudo guardar el prefijo.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if !added {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", fmt.Sprintf("'%s' ya estaba en la lista.", strings.ToLower(prefix)), b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", fmt.Sprintf("Prefijo '%s' añadido.", strings.ToLower(prefix)), b.cfg.EmbedColors.Info, nil), true)
	case "removelink":
		prefix := strings.TrimSpace(options[0].StringValue())
		removed, err := b.store.RemoveAllowedLink(ctx, guildID, prefix)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", "No se pudo quitar el prefijo.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if !removed {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", fmt.Sprintf("'%s' no estaba en la lista.", strings.ToLower(prefix)), b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", fmt.Sprintf("Prefijo '%s' eliminado.", strings.ToLower(prefix)), b.cfg.EmbedColors.Info, nil), true)
	case "listlinks":
		prefixes, err := b.store.ListAllowedLinks(ctx, guildID)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", "No se pudo leer la lista.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if len(prefixes) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", "No hay prefijos permitidos configurados. Todos los enlaces serán eliminados.", b.cfg.EmbedColors.Warning, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Prefijos", Value: strings.Join(prefixes, "\n"), Inline: false}}
		b.respondEmbed(session, interaction, b.commandEmbed("Enlaces permitidos", fmt.Sprintf("%d prefijos en la lista.", len(prefixes)), b.cfg.EmbedColors.Info, fields), true)
	}
}

func (b *Bot) handleWarningsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	userID := ""
	if len(options) > 0 && options[0].Type == discordgo.ApplicationCommandOptionUser {
		if user := options[0].UserValue(session); user != nil {
			userID = user.ID
		}
	}
	if userID == "" && interaction.Member != nil && interaction.Member.User != nil {
		userID = interaction.Member.User.ID
	}
	if userID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencias", "No se pudo determinar el usuario.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	warnings, err := b.store.GetWarnings(ctx, interaction.GuildID, userID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Advertencias", "No se pudo leer el registro.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Usuario", Value: "<@" + userID + ">", Inline: true},
		{Name: "Advertencias", Value: fmt.Sprintf("%d/%d", warnings.Count, b.cfg.Moderation.MaxWarnings), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Advertencias", "Advertencias acumuladas antes de un mute.", b.cfg.EmbedColors.Info, fields), true)
}

func (b *Bot) handleRoleCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) < 2 {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "Faltan el usuario o el rol.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	user := options[0].UserValue(session)
	role := options[1].RoleValue(session, interaction.GuildID)
	if user == nil || role == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "Usuario o rol no válidos.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	guildRoles, err := session.GuildRoles(interaction.GuildID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "No se pudieron leer los roles del servidor.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	ownerID := b.guildOwnerID(session, interaction.GuildID)
	botRoles, err := b.memberRoleIDs(session, interaction.GuildID, session.State.User.ID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "No se pudo determinar mi rol más alto.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	targetRoles, err := b.memberRoleIDs(session, interaction.GuildID, user.ID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "No se pudo leer al miembro.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	invokerID := ""
	var invokerRoles []string
	if interaction.Member != nil {
		invokerRoles = interaction.Member.Roles
		if interaction.Member.User != nil {
			invokerID = interaction.Member.User.ID
		}
	}

	change := roleChange{
		Role:         role,
		GuildRoles:   guildRoles,
		OwnerID:      ownerID,
		BotRoles:     botRoles,
		InvokerID:    invokerID,
		InvokerRoles: invokerRoles,
		TargetID:     user.ID,
		TargetRoles:  targetRoles,
		Adding:       name == "addrole",
	}
	if denial := change.denial(); denial != "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", denial, b.cfg.EmbedColors.Warning, nil), true)
		return
	}

	var confirmation string
	if change.Adding {
		err = session.GuildMemberRoleAdd(interaction.GuildID, user.ID, role.ID)
		confirmation = fmt.Sprintf("Rol <@&%s> asignado a <@%s>.", role.ID, user.ID)
	} else {
		err = session.GuildMemberRoleRemove(interaction.GuildID, user.ID, role.ID)
		confirmation = fmt.Sprintf("Rol <@&%s> quitado a <@%s>.", role.ID, user.ID)
	}
	if err != nil {
		b.logger.Warn("role command failed", zap.String("command", name), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Roles", "No tengo permisos para modificar ese rol.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Roles", confirmation, b.cfg.EmbedColors.Info, nil), true)
}

func (b *Bot) handleTicketCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", "Falta el subcomando.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	if interaction.Member == nil || interaction.Member.User == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", "No se pudo determinar el usuario.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	sub := options[0]
	userID := interaction.Member.User.ID
	userName := interaction.Member.User.Username
	actor := tickets.Actor{
		ID:             userID,
		Roles:          interaction.Member.Roles,
		ManageChannels: interaction.Member.Permissions&(discordgo.PermissionManageChannels|discordgo.PermissionAdministrator) != 0,
	}

	switch sub.Name {
	case "open":
		reason := ""
		if len(sub.Options) > 0 {
			reason = sub.Options[0].StringValue()
		}
		ticket, err := b.tickets.Open(ctx, interaction.GuildID, userID, userName, reason)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", ticketErrorMessage(err), b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.metrics.TicketsOpened.Inc()
		b.logTicket(ctx, interaction.GuildID, fmt.Sprintf("🎫 Ticket abierto por <@%s> en <#%s>.", userID, ticket.ChannelID))
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", fmt.Sprintf("Tu ticket ha sido creado: <#%s>", ticket.ChannelID), b.cfg.EmbedColors.Info, nil), true)
	case "claim":
		ticket, err := b.tickets.Claim(ctx, interaction.GuildID, interaction.ChannelID, actor)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", ticketErrorMessage(err), b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.logTicket(ctx, interaction.GuildID, fmt.Sprintf("🛃 Ticket de <@%s> reclamado por <@%s>.", ticket.CreatorID, userID))
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", fmt.Sprintf("Ticket reclamado por <@%s>.", userID), b.cfg.EmbedColors.Info, nil), false)
	case "close":
		ticket, err := b.tickets.Close(ctx, interaction.GuildID, interaction.ChannelID, actor)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", ticketErrorMessage(err), b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.metrics.TicketsClosed.Inc()
		b.logTicket(ctx, interaction.GuildID, fmt.Sprintf("🔒 Ticket de <@%s> cerrado por <@%s>.", ticket.CreatorID, userID))
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", "Ticket cerrado. El canal se eliminará en unos segundos.", b.cfg.EmbedColors.Info, nil), false)
	case "rate":
		if len(sub.Options) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", "Falta la puntuación.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		rating := int(sub.Options[0].IntValue())
		ticket, err := b.tickets.Rate(ctx, interaction.GuildID, userID, rating)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", ticketErrorMessage(err), b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.logTicket(ctx, interaction.GuildID, fmt.Sprintf("⭐ <@%s> valoró su ticket con %d/5.", ticket.CreatorID, rating))
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", fmt.Sprintf("¡Gracias por tu valoración de %d/5!", rating), b.cfg.EmbedColors.Info, nil), true)
	}
}

// logTicket posts to the ticket log channel when one is configured.
func (b *Bot) logTicket(ctx context.Context, guildID, message string) {
	settings := b.guildSettings(ctx, guildID)
	if settings.TicketLogChannel == "" {
		return
	}
	if _, err := b.session.ChannelMessageSend(settings.TicketLogChannel, message); err != nil {
		b.logger.Warn("ticket log send failed", zap.Error(err))
	}
}

func ticketErrorMessage(err error) string {
	switch {
	case errors.Is(err, tickets.ErrAlreadyOpen):
		return "Ya tienes un ticket abierto."
	case errors.Is(err, tickets.ErrNotTicketChannel):
		return "Este canal no es un ticket."
	case errors.Is(err, tickets.ErrAlreadyClaimed):
		return "Este ticket ya está reclamado."
	case errors.Is(err, tickets.ErrAlreadyClosed):
		return "Este ticket ya está cerrado."
	case errors.Is(err, tickets.ErrNoClosedTicket):
		return "No tienes ningún ticket cerrado que valorar."
	case errors.Is(err, tickets.ErrBadRating):
		return "La puntuación debe estar entre 1 y 5."
	case errors.Is(err, tickets.ErrNotSupport):
		return "Solo el equipo de soporte puede reclamar tickets."
	case errors.Is(err, tickets.ErrNotAllowed):
		return "Solo el creador del ticket, un miembro de soporte o un administrador pueden cerrar este ticket."
	default:
		return "No se pudo completar la operación."
	}
}
