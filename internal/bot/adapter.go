package bot

import (
	"github.com/bwmarrin/discordgo"

	"guardia/internal/escalation"
)

// sessionGuild adapts the live discordgo session to the narrow platform
// interfaces the escalation engine and the ticket manager consume.
type sessionGuild struct {
	session *discordgo.Session
}

func (g *sessionGuild) DeleteMessage(channelID, messageID string) error {
	return g.session.ChannelMessageDelete(channelID, messageID)
}

func (g *sessionGuild) SendMessage(channelID, content string) error {
	_, err := g.session.ChannelMessageSend(channelID, content)
	return err
}

func (g *sessionGuild) Roles(guildID string) ([]escalation.Role, error) {
	roles, err := g.session.GuildRoles(guildID)
	if err != nil {
		return nil, err
	}
	result := make([]escalation.Role, 0, len(roles))
	for _, role := range roles {
		if role == nil {
			continue
		}
		result = append(result, escalation.Role{ID: role.ID, Name: role.Name})
	}
	return result, nil
}

func (g *sessionGuild) CreateMutedRole(guildID, name string) (escalation.Role, error) {
	perms := int64(0)
	role, err := g.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
	})
	if err != nil {
		return escalation.Role{}, err
	}
	return escalation.Role{ID: role.ID, Name: role.Name}, nil
}

func (g *sessionGuild) Channels(guildID string) ([]escalation.Channel, error) {
	channels, err := g.session.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	result := make([]escalation.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		switch channel.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
			result = append(result, escalation.Channel{ID: channel.ID})
		case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
			result = append(result, escalation.Channel{ID: channel.ID, Voice: true})
		}
	}
	return result, nil
}

func (g *sessionGuild) DenyRoleOnChannel(channelID, roleID string, voice bool) error {
	deny := int64(discordgo.PermissionSendMessages | discordgo.PermissionAddReactions)
	if voice {
		deny = int64(discordgo.PermissionVoiceSpeak)
	}
	return g.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, 0, deny)
}

func (g *sessionGuild) AddRole(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (g *sessionGuild) RemoveRole(guildID, userID, roleID string) error {
	return g.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

// MemberHasRole re-fetches the member so a role removed by hand in the
// meantime is seen. A member who left reports no roles without error.
func (g *sessionGuild) MemberHasRole(guildID, userID, roleID string) (bool, error) {
	member, err := g.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, _ = g.session.GuildMember(guildID, userID)
	}
	if member == nil {
		return false, nil
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (g *sessionGuild) CreateTicketChannel(guildID, categoryID, name string, memberID, supportRoleID string) (string, error) {
	view := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: int64(discordgo.PermissionViewChannel)},
		{ID: memberID, Type: discordgo.PermissionOverwriteTypeMember, Allow: view},
	}
	if supportRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: supportRoleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: view,
		})
	}

	channel, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             categoryID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

func (g *sessionGuild) DeleteChannel(channelID string) error {
	_, err := g.session.ChannelDelete(channelID)
	return err
}
