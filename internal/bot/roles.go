package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// roleChange gathers everything needed to decide whether an addrole or
// removerole invocation is allowed before touching the Discord API.
type roleChange struct {
	Role       *discordgo.Role
	GuildRoles []*discordgo.Role
	OwnerID    string

	BotRoles     []string
	InvokerID    string
	InvokerRoles []string
	TargetID     string
	TargetRoles  []string

	Adding bool
}

// denial returns the refusal message for an invalid change, or an empty
// string when the change may proceed. The bot must sit above the role in the
// hierarchy, the invoker too unless they own the guild, and the target must
// not already be in the requested state.
func (c roleChange) denial() string {
	if c.Role.Position >= topRolePosition(c.GuildRoles, c.BotRoles) {
		return fmt.Sprintf("No puedo gestionar el rol '%s' porque está por encima o al mismo nivel que mi rol más alto. Mueve mi rol por encima en la jerarquía del servidor.", c.Role.Name)
	}
	if c.InvokerID != c.OwnerID && topRolePosition(c.GuildRoles, c.InvokerRoles) <= c.Role.Position {
		return fmt.Sprintf("No puedes gestionar el rol '%s' porque está por encima o al mismo nivel que tu rol más alto.", c.Role.Name)
	}
	has := containsRoleID(c.TargetRoles, c.Role.ID)
	if c.Adding && has {
		return fmt.Sprintf("<@%s> ya tiene el rol '%s'.", c.TargetID, c.Role.Name)
	}
	if !c.Adding && !has {
		return fmt.Sprintf("<@%s> no tiene el rol '%s'.", c.TargetID, c.Role.Name)
	}
	return ""
}

// topRolePosition returns the highest hierarchy position among the member's
// roles. A member with no roles sits at the @everyone position, zero.
func topRolePosition(guildRoles []*discordgo.Role, memberRoles []string) int {
	top := 0
	for _, role := range guildRoles {
		if !containsRoleID(memberRoles, role.ID) {
			continue
		}
		if role.Position > top {
			top = role.Position
		}
	}
	return top
}

// memberRoleIDs reads a member's roles from the state cache, falling back to
// the API when the member is not cached.
func (b *Bot) memberRoleIDs(session *discordgo.Session, guildID, userID string) ([]string, error) {
	if member, err := session.State.Member(guildID, userID); err == nil && member != nil {
		return member.Roles, nil
	}
	member, err := session.GuildMember(guildID, userID)
	if err != nil {
		return nil, err
	}
	return member.Roles, nil
}

func (b *Bot) guildOwnerID(session *discordgo.Session, guildID string) string {
	if guild, err := session.State.Guild(guildID); err == nil && guild != nil {
		return guild.OwnerID
	}
	if guild, err := session.Guild(guildID); err == nil && guild != nil {
		return guild.OwnerID
	}
	return ""
}

func containsRoleID(roleIDs []string, roleID string) bool {
	for _, id := range roleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
