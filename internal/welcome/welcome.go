// Package welcome greets members joining a guild with a configured welcome
// channel.
package welcome

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Embed builds the greeting posted when a member joins. The guild name goes
// in the title and the member is mentioned so the greeting pings them.
func Embed(guildName, userID, avatarURL string, memberCount, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🎉 ¡Bienvenido a %s!", guildName),
		Description: fmt.Sprintf("¡Hola <@%s>! Nos alegra tenerte aquí. Eres el miembro número %d.", userID, memberCount),
		Color:       color,
		Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: avatarURL},
	}
}
