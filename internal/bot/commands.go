package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	admin := int64(discordgo.PermissionAdministrator)
	manageRoles := int64(discordgo.PermissionManageRoles)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "setmodlogs",
			Description:              "Definir el canal de logs de moderación",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "canal",
					Description:  "Canal donde se publicarán los logs",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     true,
				},
			},
		},
		{
			Name:                     "addword",
			Description:              "Añadir una palabra prohibida",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "palabra",
					Description: "Palabra a prohibir",
					Required:    true,
				},
			},
		},
		{
			Name:                     "removeword",
			Description:              "Quitar una palabra prohibida",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "palabra",
					Description: "Palabra a quitar",
					Required:    true,
				},
			},
		},
		{
			Name:                     "listwords",
			Description:              "Listar las palabras prohibidas",
			DefaultMemberPermissions: &admin,
		},
		{
			Name:                     "addlink",
			Description:              "Permitir un prefijo de enlace",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prefijo",
					Description: "Prefijo de URL permitido",
					Required:    true,
				},
			},
		},
		{
			Name:                     "removelink",
			Description:              "Quitar un prefijo de enlace permitido",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prefijo",
					Description: "Prefijo de URL a quitar",
					Required:    true,
				},
			},
		},
		{
			Name:                     "listlinks",
			Description:              "Listar los prefijos de enlace permitidos",
			DefaultMemberPermissions: &admin,
		},
		{
			Name:        "warnings",
			Description: "Consultar las advertencias de un usuario",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario a consultar",
					Required:    false,
				},
			},
		},
		{
			Name:                     "addrole",
			Description:              "Asignar un rol a un usuario",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario que recibirá el rol",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "rol",
					Description: "Rol a asignar",
					Required:    true,
				},
			},
		},
		{
			Name:                     "removerole",
			Description:              "Quitar un rol a un usuario",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "usuario",
					Description: "Usuario al que se quitará el rol",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "rol",
					Description: "Rol a quitar",
					Required:    true,
				},
			},
		},
		{
			Name:        "ticket",
			Description: "Gestionar tickets de soporte",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "open",
					Description: "Abrir un ticket de soporte",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "motivo",
							Description: "Motivo del ticket",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "claim",
					Description: "Reclamar el ticket de este canal",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "close",
					Description: "Cerrar el ticket de este canal",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "rate",
					Description: "Valorar tu último ticket cerrado",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "puntuacion",
							Description: "Puntuación de 1 a 5",
							Required:    true,
						},
					},
				},
			},
		},
		{
			Name:                     "setwelcome",
			Description:              "Definir el canal de bienvenida",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "canal",
					Description:  "Canal de bienvenida",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     true,
				},
			},
		},
		{
			Name:                     "setticketcategory",
			Description:              "Definir la categoría de los tickets",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "categoria",
					Description:  "Categoría donde se crearán los tickets",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
					Required:     true,
				},
			},
		},
		{
			Name:                     "setticketlogs",
			Description:              "Definir el canal de logs de tickets",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "canal",
					Description:  "Canal donde se registrarán los tickets",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     true,
				},
			},
		},
		{
			Name:                     "setsupportrole",
			Description:              "Definir el rol de soporte",
			DefaultMemberPermissions: &admin,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "rol",
					Description: "Rol que atiende los tickets",
					Required:    true,
				},
			},
		},
	}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		return err
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	return nil
}
