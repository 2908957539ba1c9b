package discordbot

import (
	"errors"
	"fmt"

	dis "github.com/bwmarrin/discordgo"
)

var (
	ErrMissingGuildID = errors.New("missing guild id")
	ErrMissingUserID  = errors.New("missing user id")
)

const membersPageSize = 1000

// GuildReader is the REST surface for guild lookups.
type GuildReader interface {
	GuildChannels(guildID string, options ...dis.RequestOption) ([]*dis.Channel, error)
	GuildMembers(
		guildID string,
		after string,
		limit int,
		options ...dis.RequestOption,
	) ([]*dis.Member, error)
	GuildMember(guildID, userID string, options ...dis.RequestOption) (*dis.Member, error)
}

func GuildChannels(conn GuildReader, guildID string) ([]*dis.Channel, error) {
	if guildID == "" {
		return nil, ErrMissingGuildID
	}

	channels, err := conn.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("list channels of %s: %w", guildID, err)
	}
	return channels, nil
}

// GuildMembers pages through the whole member list.
func GuildMembers(conn GuildReader, guildID string) ([]*dis.Member, error) {
	if guildID == "" {
		return nil, ErrMissingGuildID
	}

	var (
		all   []*dis.Member
		after string
	)
	for {
		page, err := conn.GuildMembers(guildID, after, membersPageSize)
		if err != nil {
			return nil, fmt.Errorf("list members of %s: %w", guildID, err)
		}
		all = append(all, page...)

		if len(page) < membersPageSize {
			return all, nil
		}
		last := page[len(page)-1]
		if last.User == nil {
			return all, nil
		}
		after = last.User.ID
	}
}

func GuildMember(conn GuildReader, guildID, userID string) (*dis.Member, error) {
	if guildID == "" {
		return nil, ErrMissingGuildID
	}
	if userID == "" {
		return nil, ErrMissingUserID
	}

	member, err := conn.GuildMember(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", userID, err)
	}
	return member, nil
}
