// Package discord publishes reports to Discord text channels over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/arkstatus/internal/config"
	"github.com/woozymasta/arkstatus/internal/report"
	"github.com/woozymasta/arkstatus/internal/vars"
	"golang.org/x/time/rate"
)

// Channel implements report.Channel on top of a discordgo session.
// Only REST calls are used, no gateway connection is opened.
type Channel struct {
	session *discordgo.Session
	limiter *rate.Limiter
	selfID  string
}

// New creates a channel client authenticated with a bot token.
func New(token string, opts config.Discord) (*Channel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: 20 * time.Second}
	session.UserAgent = fmt.Sprintf("DiscordBot (%s, %s)", vars.URL, vars.Version)

	limit := rate.Inf
	if opts.RateInterval > 0 {
		limit = rate.Every(opts.RateInterval)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Channel{
		session: session,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Identify resolves the bot user, its id is used to recognise own messages.
func (c *Channel) Identify(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	user, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("identify bot user: %w", mapError(err))
	}
	c.selfID = user.ID

	log.Info().Str("user", user.Username).Str("id", user.ID).Msg("Discord bot identified")

	return nil
}

// SelfID returns the bot user id, empty until Identify succeeded.
func (c *Channel) SelfID() string {
	return c.selfID
}

// Send posts a report embed.
func (c *Channel) Send(ctx context.Context, channelID string, payload report.Payload) (report.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return report.Message{}, err
	}

	msg, err := c.session.ChannelMessageSendEmbed(channelID, toEmbed(payload), discordgo.WithContext(ctx))
	if err != nil {
		return report.Message{}, mapError(err)
	}

	return fromMessage(msg), nil
}

// Delete removes a message.
func (c *Channel) Delete(ctx context.Context, channelID, messageID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return mapError(c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// Pin pins a message in its channel.
func (c *Channel) Pin(ctx context.Context, channelID, messageID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return mapError(c.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

// Fetch reads one message.
func (c *Channel) Fetch(ctx context.Context, channelID, messageID string) (report.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return report.Message{}, err
	}

	msg, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return report.Message{}, mapError(err)
	}

	return fromMessage(msg), nil
}

// History returns up to limit most recent messages of a channel.
func (c *Channel) History(ctx context.Context, channelID string, limit int) ([]report.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msgs, err := c.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]report.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, fromMessage(m))
	}

	return out, nil
}

// Close releases the session.
func (c *Channel) Close() error {
	return c.session.Close()
}

func toEmbed(p report.Payload) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Description,
		Color:       p.Color,
	}
	if p.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: p.Footer}
	}
	if !p.Timestamp.IsZero() {
		embed.Timestamp = p.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range p.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}

	return embed
}

func fromMessage(m *discordgo.Message) report.Message {
	if m == nil {
		return report.Message{}
	}

	out := report.Message{ID: m.ID, ChannelID: m.ChannelID, Pinned: m.Pinned}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	if len(m.Embeds) > 0 && m.Embeds[0] != nil {
		out.Title = m.Embeds[0].Title
	}

	return out
}

// mapError translates REST status codes into the publisher's error vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", report.ErrMessageNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", report.ErrForbidden, err)
		}
	}

	return err
}
