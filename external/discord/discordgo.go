package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/racenotif/internal/discord"
)

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string
}

func NewClient(token string) discordpkg.Client {
	return &Client{
		token: token,
	}
}

// Connect opens the gateway session. It gives up when ctx is done, closing
// the session if the handshake completes afterwards.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds)

	opened := make(chan error, 1)
	go func() {
		opened <- s.Open()
	}()
	select {
	case err := <-opened:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = s.Close()
			}
		}()
		return fmt.Errorf("discord connect: %w", ctx.Err())
	}

	c.session = s
	if c.session.State != nil && c.session.State.User != nil {
		c.botUserID = c.session.State.User.ID
	}
	if c.botUserID == "" {
		u, err := c.session.User("@me", discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		c.botUserID = u.ID
	}
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) (string, error) {
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	msg, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if msg == nil || msg.ID == "" {
		return "", fmt.Errorf("discord returned no message id for channel %s", channelID)
	}
	return msg.ID, nil
}

func (c *Client) EditChannelMessage(ctx context.Context, channelID, messageID, content string) error {
	if c.session == nil {
		return fmt.Errorf("discord session is not initialized")
	}
	_, err := c.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTNotFound(err) {
			return discordpkg.ErrMessageNotFound
		}
		return err
	}
	return nil
}

func (c *Client) DeleteChannelMessage(ctx context.Context, channelID, messageID string) error {
	if c.session == nil {
		return fmt.Errorf("discord session is not initialized")
	}
	err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTNotFound(err) {
			slog.Debug("discord message already deleted", "channel_id", channelID, "message_id", messageID)
			return discordpkg.ErrMessageNotFound
		}
		return err
	}
	return nil
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func (c *Client) GetBotUserID() (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		c.botUserID = c.session.State.User.ID
		return c.botUserID, nil
	}
	u, err := c.session.User("@me")
	if err != nil {
		return "", err
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}
