package discord

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned when a message to edit or delete is gone.
var ErrMessageNotFound = errors.New("discord: message not found")

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	SendChannelMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	EditChannelMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteChannelMessage(ctx context.Context, channelID, messageID string) error
	GetBotUserID() (string, error)
}
