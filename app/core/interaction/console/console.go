package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"goosuke/app/pkg/types"
)

// Channel reads trigger text from stdin and prints responses. It keeps
// no message history, so only single-message triggers fire on it.
type Channel struct {
	id     string
	userID string
}

func New(channelID, userID string) *Channel {
	if strings.TrimSpace(channelID) == "" {
		channelID = "console"
	}
	if strings.TrimSpace(userID) == "" {
		userID = "local_user"
	}
	return &Channel{id: channelID, userID: userID}
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Start(ctx context.Context, handler func(types.Event)) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println(">> goosuke console started. Type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "exit" || text == "quit" {
				fmt.Println("Leaving console loop...")
				return nil
			}

			messageID := fmt.Sprintf("console-%d", time.Now().UnixNano())
			handler(types.Event{
				ChannelID: c.id,
				Kind:      types.EventMessage,
				Value:     text,
				UserID:    c.userID,
				UserName:  c.userID,
				Ref: types.MessageRef{
					ChannelID: c.id,
					MessageID: messageID,
				},
				RequestID: messageID,
			})
		}
	}
}

func (c *Channel) Send(ctx context.Context, resp types.Response) error {
	switch resp.Format {
	case types.RespondDM:
		fmt.Printf("[goosuke → %s]: %s\n", resp.UserID, resp.Content)
	case types.RespondReply:
		fmt.Printf("[goosuke ↩ %s]: %s\n", resp.Ref.MessageID, resp.Content)
	default:
		fmt.Printf("[goosuke]: %s\n", resp.Content)
	}
	return nil
}
