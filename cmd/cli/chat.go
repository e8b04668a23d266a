package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/duochat/internal/client"
	"github.com/and161185/duochat/internal/convert"
	"github.com/and161185/duochat/internal/model"
	"github.com/and161185/duochat/internal/protocol"
)

// typingTick is how often the chat loop feeds Tick to the store.
const typingTick = time.Second

func formatLine(at time.Time, who, text string) string {
	return fmt.Sprintf("[%s] %s: %s", at.Local().Format("15:04"), who, text)
}

// chatConn is the live side of a chat, satisfied by *client.Realtime.
type chatConn interface {
	Events() <-chan client.Event
	Send(ctx context.Context, localID string, recipient uuid.UUID, content string) error
	Typing(ctx context.Context, recipient uuid.UUID, isTyping bool) error
	Err() error
}

// readMarker is satisfied by *client.API.
type readMarker interface {
	MarkRead(ctx context.Context, messageID int64) (model.Message, error)
}

type chatLoop struct {
	store   *client.Store
	conn    chatConn
	marker  readMarker
	contact uuid.UUID
	name    string
	out     io.Writer
	now     func() time.Time
	newID   func() string

	status string
	typing bool
	// we told the peer we are typing and have not cleared it yet
	composing bool
}

func newLocalID() string { return "local-" + uuid.Must(uuid.NewV4()).String() }

// run drives the store until ctx ends, stdin closes or the socket drops.
func (l *chatLoop) run(ctx context.Context, lines <-chan string, tick <-chan time.Time) error {
	l.status = l.store.Status()
	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch line {
			case "/quit":
				l.setComposing(ctx, false)
				return nil
			case "/typing":
				l.setComposing(ctx, true)
				continue
			}
			id := l.newID()
			l.store.Apply(client.Sent{LocalID: id, RecipientID: l.contact, Content: line, At: l.now()})
			if err := l.conn.Send(ctx, id, l.contact, line); err != nil {
				l.store.Apply(client.SendFailed{LocalID: id, Reason: err.Error()})
				fmt.Fprintf(l.out, "! not sent: %v\n", err)
			}
			l.setComposing(ctx, false)

		case ev, ok := <-l.conn.Events():
			if !ok {
				return l.conn.Err()
			}
			l.handle(ctx, ev)

		case now := <-tick:
			l.store.Apply(client.Tick{Now: now})
			l.renderTyping()
		}
	}
}

// setComposing sends a typing signal when the local state changes. Errors
// are ignored; the indicator is best effort.
func (l *chatLoop) setComposing(ctx context.Context, on bool) {
	if l.composing == on {
		return
	}
	l.composing = on
	_ = l.conn.Typing(ctx, l.contact, on)
}

func (l *chatLoop) handle(ctx context.Context, ev client.Event) {
	effects := l.store.Apply(ev)
	for _, eff := range effects {
		if mr, ok := eff.(client.MarkRead); ok {
			if _, err := l.marker.MarkRead(ctx, mr.MessageID); err != nil {
				fmt.Fprintf(l.out, "! mark read #%d: %v\n", mr.MessageID, err)
			}
		}
	}

	switch ev := ev.(type) {
	case client.NewMessage:
		if ev.Message.Peer(l.store.Self()) == l.contact {
			fmt.Fprintln(l.out, formatLine(ev.Message.CreatedAt, l.name, ev.Message.Content))
		} else {
			fmt.Fprintf(l.out, "(new message from another contact, %d unread)\n", l.store.Unread(ev.Message.SenderID))
		}
	case client.Ack:
		fmt.Fprintf(l.out, "  ✓ #%d\n", ev.MessageID)
	case client.SendFailed:
		fmt.Fprintf(l.out, "! not sent: %s\n", ev.Reason)
	case client.Notice:
		fmt.Fprintf(l.out, "! %s\n", ev.Text)
	}
	if s := l.store.Status(); s != l.status {
		l.status = s
		fmt.Fprintf(l.out, "* %s is %s\n", l.name, s)
	}
	l.renderTyping()
}

func (l *chatLoop) renderTyping() {
	t := l.store.Typing()
	if t == l.typing {
		return
	}
	l.typing = t
	if t {
		fmt.Fprintf(l.out, "* %s is typing...\n", l.name)
	}
}

func chatCmd(a *app) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "chat <contact-id>",
		Short: "Open an interactive conversation (/typing to show typing, /quit to leave)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contact, err := convert.ParseID(args[0])
			if err != nil {
				return err
			}
			api, err := a.api(true)
			if err != nil {
				return err
			}
			self, err := convert.ParseID(a.cfg.Auth.UserID)
			if err != nil {
				return fmt.Errorf("saved user id: %w (login again)", err)
			}
			ctx := cmd.Context()

			store := client.NewStore(self, client.DefaultTypingTimeout)
			name, status, err := lookupContact(ctx, api, contact)
			if err != nil {
				return err
			}
			store.Apply(client.Opened{ContactID: contact, Status: status})

			rctx, cancel := request(cmd)
			ms, err := api.Conversation(rctx, contact, history, 0)
			cancel()
			if err != nil {
				return err
			}
			store.Apply(client.ConversationLoaded{ContactID: contact, Messages: ms})
			for i := len(ms) - 1; i >= 0; i-- {
				fmt.Fprintln(a.out, formatLine(ms[i].CreatedAt, ms[i].SenderName, ms[i].Content))
			}
			fmt.Fprintf(a.out, "* %s is %s\n", name, status)

			rt, err := client.Dial(ctx, api.BaseURL(), api.Token(), self)
			if err != nil {
				return err
			}
			defer rt.Close()

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(a.in)
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()
			ticker := time.NewTicker(typingTick)
			defer ticker.Stop()

			loop := &chatLoop{
				store:   store,
				conn:    rt,
				marker:  api,
				contact: contact,
				name:    name,
				out:     a.out,
				now:     time.Now,
				newID:   newLocalID,
			}
			return loop.run(ctx, lines, ticker.C)
		},
	}
	cmd.Flags().IntVar(&history, "history", 20, "messages to load before going live")
	return cmd
}

func lookupContact(ctx context.Context, api *client.API, id uuid.UUID) (name, status string, err error) {
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	cs, err := api.Contacts(rctx)
	if err != nil {
		return "", "", err
	}
	for _, c := range cs {
		if c.ID == id.String() {
			status = protocol.StatusOffline
			if c.Online {
				status = protocol.StatusOnline
			}
			return c.Username, status, nil
		}
	}
	return "", "", fmt.Errorf("%s is not in your contacts (use add first)", id)
}
