package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/vibe/internal/natsbus"
)

var (
	natsURL       string
	watchMessages bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [session]",
	Short: "Stream lifecycle events from a running server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := natsURL
		if url == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
		}
		session := ""
		if len(args) == 1 {
			session = args[0]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watch(ctx, cmd.OutOrStdout(), url, session, watchMessages)
	},
}

func init() {
	watchCmd.Flags().StringVar(&natsURL, "nats", "", "NATS url (default derived from nats.port)")
	watchCmd.Flags().BoolVarP(&watchMessages, "messages", "m", false, "also stream agent messages")
}

// wireEvent is an event as forwarded on NATS.
type wireEvent struct {
	Topic     string          `json:"topic"`
	SessionID string          `json:"session_id"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type wireMessage struct {
	SessionID  string          `json:"session_id"`
	Type       string          `json:"type"`
	Sender     string          `json:"sender"`
	Recipients []string        `json:"recipients"`
	Timestamp  time.Time       `json:"timestamp"`
	Content    json.RawMessage `json:"content"`
}

func watch(ctx context.Context, w io.Writer, url, session string, messages bool) error {
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()

	lines := make(chan string, 64)
	emit := func(line string) {
		select {
		case lines <- line:
		case <-ctx.Done():
		}
	}

	subject := natsbus.TopicEventsAll
	if session != "" {
		subject = natsbus.TopicEventsSession(session)
	}
	unsub, err := client.Subscribe(subject, func(_ string, data []byte) {
		var e wireEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		emit(fmt.Sprintf("%s %-16s session=%s run=%s %s", e.Timestamp.Format(time.TimeOnly), e.Topic, e.SessionID, e.RunID, e.Data))
	})
	if err != nil {
		return err
	}
	defer unsub()

	if messages {
		subject := natsbus.TopicMessagesAll
		if session != "" {
			subject = natsbus.TopicSessionMessages(session)
		}
		unsub, err := client.Subscribe(subject, func(_ string, data []byte) {
			var m wireMessage
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			emit(fmt.Sprintf("%s %-16s %s -> %v %s", m.Timestamp.Format(time.TimeOnly), m.Type, m.Sender, m.Recipients, m.Content))
		})
		if err != nil {
			return err
		}
		defer unsub()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(w, line)
		}
	}
}
