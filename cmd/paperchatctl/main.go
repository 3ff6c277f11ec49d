package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/paperchat/internal/api"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/session"
	"github.com/spf13/cobra"
)

// offline marks commands that do not talk to a daemon.
const offline = "offline"

var (
	sessionFlag string
	jsonOutput  bool
	timeout     time.Duration

	client *api.Client
)

var rootCmd = &cobra.Command{
	Use:           "paperchatctl",
	Short:         "Control a running paperchatd session",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[offline] != "" {
			return nil
		}
		name := session.Resolve(sessionFlag)
		if err := session.ValidateName(name); err != nil {
			return err
		}
		c, err := api.NewClient(session.SocketPath(name))
		if err != nil {
			return fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
		}
		client = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if client != nil {
			_ = client.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func printMessage(m chat.Message) {
	marker := " "
	switch {
	case m.Status == chat.StatusFailed:
		marker = "!"
	case m.IsPending():
		marker = "~"
	case m.IsRead:
		marker = "✓"
	}
	fmt.Printf("%s %s %-12s %s\n", marker, m.CreatedAt.Local().Format("15:04"), m.SenderName+":", m.Body)
	if m.ReplyTo != nil {
		fmt.Printf("      ↳ %s: %s\n", m.ReplyTo.SenderName, m.ReplyTo.Body)
	}
	if m.Status == chat.StatusFailed {
		fmt.Printf("      failed, retry with: paperchatctl retry %s\n", m.ID)
	}
}
