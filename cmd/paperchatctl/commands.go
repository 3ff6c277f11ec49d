package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/paperchat/internal/api"
	"github.com/matheus3301/paperchat/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var (
	loginName  string
	loginToken string

	openName         string
	openConversation string

	sendReplyTo string
	sendFile    bool

	dismissIndex int

	recentLimit int

	searchConversation string
	searchLimit        int

	conversationsRefresh bool
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "List known sessions",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{offline: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := session.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(sessions)
			return nil
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		for _, s := range sessions {
			running := "stopped"
			if s.Running {
				running = fmt.Sprintf("running, pid %d", s.PID)
			}
			fmt.Printf("%-20s %s (%s)\n", s.Name, s.Path, running)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Session: %s\n", resp.Session)
		fmt.Printf("Status:  %s\n", resp.State)
		if resp.User.ID != "" {
			fmt.Printf("User:    %s (%s)\n", resp.User.Name, resp.User.ID)
		}
		if resp.ConversationID != "" {
			fmt.Printf("Open:    %s\n", resp.ConversationID)
		}
		fmt.Printf("Unread:  %d\n", resp.Unread)
		fmt.Printf("Uptime:  %dms\n", resp.UptimeMs)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Start a session as user-id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Login(ctx, &api.LoginRequest{UserID: args[0], UserName: loginName, Token: loginToken})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Logged in as %s. Status: %s\n", resp.User.ID, resp.State)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.Logout(ctx)
	},
}

var openCmd = &cobra.Command{
	Use:   "open [peer-id]",
	Short: "Open the conversation with a peer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.OpenRequest{PeerName: openName, ConversationID: openConversation}
		if len(args) == 1 {
			req.PeerID = args[0]
		}
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Open(ctx, req)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Opened %s\n", resp.ConversationID)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.CloseConversation(ctx)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send a message to the open conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Send(ctx, &api.SendRequest{
			Text:      strings.Join(args, " "),
			File:      sendFile,
			ReplyToID: sendReplyTo,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Queued %s\n", resp.Message.ID)
		return nil
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing",
	Short: "Signal that you are typing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.Typing(ctx)
	},
}

var readCmd = &cobra.Command{
	Use:   "read [message-id]...",
	Short: "Mark messages read; all unread ones when no id is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.MarkRead(ctx, args...)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Marked %d message(s) read\n", resp.Marked)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Retry a failed send",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.Retry(ctx, args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.Delete(ctx, args[0])
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		return client.Clear(ctx)
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the open conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Snapshot(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp.Snapshot)
			return nil
		}
		snap := resp.Snapshot
		if snap.ConversationID == "" {
			fmt.Println("No conversation open.")
			return nil
		}
		fmt.Printf("Conversation with %s (%s) [%s]\n", snap.Peer.Name, snap.ConversationID, snap.State)
		for _, m := range snap.Messages {
			printMessage(m)
		}
		names := make([]string, 0, len(snap.Typing))
		for _, name := range snap.Typing {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > 0 {
			fmt.Printf("%s typing...\n", strings.Join(names, ", "))
		}
		return nil
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List queued notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Snapshot(ctx)
		if err != nil {
			return err
		}
		notes := resp.Snapshot.Notifications
		if jsonOutput {
			outputJSON(notes)
			return nil
		}
		if len(notes) == 0 {
			fmt.Printf("No notifications. Unread: %d\n", resp.Snapshot.Unread)
			return nil
		}
		for i, m := range notes {
			fmt.Printf("%2d. %-36s %s: %s\n", i, m.ID, m.SenderName, m.Body)
		}
		fmt.Printf("Unread: %d\n", resp.Snapshot.Unread)
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss [message-id]",
	Short: "Dismiss a notification by message id or --index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &api.DismissRequest{Index: dismissIndex}
		if len(args) == 1 {
			req.MessageID = args[0]
		} else if !cmd.Flags().Changed("index") {
			return errors.New("a message id or --index is required")
		}
		ctx, cancel := requestContext()
		defer cancel()
		return client.Dismiss(ctx, req)
	},
}

var jumpCmd = &cobra.Command{
	Use:   "jump <message-id>",
	Short: "Open the conversation a notification belongs to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.OpenNotification(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Opened %s\n", resp.ConversationID)
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently opened conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Recent(ctx, recentLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		if len(resp.Peers) == 0 {
			fmt.Println("No recent conversations.")
			return nil
		}
		for _, p := range resp.Peers {
			opened := time.UnixMilli(p.LastOpenedAtMs).Local().Format("2006-01-02 15:04")
			fmt.Printf("%-20s %-30s %s\n", p.User.Name, p.ConversationID, opened)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search cached messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Search(ctx, &api.SearchRequest{
			Query:          strings.Join(args, " "),
			ConversationID: searchConversation,
			Limit:          searchLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		if len(resp.Messages) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, m := range resp.Messages {
			printMessage(m)
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users [query]",
	Short: "List or search the server's user directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		var (
			resp *api.UsersResponse
			err  error
		)
		if len(args) == 1 {
			resp, err = client.SearchUsers(ctx, args[0])
		} else {
			resp, err = client.Users(ctx)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		for _, u := range resp.Users {
			fmt.Printf("%-20s %s\n", u.ID, u.Name)
		}
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the account's conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext()
		defer cancel()
		resp, err := client.Conversations(ctx, conversationsRefresh)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		if len(resp.Conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range resp.Conversations {
			last := ""
			if c.LastMessage != nil {
				last = c.LastMessage.Body
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf("(%d)", c.UnreadCount)
			}
			fmt.Printf("%-20s %-30s %-5s %s\n", c.Peer.Name, c.ID, unread, last)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [kind-prefix]",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		w, err := client.Watch(ctx, prefix)
		if err != nil {
			return err
		}
		for {
			evt, err := w.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil || grpcstatus.Code(err) == codes.Canceled {
					return nil
				}
				return err
			}
			if jsonOutput {
				outputJSON(evt)
				continue
			}
			at := time.UnixMilli(evt.OccurredAtUnixMs).Local().Format("15:04:05.000")
			fmt.Printf("%s %-26s %s\n", at, evt.Kind, evt.Payload)
		}
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginName, "name", "", "display name")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token for the chat server")

	openCmd.Flags().StringVar(&openName, "name", "", "peer display name")
	openCmd.Flags().StringVar(&openConversation, "conversation", "", "open by conversation id")

	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message to quote")
	sendCmd.Flags().BoolVar(&sendFile, "file", false, "send the text as a file reference")

	dismissCmd.Flags().IntVar(&dismissIndex, "index", 0, "position in the notification list")

	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "maximum conversations")

	searchCmd.Flags().StringVar(&searchConversation, "conversation", "", "restrict to one conversation")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results")

	conversationsCmd.Flags().BoolVar(&conversationsRefresh, "refresh", false, "reload the list from the server")

	rootCmd.AddCommand(
		sessionsCmd, statusCmd, loginCmd, logoutCmd,
		openCmd, closeCmd, sendCmd, typingCmd, readCmd,
		retryCmd, deleteCmd, clearCmd, showCmd,
		notificationsCmd, dismissCmd, jumpCmd,
		recentCmd, conversationsCmd, searchCmd, usersCmd, watchCmd,
	)
}
