package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/convsync/internal/api"
	"github.com/matheus3301/convsync/internal/profile"
	"github.com/matheus3301/convsync/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c.Chat, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chat := c.Chat
	switch args[0] {
	case "status":
		cmdStatus(ctx, chat, *jsonFlag)
	case "chats":
		cmdChats(ctx, chat, *jsonFlag)
	case "open":
		need(args, 2, "open <conversation-id>")
		check(chat.SelectConversation(ctx, args[1]))
		cmdMessages(ctx, chat, args[1], *jsonFlag)
	case "send":
		need(args, 3, "send <conversation-id> <text>")
		cmdSend(ctx, chat, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "read":
		need(args, 2, "read <conversation-id>")
		check(chat.MarkRead(ctx, args[1]))
	case "new":
		need(args, 2, "new <participant-id>")
		resp, err := chat.CreateConversation(ctx, args[1])
		check(err)
		if *jsonFlag {
			outputJSON(resp)
			return
		}
		fmt.Println(resp.Conversation.ID)
	case "reconnect":
		check(chat.Reconnect(ctx))
	case "retry":
		cmdRetry(ctx, chat, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: convsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show channel and queue status")
	fmt.Fprintln(os.Stderr, "  chats                  List conversation summaries")
	fmt.Fprintln(os.Stderr, "  open <id>              Open a conversation and print its thread")
	fmt.Fprintln(os.Stderr, "  send <id> <text>       Send a message (queued when offline)")
	fmt.Fprintln(os.Stderr, "  read <id>              Mark a conversation as read")
	fmt.Fprintln(os.Stderr, "  new <participant>      Start a conversation")
	fmt.Fprintln(os.Stderr, "  reconnect              Retry the live channel now")
	fmt.Fprintln(os.Stderr, "  retry [client-id]      Re-queue failed messages")
	fmt.Fprintln(os.Stderr, "  watch [prefix...]      Stream daemon events")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: convsyncctl "+usage)
		os.Exit(1)
	}
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *api.ChatClient, jsonOut bool) {
	resp, err := c.GetStatus(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:   %s\n", resp.Profile)
	fmt.Printf("State:     %s\n", resp.State)
	fmt.Printf("Connected: %v\n", resp.Connected)
	fmt.Printf("Active:    %s\n", resp.ActiveID)
	fmt.Printf("Pending:   %d\n", resp.PendingCount)
	fmt.Printf("Failed:    %d\n", len(resp.Failed))
	fmt.Printf("Uptime:    %dms\n", resp.UptimeMs)
	if resp.DroppedEvents > 0 {
		fmt.Printf("Dropped:   %d events\n", resp.DroppedEvents)
	}
}

func cmdChats(ctx context.Context, c *api.ChatClient, jsonOut bool) {
	resp, err := c.ListSummaries(ctx)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Summaries) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, s := range resp.Summaries {
		unread := ""
		if s.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", s.UnreadCount)
		}
		fmt.Printf("%-24s %-20s %-16s %-10s %5s %s\n", s.ID, s.Name, s.Role, s.LastMessageTime, unread, s.LastMessage)
	}
}

func cmdMessages(ctx context.Context, c *api.ChatClient, id string, jsonOut bool) {
	resp, err := c.ListMessages(ctx, id)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		when := "pending"
		if !m.Pending {
			when = m.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("[%s] %s: %s\n", when, m.SenderID, m.Content)
	}
}

func cmdSend(ctx context.Context, c *api.ChatClient, id, text string, jsonOut bool) {
	resp, err := c.SendText(ctx, id, text)
	check(err)
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Delivered {
		fmt.Println("Sent.")
		return
	}
	fmt.Printf("Not connected: queued (%d pending).\n", resp.PendingCount)
}

func cmdRetry(ctx context.Context, c *api.ChatClient, args []string) {
	ids := args
	if len(ids) == 0 {
		st, err := c.GetStatus(ctx)
		check(err)
		for _, f := range st.Failed {
			ids = append(ids, f.ClientID)
		}
	}
	for _, id := range ids {
		check(c.RetryFailed(ctx, id))
	}
	fmt.Printf("Re-queued %d message(s).\n", len(ids))
}

func cmdWatch(ctx context.Context, c *api.ChatClient, namespaces []string, jsonOut bool) {
	stream, err := c.WatchEvents(ctx, namespaces...)
	check(err)
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			check(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		fmt.Printf("%s %-22s %s\n", evt.OccurredAt().Format(time.TimeOnly), evt.Kind, evt.ConversationID)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
