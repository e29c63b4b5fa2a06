// ABOUTME: Entry point for the pufferblow-chat terminal client
// ABOUTME: Connects to a pufferblow server and chats from stdin

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/pufferblow/pufferblow-go"
	"github.com/pufferblow/pufferblow-go/internal/config"
	"github.com/pufferblow/pufferblow-go/wire"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             __  __           _     _
 _ __  _   _/ _|/ _| ___ _ __| |__ | | _____      __
| '_ \| | | | |_| |_ / _ \ '__| '_ \| |/ _ \ \ /\ / /
| |_) | |_| |  _|  _|  __/ |  | |_) | | (_) \ V  V /
| .__/ \__,_|_| |_|  \___|_|  |_.__/|_|\___/ \_/\_/
|_|
`

// getConfigPath returns the path to the client config file.
// Priority: PUFFERBLOW_CONFIG env var > XDG_CONFIG_HOME/pufferblow/client.yaml > ~/.config/pufferblow/client.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PUFFERBLOW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pufferblow", "client.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pufferblow-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat [channel]         Connect and chat (all channels, or one)")
		fmt.Println("  channels               List channels")
		fmt.Println("  send CHANNEL BODY      Send one message and exit")
		fmt.Println("  dm PEER BODY           Send a direct message (peer or peer@domain)")
		fmt.Println("  history PEER [PAGE]    Show direct message history")
		fmt.Println("  follow PEER            Follow a remote account")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "channels":
		err = runChannels(ctx)
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "dm":
		err = runDM(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "follow":
		err = runFollow(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newClient loads config and builds a connect-ready client. adjust, when
// non-nil, can set callbacks on the options before the client is built.
func newClient(adjust func(*pufferblow.Options)) (*pufferblow.Client, error) {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	opts, err := pufferblow.LoadOptions(configPath)
	if err != nil {
		return nil, err
	}
	opts.Logger = setupLogger(cfg.Logging)
	if adjust != nil {
		adjust(&opts)
	}

	return pufferblow.New(opts)
}

func runChat(ctx context.Context, args []string) error {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	sender := color.New(color.FgMagenta, color.Bold)

	done := make(chan struct{})
	client, err := newClient(func(opts *pufferblow.Options) {
		opts.OnDisconnected = func(reason error) {
			yellow.Printf("disconnected (%v), reconnecting...\n", reason)
		}
		opts.OnConnected = func() {
			green.Println("connected")
		}
		opts.OnError = func(err error) {
			red.Printf("connection lost for good: %v\n", err)
			close(done)
		}
		opts.OnCallbackError = func(handler string, err error) {
			red.Printf("handler %s failed: %v\n", handler, err)
		}
	})
	if err != nil {
		return err
	}
	defer client.Close()

	printMessage := func(m *wire.Message) error {
		gray.Printf("[%s] ", m.ChannelID)
		sender.Printf("%s", m.SenderID)
		fmt.Printf(": %s\n", m.Body)
		for _, a := range m.Attachments {
			gray.Printf("  attachment: %s (%s)\n", a.Ref, a.MimeHint)
		}
		return nil
	}

	client.OnMessage("chat-printer", "", printMessage)

	var socket *pufferblow.ChannelSocket
	channel := ""
	if len(args) > 0 {
		channel = args[0]
		socket, err = client.CreateChannelSocket(channel)
		if err != nil {
			return err
		}
		socket.OnMessage(printMessage)
	}

	if err := client.ConnectGlobal(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	green.Print("    ▶ ")
	fmt.Println("Connected. Type to send, Ctrl-C to quit.")
	if channel != "" {
		green.Print("    ▶ ")
		fmt.Printf("Channel:   %s\n", channel)
	}
	fmt.Println()

	// Reader goroutine: each stdin line is one message.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			body := strings.TrimSpace(scanner.Text())
			if body == "" {
				continue
			}
			var sendErr error
			if socket != nil {
				_, sendErr = socket.SendMessage(ctx, body)
			} else {
				_, sendErr = client.SendMessage(ctx, "general", body)
			}
			if sendErr != nil {
				red.Printf("send failed: %v\n", sendErr)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func runChannels(ctx context.Context) error {
	client, err := newClient(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	channels, err := client.ListChannels(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, ch := range channels {
		cyan.Printf("%s", ch.Name)
		if ch.IsPrivate {
			gray.Print(" (private)")
		}
		gray.Printf("  %s", ch.ID)
		fmt.Println()
	}
	return nil
}

func runSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pufferblow-chat send CHANNEL BODY")
	}

	client, err := newClient(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ConnectGlobal(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	msg, err := client.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("sent %s\n", msg.ID)
	return nil
}

func runDM(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pufferblow-chat dm PEER BODY")
	}

	client, err := newClient(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ConnectGlobal(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	msg, err := client.SendDirectMessage(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("sent %s in %s\n", msg.ID, msg.ConversationID)
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pufferblow-chat history PEER [PAGE]")
	}
	page := 1
	if len(args) > 1 {
		if _, err := fmt.Sscanf(args[1], "%d", &page); err != nil {
			return fmt.Errorf("invalid page %q", args[1])
		}
	}

	client, err := newClient(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	msgs, err := client.LoadDirectMessages(ctx, args[0], page, 0)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	sender := color.New(color.FgMagenta, color.Bold)
	for _, m := range msgs {
		gray.Printf("%s ", m.SentAt.Local().Format("2006-01-02 15:04"))
		sender.Printf("%s", m.SenderID)
		fmt.Printf(": %s\n", m.Body)
	}
	return nil
}

func runFollow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pufferblow-chat follow PEER")
	}

	client, err := newClient(nil)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.FollowRemoteAccount(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("following %s\n", args[0])
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
