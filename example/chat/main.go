package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Zereker/msgsocket"
)

func printNotification(n msgsocket.Notification) {
	switch n := n.(type) {
	case msgsocket.InboundMessage:
		fmt.Printf("< %s\n", n.Text)
	case msgsocket.ConnectionStatus:
		fmt.Printf("* %s (%s) %s\n", n.State, n.Reason, n.Detail)
	case msgsocket.ConnectOutcome:
		if !n.OK {
			fmt.Printf("* connect failed: %s\n", n.Detail)
		}
	case msgsocket.SendOutcome:
		if !n.OK {
			fmt.Printf("* message %d not sent: %s\n", n.ID, n.Detail)
		}
	}
}

// Lines typed on stdin are sent as messages. "/connect host:service" and
// "/disconnect" control the connection.
func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := msgsocket.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = msgsocket.LoadConfig(*configPath); err != nil {
			slog.Error("failed to load config", "error", err.Error())
			os.Exit(1)
		}
	}
	if flag.NArg() > 0 {
		cfg.Destination = flag.Arg(0)
	}

	opts := append(cfg.Options(), msgsocket.OnNotificationOption(printNotification))
	client, err := msgsocket.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create client", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	if cfg.Destination != "" {
		_ = client.Connect(cfg.Destination)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "/connect "):
				_ = client.Connect(strings.TrimPrefix(line, "/connect "))
			case line == "/disconnect":
				_ = client.Disconnect()
			case line == "/quit":
				cancel()
				return
			default:
				if _, err := client.Send(line); err != nil {
					return
				}
			}
		}
		cancel()
	}()

	<-ctx.Done()
	_ = client.Close()
	if err := <-done; err != nil && ctx.Err() == nil {
		slog.Error("client error", "error", err.Error())
	}
}
