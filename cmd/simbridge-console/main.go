// Command simbridge-console is an interactive client for a SIM bridge
// relay.
//
// It covers the whole client surface: account registration and login,
// device management, pairing, SMS / call / SIM-query commands, message
// history, and attaching a live WebSocket session as either role to
// watch relayed frames arrive.
//
// Usage:
//
//	simbridge-console [flags]
//
// Flags:
//
//	-server string  Relay base URL (default "http://localhost:8080")
//
// Examples:
//
//	# Talk to a local relay
//	simbridge-console
//
//	# Talk to a remote relay
//	simbridge-console -server https://bridge.example.net
//
// Type 'help' at the prompt for the command list.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/simbridge-dev/simbridge-go/cmd/simbridge-console/interactive"
)

var serverURL string

func init() {
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "Relay base URL")
}

func main() {
	flag.Parse()

	console, err := interactive.New(serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simbridge-console: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A signal ends the readline loop via the context.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	console.Run(ctx, cancel)
}
