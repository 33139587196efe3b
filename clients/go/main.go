// peerchat CLI - command line client for a peerchat node
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eldtechnologies/peerchat/clients/go/peerchat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PEERCHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := peerchat.NewClient(baseURL)
	cmd := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "post":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: peerchat post <chat> <message>")
			os.Exit(1)
		}
		node, err := client.Push(ctx, os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Posted: %s\n", node)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: peerchat read <chat>")
			os.Exit(1)
		}
		chat := os.Args[2]
		client.Reset(chat)
		entries, err := client.Poll(ctx, chat)
		exitOnError(err)
		for _, e := range entries {
			data, err := client.Message(ctx, chat, e.EntryID)
			if err != nil {
				data = "<" + err.Error() + ">"
			}
			printMessage(peerchat.Received{Entry: e, Data: data})
		}
		exitOnError(client.SaveState())

	case "follow":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: peerchat follow <chat>")
			os.Exit(1)
		}
		err := client.Follow(ctx, os.Args[2], func(r peerchat.Received) error {
			printMessage(r)
			return client.SaveState()
		})
		if ctx.Err() == nil {
			exitOnError(err)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`peerchat CLI - replicated chat client

Usage: peerchat <command> [options]

Commands:
  post <chat> <message>   Post message to chat
  read <chat>             Print every message in chat
  follow <chat>           Print new messages as they arrive
  health                  Check node health

Environment:
  PEERCHAT_URL      Node URL (default: http://localhost:8080)
  PEERCHAT_CONFIG   State directory (default: ~/.peerchat)`)
}

func printMessage(r peerchat.Received) {
	ts := r.Time().Format("2006-01-02 15:04:05")
	id := r.EntryID
	if len(id) > 8 {
		id = id[:8]
	}
	fmt.Printf("[%s] %s: %s\n", ts, id, r.Data)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
