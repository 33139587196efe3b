package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/peerchat/internal/chat"
	"github.com/eldtechnologies/peerchat/internal/router"
)

func main() {
	_ = godotenv.Load()

	peersFlag := flag.String("peers", os.Getenv("PEERS"), "Comma-separated peer addresses (defaults to $PEERS)")
	replicas := flag.Int("k", router.DefaultReplicas, "Replica set size")
	flag.Parse()

	var addresses []string
	for _, a := range strings.Split(*peersFlag, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	if len(addresses) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: route -peers <host:port,...> [-k 3] [chat-key...]")
		os.Exit(1)
	}

	r := router.New(addresses, *replicas)

	fmt.Println("Peers:")
	for _, p := range r.Peers() {
		fmt.Printf("  %-24s %s\n", p.Address, p.ID())
	}

	for _, chatKey := range flag.Args() {
		chatID := chat.ChatID(chatKey)
		fmt.Printf("\nChat %q (id %s):\n", chatKey, chatID)
		for i, p := range r.Replicas(chatID) {
			fmt.Printf("  %d. %s\n", i+1, p.Address)
		}
	}
}
