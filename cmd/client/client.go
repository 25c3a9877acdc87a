// Command client is a small CLI that speaks spec.md §6's bidirectional
// event channel: it subscribes to one or more topics and prints whatever
// the server publishes on them. Adapted from the teacher's cmd/client,
// which drove a fixed-width binary TCP protocol to place and cancel
// orders directly — that surface moved to the out-of-scope HTTP contract
// in this revision, so the client's remaining job is watching the event
// channel, same as the teacher's readReports loop did for execution
// reports.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the oes server")
	channels := flag.String("channels", "system", "comma-separated list of topics to subscribe to")
	flag.Parse()

	url := fmt.Sprintf("ws://%s/ws", *serverAddr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", url, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", url)

	for _, ch := range strings.Split(*channels, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": ch}); err != nil {
			log.Fatalf("failed to subscribe to %s: %v", ch, err)
		}
		fmt.Printf("-> subscribed to %s\n", ch)
	}

	go pingLoop(conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			log.Printf("connection closed: %v", err)
			return
		}
		fmt.Printf("%s\n", payload)
	}
}

// pingLoop sends a client-initiated ping every 15s so a client run against
// a server that never pings first still exercises the pong round trip.
func pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
			return
		}
	}
}
