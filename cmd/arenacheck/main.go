package main

import (
	"context"
	"log"
	"os"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/probe"
	"github.com/park285/chess-arena/pkg/arenadto"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	wsURL := os.Getenv("ARENA_WS_URL")

	if baseURL == "" {
		log.Fatal("ARENA_BASE_URL is required")
	}

	client := probe.NewClient(baseURL, probe.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.GetHealth(ctx)
	if err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz ok: status=%s rooms=%d sessions=%d uptime=%ds", h.Status, h.Rooms, h.Sessions, h.UptimeSec)

	if wsURL == "" {
		log.Println("ARENA_WS_URL not set; skipping WS check")
		return
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	conn, _, err := websocket.Dial(dctx, wsURL, nil)
	if err != nil {
		log.Fatalf("WS connect error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var greeting arenadto.Connected
	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	if err := wsjson.Read(rctx, conn, &greeting); err != nil {
		log.Fatalf("WS read error: %v", err)
	}
	if greeting.Type != arenadto.TypeConnected {
		log.Fatalf("unexpected greeting type: %q", greeting.Type)
	}
	log.Println("WS ok: greeted")
}
