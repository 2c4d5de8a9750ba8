package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Leonid-DD/Chess2/internal/bridge"
	"github.com/Leonid-DD/Chess2/pkg/chessdto"
)

const usage = "usage: bridgecheck [state | click|select|commit ROW COL | retry]"

func main() {
	addr := strings.TrimSpace(os.Getenv("BRIDGE_ADDR"))
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	player := strings.TrimSpace(os.Getenv("PLAYER_ID"))
	if player == "" {
		log.Fatal("PLAYER_ID is required")
	}

	client := bridge.NewClient("http://"+addr, bridge.WithTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz ok: %s", addr)

	args := os.Args[1:]
	cmd := "state"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "state":
		v, err := client.State(ctx, player)
		if err != nil {
			log.Fatalf("/state error: %v", err)
		}
		printView(v)
	case "click", "select", "commit":
		req, err := clickRequest(player, args[1:])
		if err != nil {
			log.Fatal(err)
		}
		var resp *chessdto.ClickResponse
		switch cmd {
		case "click":
			resp, err = client.Click(ctx, req)
		case "select":
			resp, err = client.Select(ctx, req)
		default:
			resp, err = client.Commit(ctx, req)
		}
		if err != nil {
			log.Fatalf("/%s error: %v", cmd, err)
		}
		fmt.Printf("outcome=%s\n", resp.Outcome)
		printView(resp.View)
	case "retry":
		if err := client.Retry(ctx); err != nil {
			log.Fatalf("/retry error: %v", err)
		}
		log.Println("/retry ok")
	default:
		log.Fatal(usage)
	}
}

func clickRequest(player string, args []string) (chessdto.ClickRequest, error) {
	if len(args) != 2 {
		return chessdto.ClickRequest{}, errors.New(usage)
	}
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return chessdto.ClickRequest{}, fmt.Errorf("row: %w", err)
	}
	col, err := strconv.Atoi(args[1])
	if err != nil {
		return chessdto.ClickRequest{}, fmt.Errorf("col: %w", err)
	}
	return chessdto.ClickRequest{Player: player, Row: row, Col: col}, nil
}

func printView(v *chessdto.SessionView) {
	if v == nil {
		return
	}
	fmt.Printf("session=%s color=%s seq=%d your_turn=%t in_check=%t pending=%t pieces=%d\n",
		v.SessionID, v.Color, v.Seq, v.YourTurn, v.InCheck, v.Pending, len(v.Board))
	if v.Selected != nil {
		fmt.Printf("selected=(%d,%d) highlighted=%d\n", v.Selected.Row, v.Selected.Col, len(v.Highlighted))
	}
}
