package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/quizwire/internal/app"
	"github.com/vovakirdan/quizwire/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "name to request from the host")
	text := flag.String("text", "hello from smoke test", "chat text to send after joining")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	fmt.Printf("Connected: connection_id=%s\n", resp.Header.Get(proto.HeaderConnectionID))

	send := func(m proto.Message) error {
		frame, err := proto.EncodeV2(m)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if err := send(proto.NewSystem("", proto.Authority, app.JoinCommand+" "+*user)); err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m, err := proto.DecodeV2(data)
		if err != nil {
			fmt.Printf("Undecodable frame: %d bytes\n", len(data))
			continue
		}
		fmt.Printf("Received: sender=%s receiver=%s system=%t text=%q\n", m.Sender, m.Receiver, m.IsSystem, m.Text)

		if !m.IsSystem || m.Sender != proto.Authority {
			continue
		}
		switch {
		case strings.HasPrefix(m.Text, app.WelcomeReply+" "):
			if err := send(proto.NewChat(*user, proto.Everybody, *text)); err != nil {
				return err
			}
			fmt.Println("Joined and sent chat")
			return nil
		case strings.HasPrefix(m.Text, app.RefuseReply):
			return errors.New(m.Text)
		}
	}
}
