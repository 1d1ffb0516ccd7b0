package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"idleforge.dev/internal/protocol"
)

// A scripted client: connects, watches state pushes, and buys a generator
// whenever the configured resource can cover a purchase. Useful for soaking
// the transport and for demos.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "client name")
		generator = flag.String("generator", "lumberjack", "generator to buy")
		resource  = flag.String("resource", "gold", "resource funding the purchases")
		reserve   = flag.Float64("reserve", 100, "buy only above this balance")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Subscribe:       []string{"resources", "progression"},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s pack=%s digest=%s step=%d",
				w.SessionID, w.PackID, w.Content.Digest, w.CurrentStep)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			handleState(conn, logger, &st, *generator, *resource, *reserve)

		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil {
				continue
			}
			if !res.Accepted {
				logger.Printf("RESULT %s rejected: %s %s", res.ReqID, res.Code, res.Message)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s %s", e.Code, e.Message)
		}
	}
}

func handleState(conn *websocket.Conn, logger *log.Logger, st *protocol.StateMsg, generator, resource string, reserve float64) {
	for _, r := range st.Resources {
		if r.ID != resource || r.Amount <= reserve {
			continue
		}
		payload, _ := json.Marshal(map[string]any{"generator": generator, "count": 1})
		req := protocol.EnqueueMsg{
			Type:            protocol.TypeEnqueue,
			ProtocolVersion: protocol.Version,
			ReqID:           fmt.Sprintf("buy_%d", st.Step),
			Command:         "generator.purchase",
			Payload:         payload,
		}
		if err := conn.WriteJSON(req); err != nil {
			logger.Printf("send ENQUEUE: %v", err)
			return
		}
		logger.Printf("step=%d %s=%.1f buying %s", st.Step, resource, r.Amount, generator)
	}
}
