// Package ws bridges websocket clients onto the simulation runtime. Clients
// speak the JSON protocol: HELLO, then ENQUEUE commands; the server answers
// with RESULT acks and pushes EVENT_BATCH and STATE frames.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"idleforge.dev/internal/protocol"
	"idleforge.dev/internal/sim/engine"
)

const (
	eventBufferSize = 256
	maxBatch        = 64
	stateInterval   = time.Second
)

type Config struct {
	PackID            string
	CommandsPerSecond float64
	CommandBurst      int
}

type Server struct {
	rt  *engine.Runtime
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id        string
	out       chan []byte
	events    chan protocol.EventItem
	limiter   *rate.Limiter
	subscribe map[string]bool
}

// NewServer wires the transport onto rt. Must be called before rt.Run starts:
// event subscriptions attach to the bus here.
func NewServer(rt *engine.Runtime, cfg Config, logger *log.Logger) *Server {
	if cfg.CommandsPerSecond <= 0 {
		cfg.CommandsPerSecond = 10
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 20
	}
	s := &Server{
		rt:       rt,
		cfg:      cfg,
		log:      logger,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	for _, ch := range []string{engine.ChannelResources, engine.ChannelProgression} {
		channel := ch
		rt.SubscribeEvents(channel, func(ev engine.EventEnvelope) {
			s.broadcast(channel, ev)
		})
	}
	return s
}

// broadcast runs on the loop goroutine during bus flush; it must not block,
// so a full session buffer drops the event for that session only.
func (s *Server) broadcast(channel string, ev engine.EventEnvelope) {
	item := protocol.EventItem{
		Channel:       channel,
		Event:         ev.Type,
		Tick:          ev.Tick,
		DispatchOrder: ev.DispatchOrder,
		Payload:       ev.Payload,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if len(sess.subscribe) > 0 && !sess.subscribe[channel] {
			continue
		}
		select {
		case sess.events <- item:
		default:
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.drop(sess.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go s.writeLoop(ctx, cancel, conn, sess)
		s.readLoop(cancel, conn, sess)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	sess := &session{
		id:      uuid.NewString(),
		out:     make(chan []byte, 32),
		events:  make(chan protocol.EventItem, eventBufferSize),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.CommandBurst),
	}
	if len(hello.Subscribe) > 0 {
		sess.subscribe = make(map[string]bool, len(hello.Subscribe))
		for _, ch := range hello.Subscribe {
			sess.subscribe[ch] = true
		}
	}

	pack := s.rt.Pack()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		PackID:          s.cfg.PackID,
		Content: protocol.ContentRef{
			Digest:  pack.Digest.Hash,
			Version: pack.Digest.Version,
			Count:   len(pack.Digest.IDs),
		},
		StepSizeMs:  float64(s.rt.StepSizeMs()),
		CurrentStep: s.rt.CurrentStep(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	if err := writeJSON(conn, s.stateMsg()); err != nil {
		return nil
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session) {
	stateTicker := time.NewTicker(stateInterval)
	defer stateTicker.Stop()

	var lastStateStep uint64
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-sess.out:
			if !ok {
				return
			}
			if err := writeRaw(conn, b); err != nil {
				cancel()
				return
			}
		case item := <-sess.events:
			batch := []protocol.EventItem{item}
		drain:
			for len(batch) < maxBatch {
				select {
				case more := <-sess.events:
					batch = append(batch, more)
				default:
					break drain
				}
			}
			msg := protocol.EventBatchMsg{
				Type:            protocol.TypeEventBatch,
				ProtocolVersion: protocol.Version,
				Tick:            batch[0].Tick,
				Events:          batch,
			}
			if err := writeJSON(conn, msg); err != nil {
				cancel()
				return
			}
		case <-stateTicker.C:
			msg := s.stateMsg()
			if msg.Step == lastStateStep {
				continue
			}
			lastStateStep = msg.Step
			if err := writeJSON(conn, msg); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(cancel context.CancelFunc, conn *websocket.Conn, sess *session) {
	defer cancel()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			sess.send(errorMsg(protocol.ErrProtoBadRequest, "malformed message"))
			continue
		}
		if base.Type != protocol.TypeEnqueue {
			continue
		}
		var enq protocol.EnqueueMsg
		if err := json.Unmarshal(msg, &enq); err != nil || enq.Command == "" {
			sess.send(errorMsg(protocol.ErrProtoBadRequest, "malformed ENQUEUE"))
			continue
		}
		if enq.ProtocolVersion != protocol.Version {
			sess.send(errorMsg(protocol.ErrProtoVersion, "unsupported protocol_version"))
			continue
		}
		sess.send(s.ingest(sess, enq))
	}
}

// ingest validates one ENQUEUE and hands it to the runtime. Acceptance means
// queued for the targeted step; execution results arrive as events.
func (s *Server) ingest(sess *session, enq protocol.EnqueueMsg) []byte {
	reject := func(code, message string) []byte {
		return resultMsg(protocol.ResultMsg{
			Type:            protocol.TypeResult,
			ProtocolVersion: protocol.Version,
			ReqID:           enq.ReqID,
			Accepted:        false,
			Code:            code,
			Message:         message,
		})
	}

	if !sess.limiter.Allow() {
		return reject(protocol.ErrRateLimit, "command rate limit exceeded")
	}
	if enq.Priority != "" && enq.Priority != "player" {
		return reject(protocol.ErrNoPermission, "clients submit at player priority")
	}
	if !s.rt.Dispatcher().Supports(enq.Command) {
		return reject(protocol.ErrUnknownCommand, "unknown command type: "+enq.Command)
	}

	cmd := engine.Command{
		Type:      enq.Command,
		Priority:  engine.PriorityPlayer,
		Payload:   enq.Payload,
		Timestamp: time.Now().UnixMilli(),
		Step:      enq.Step,
	}
	if !s.rt.EnqueueAsync(cmd) {
		return reject(protocol.ErrQueueFull, "runtime inbox full")
	}
	return resultMsg(protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           enq.ReqID,
		Accepted:        true,
		Step:            s.rt.CurrentStep(),
	})
}

func (s *Server) stateMsg() protocol.StateMsg {
	snap := s.rt.StateSnapshot()
	resources := make([]protocol.ResourceState, 0, len(snap.Resources))
	for _, r := range snap.Resources {
		if !r.Visible {
			continue
		}
		rs := protocol.ResourceState{
			ID:       r.ID,
			Amount:   r.Amount,
			Unlocked: r.Unlocked,
			Visible:  r.Visible,
		}
		if r.Capacity > 0 && !math.IsInf(r.Capacity, 1) {
			rs.Capacity = r.Capacity
		}
		resources = append(resources, rs)
	}
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Step:            snap.Step,
		Checksum:        snap.Checksum,
		Resources:       resources,
	}
}

func (sess *session) send(b []byte) {
	select {
	case sess.out <- b:
	default:
	}
}

func errorMsg(code, message string) []byte {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	return b
}

func resultMsg(m protocol.ResultMsg) []byte {
	b, _ := json.Marshal(m)
	return b
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(conn, b)
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
