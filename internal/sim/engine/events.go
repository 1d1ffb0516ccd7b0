package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"idleforge.dev/internal/telemetry"
)

// BusConfig sizes every channel created on demand. SoftLimit must sit below
// Capacity; crossing it warns (rate-limited per channel), exceeding Capacity
// drops the event.
type BusConfig struct {
	Capacity          int
	SoftLimit         int
	WarnCooldownTicks uint64
	SlowHandlerBudget time.Duration
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Capacity:          256,
		SoftLimit:         192,
		WarnCooldownTicks: 50,
		SlowHandlerBudget: 2 * time.Millisecond,
	}
}

func (c BusConfig) normalized() BusConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultBusConfig().Capacity
	}
	if c.SoftLimit <= 0 || c.SoftLimit >= c.Capacity {
		c.SoftLimit = c.Capacity * 3 / 4
	}
	if c.SlowHandlerBudget <= 0 {
		c.SlowHandlerBudget = DefaultBusConfig().SlowHandlerBudget
	}
	return c
}

// PublishResult tells the producer what happened and how loaded the channel
// is, so it can throttle before events start dropping.
type PublishResult struct {
	Accepted    bool `json:"accepted"`
	Occupancy   int  `json:"occupancy"`
	Remaining   int  `json:"remaining"`
	SoftLimited bool `json:"softLimited"`
}

// BusCounters are per-tick; Flush hands them to telemetry and resets them.
type BusCounters struct {
	Published   uint64 `json:"published"`
	SoftLimited uint64 `json:"softLimited"`
	Overflowed  uint64 `json:"overflowed"`
	Subscribers uint64 `json:"subscribers"`
}

type Subscriber func(EventEnvelope)

type busSubscriber struct {
	id int
	fn Subscriber
}

type busChannel struct {
	name string

	buf   []EventEnvelope // ring
	head  int
	count int

	nextOrder    uint64
	lastWarnTick uint64
	everWarned   bool

	counters BusCounters

	subs   []busSubscriber
	nextID int
}

// EventBus is a bounded multi-channel publish/subscribe hub. Publishing
// buffers; Flush delivers. Single-threaded like the rest of the core.
type EventBus struct {
	cfg      BusConfig
	channels map[string]*busChannel
	sink     telemetry.Sink
}

func NewEventBus(cfg BusConfig, sink telemetry.Sink) *EventBus {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &EventBus{cfg: cfg.normalized(), channels: map[string]*busChannel{}, sink: sink}
}

func (b *EventBus) channel(name string) *busChannel {
	ch := b.channels[name]
	if ch == nil {
		ch = &busChannel{
			name: name,
			buf:  make([]EventEnvelope, b.cfg.Capacity),
		}
		b.channels[name] = ch
	}
	return ch
}

// Publish buffers an event on channel. The envelope's DispatchOrder is
// assigned here, in publish order, so per-channel ordering survives any
// downstream fan-out.
func (b *EventBus) Publish(tick uint64, channel, eventType string, payload json.RawMessage) PublishResult {
	ch := b.channel(channel)

	if ch.count >= b.cfg.Capacity {
		ch.counters.Overflowed++
		return PublishResult{
			Accepted:    false,
			Occupancy:   ch.count,
			Remaining:   0,
			SoftLimited: true,
		}
	}

	env := EventEnvelope{
		Channel:       channel,
		Type:          eventType,
		Tick:          tick,
		DispatchOrder: ch.nextOrder,
		Payload:       payload,
	}
	ch.nextOrder++
	ch.buf[(ch.head+ch.count)%len(ch.buf)] = env
	ch.count++
	ch.counters.Published++

	soft := ch.count > b.cfg.SoftLimit
	if soft {
		ch.counters.SoftLimited++
		if !ch.everWarned || tick-ch.lastWarnTick >= b.cfg.WarnCooldownTicks {
			ch.everWarned = true
			ch.lastWarnTick = tick
			b.sink.RecordWarning("eventbus",
				fmt.Sprintf("channel %s above soft limit: %d/%d", channel, ch.count, b.cfg.Capacity))
		}
	}

	return PublishResult{
		Accepted:    true,
		Occupancy:   ch.count,
		Remaining:   b.cfg.Capacity - ch.count,
		SoftLimited: soft,
	}
}

// Subscribe registers fn on channel and returns an id for Unsubscribe.
func (b *EventBus) Subscribe(channel string, fn Subscriber) int {
	ch := b.channel(channel)
	id := ch.nextID
	ch.nextID++
	ch.subs = append(ch.subs, busSubscriber{id: id, fn: fn})
	return id
}

func (b *EventBus) Unsubscribe(channel string, id int) {
	ch := b.channels[channel]
	if ch == nil {
		return
	}
	for i, s := range ch.subs {
		if s.id == id {
			ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
			return
		}
	}
}

// Depth reports current buffer occupancy for diagnostics.
func (b *EventBus) Depth(channel string) int {
	if ch := b.channels[channel]; ch != nil {
		return ch.count
	}
	return 0
}

// Flush delivers every buffered event to that channel's subscribers, in
// (channel name, dispatch order). A handler that blows the time budget is
// flagged through telemetry but the remaining subscribers still run.
func (b *EventBus) Flush(tick uint64) {
	names := make([]string, 0, len(b.channels))
	for name, ch := range b.channels {
		if ch.count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ch := b.channels[name]
		for ch.count > 0 {
			env := ch.buf[ch.head]
			ch.buf[ch.head] = EventEnvelope{}
			ch.head = (ch.head + 1) % len(ch.buf)
			ch.count--
			for _, s := range ch.subs {
				start := time.Now()
				s.fn(env)
				if d := time.Since(start); d > b.cfg.SlowHandlerBudget {
					b.sink.RecordWarning("eventbus",
						fmt.Sprintf("slow subscriber on %s: %s > %s", name, d, b.cfg.SlowHandlerBudget))
				}
			}
		}
	}
}

// TickCounters returns per-channel counters for the tick and resets them.
func (b *EventBus) TickCounters() map[string]BusCounters {
	out := make(map[string]BusCounters, len(b.channels))
	for name, ch := range b.channels {
		c := ch.counters
		c.Subscribers = uint64(len(ch.subs))
		out[name] = c
		ch.counters = BusCounters{}
	}
	return out
}
