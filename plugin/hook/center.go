// Package hook lets content filters and observers attach to the message
// pipeline without the chat handler knowing about them.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrInterrupt signals that a hook rejects the event. Handlers return it
// directly or through Interrupt to attach a reason.
var ErrInterrupt = errors.New("hook interrupted")

// Interrupted carries the reason a hook rejected an event.
type Interrupted struct {
	Hook   string
	Reason string
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("hook %s interrupted: %s", e.Hook, e.Reason)
}

func (e *Interrupted) Is(target error) bool { return target == ErrInterrupt }

// Interrupt returns an error that stops the chain with reason.
func Interrupt(reason string) error {
	return &Interrupted{Reason: reason}
}

// ReasonOf returns the reason attached to an interrupt, or "" for a bare
// ErrInterrupt.
func ReasonOf(err error) string {
	var ie *Interrupted
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// HookFn is a hook handler. It returns the possibly rewritten data. Returning
// an error matching ErrInterrupt stops the chain; any other error is logged
// and the chain continues with the data the handler received.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	seq      uint64
	fn       HookFn
	name     string
}

// HookCenter manages hook registrations per event.
type HookCenter struct {
	mu     sync.RWMutex
	hooks  map[string][]*hookEntry
	seq    uint64
	logger *zap.Logger
}

// NewHookCenter creates a HookCenter. logger may be nil.
func NewHookCenter(logger *zap.Logger) *HookCenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookCenter{hooks: make(map[string][]*hookEntry), logger: logger}
}

// Register adds fn for event. Lower priorities run first; equal priorities
// run in registration order.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.seq++
	entries := append(hc.hooks[event], &hookEntry{priority: priority, seq: hc.seq, fn: fn, name: name})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	hc.hooks[event] = entries
}

// Unregister removes the hooks called name from event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = without(hc.hooks[event], name)
}

// UnregisterAll removes the hooks called name from every event.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = without(entries, name)
	}
}

func without(entries []*hookEntry, name string) []*hookEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	return out
}

// Names lists the hooks registered for event in execution order.
func (hc *HookCenter) Names(event string) []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, len(hc.hooks[event]))
	for i, e := range hc.hooks[event] {
		names[i] = e.name
	}
	return names
}

// Trigger runs the hooks for event in order, threading data through them.
// It returns the first interrupt, with the hook name filled in.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := hc.call(ctx, e, event, data)
		if errors.Is(err, ErrInterrupt) {
			var ie *Interrupted
			if errors.As(err, &ie) && ie.Hook == "" {
				ie.Hook = e.name
			}
			return out, err
		}
		if err != nil {
			hc.logger.Warn("hook failed",
				zap.String("event", event),
				zap.String("hook", e.name),
				zap.Error(err))
			continue
		}
		data = out
	}
	return data, nil
}

func (hc *HookCenter) call(ctx context.Context, e *hookEntry, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = data, fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return e.fn(ctx, event, data)
}

// Events raised by the chat handler.
const (
	// BeforeMessagePersist receives a *MessageDraft; handlers may rewrite
	// Content or interrupt to reject the message.
	BeforeMessagePersist = "before_message_persist"
	// AfterMessagePersist receives the persisted *model.Message.
	AfterMessagePersist = "after_message_persist"
	// OnConnect and OnDisconnect receive the character id.
	OnConnect    = "on_connect"
	OnDisconnect = "on_disconnect"
)

// MessageDraft is the mutable payload of BeforeMessagePersist.
type MessageDraft struct {
	ChannelID int64
	SenderID  int64
	Content   string
}
