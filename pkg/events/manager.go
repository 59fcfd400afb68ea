package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events replayed on (re)subscribe.
// If more events were missed, a catchup.overflow message tells the client to
// do a full REST reload instead of paginating.
const catchupLimit = 200

// listenTimeout bounds how long a LISTEN command may block when subscribing
// to a new PG channel.
const listenTimeout = 10 * time.Second

// sendBufferSize bounds how many undelivered notifications a slow SSE
// subscriber may accumulate before new ones are dropped.
const sendBufferSize = 64

// CatchupEvent holds the data returned by the catchup query.
type CatchupEvent struct {
	ID      int
	Payload map[string]interface{}
}

// CatchupQuerier queries events for catchup. Implemented by EventService.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// ConnectionManager fans Loop Engine and Forge notifications out to Server-
// Sent Events subscribers. Each Go process (API replica) holds one instance.
type ConnectionManager struct {
	// Active subscriptions: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	catchupQuerier CatchupQuerier

	listener   *NotifyListener
	listenerMu sync.RWMutex
}

// Connection is one subscriber's SSE stream. The owning HTTP handler reads
// from Send and writes each payload as an SSE frame until ctx is done.
type Connection struct {
	ID      string
	Channel string
	Send    chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchupQuerier CatchupQuerier) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener
// are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// Subscribe opens a subscription to channel, replays events missed since
// lastEventID (0 replays nothing), and returns a Connection whose Send
// channel receives subsequent broadcasts. The caller — normally the HTTP
// handler serving GET .../events — must call Unsubscribe when the client's
// request context ends.
func (m *ConnectionManager) Subscribe(ctx context.Context, channel string, lastEventID int) (*Connection, error) {
	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		ID:      uuid.New().String(),
		Channel: channel,
		Send:    make(chan []byte, sendBufferSize),
		ctx:     connCtx,
		cancel:  cancel,
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	if err := m.subscribeChannel(c); err != nil {
		m.mu.Lock()
		delete(m.connections, c.ID)
		m.mu.Unlock()
		cancel()
		return nil, err
	}

	m.replayCatchup(connCtx, c, lastEventID)
	return c, nil
}

// subscribeChannel registers c against its channel and starts LISTEN if it
// is the first subscriber. LISTEN is synchronous so it completes before
// Subscribe returns, closing the gap where events published between
// catchup and LISTEN would be lost.
func (m *ConnectionManager) subscribeChannel(c *Connection) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[c.Channel]; !exists {
		m.channels[c.Channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[c.Channel][c.ID] = true
	m.channelMu.Unlock()

	if !needsListen {
		return nil
	}

	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return nil
	}

	listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
	defer listenCancel()
	if err := l.Subscribe(listenCtx, c.Channel); err != nil {
		slog.Error("failed to LISTEN on channel", "channel", c.Channel, "error", err)
		m.cleanupFailedChannel(c.Channel)
		return fmt.Errorf("LISTEN on channel %s: %w", c.Channel, err)
	}
	return nil
}

// cleanupFailedChannel removes and closes ALL subscribers registered against
// a channel after its LISTEN failed.
//
// Between unlocking channelMu (after creating the channel entry) and
// l.Subscribe completing, other goroutines may have subscribed to the same
// channel; seeing the channel already existed, they skipped LISTEN and
// returned success. Those connections are now orphaned. Cancelling their
// context ends their SSE stream — EventSource clients auto-reconnect and
// retry Subscribe.
func (m *ConnectionManager) cleanupFailedChannel(channel string) {
	m.channelMu.Lock()
	ids := make([]string, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		ids = append(ids, id)
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		slog.Warn("closing orphaned SSE subscriber after LISTEN failure",
			"connection_id", c.ID, "channel", channel)
		c.cancel()
	}
}

// Unsubscribe removes a connection from its channel, stopping LISTEN if it
// was the last subscriber, and cancels the connection's context.
func (m *ConnectionManager) Unsubscribe(c *Connection) {
	m.channelMu.Lock()
	if subs, exists := m.channels[c.Channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, c.Channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				channel := c.Channel
				// The goroutine re-checks m.channels before issuing UNLISTEN
				// to prevent a race where a rapid unsubscribe/resubscribe
				// cycle would drop the LISTEN:
				//   subscribe → LISTEN active
				//   unsubscribe → goroutine: UNLISTEN (deferred)
				//   resubscribe → channel re-added to m.channels
				//   goroutine → sees resubscribed → skips UNLISTEN
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
}

// Broadcast sends an event payload to every connection subscribed to the
// given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// delivering. This avoids holding mu.RLock while a slow subscriber's
	// buffer backs up, which would stall connection register/unregister
	// operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.deliver(c, event)
	}
}

// deliver pushes payload onto c.Send without blocking. A full buffer means
// the subscriber's HTTP handler isn't draining fast enough; the event is
// dropped and logged rather than stalling the broadcaster.
func (m *ConnectionManager) deliver(c *Connection, payload []byte) {
	select {
	case c.Send <- payload:
	case <-c.ctx.Done():
	default:
		slog.Warn("dropping event, SSE subscriber buffer full",
			"connection_id", c.ID, "channel", c.Channel)
	}
}

// ActiveConnections returns the count of active SSE subscriptions.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// replayCatchup sends missed events since lastEventID to a freshly
// subscribed connection.
func (m *ConnectionManager) replayCatchup(ctx context.Context, c *Connection, lastEventID int) {
	if m.catchupQuerier == nil {
		return
	}

	evts, err := m.catchupQuerier.GetCatchupEvents(ctx, c.Channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("catchup query failed", "channel", c.Channel, "error", err)
		return
	}

	hasMore := len(evts) > catchupLimit
	if hasMore {
		evts = evts[:catchupLimit]
	}

	// Inject db_event_id for position tracking — the stored payload doesn't
	// contain it (only the NOTIFY payload does, added at publish time).
	for _, evt := range evts {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		m.deliver(c, payload)
	}

	if hasMore {
		overflow, err := json.Marshal(map[string]any{
			"type": "catchup.overflow", "channel": c.Channel, "has_more": true,
		})
		if err == nil {
			m.deliver(c, overflow)
		}
	}
}
