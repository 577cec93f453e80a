package juggernaut

import (
	"encoding/json"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Client — a logical identity aggregating one or more physical connections.
// Keyed by the application-supplied client id; anonymous clients carry only a
// session id and are reachable by connection signature, never by id.
// ---------------------------------------------------------------------------

type Client struct {
	id string

	mu            sync.Mutex
	sessionID     string
	connections   []*Connection // insertion order = first seen
	graceDeadline time.Time
	pending       []queuedMessage
}

// queuedMessage is one offline-queue entry. Entries expire independently of
// the live message they were copied from.
type queuedMessage struct {
	body     json.RawMessage
	channels []string
	expiry   time.Time
}

// ClientInfo is the query-reply summary of one registered client.
type ClientInfo struct {
	ClientID       string `json:"client_id"`
	SessionID      string `json:"session_id"`
	NumConnections int    `json:"num_connections"`
}

func newClient(id, sessionID string, conn *Connection) *Client {
	return &Client{
		id:          id,
		sessionID:   sessionID,
		connections: []*Connection{conn},
	}
}

// ID is the application-supplied identity, empty for anonymous clients.
func (c *Client) ID() string { return c.id }

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Alive reports whether at least one owned connection is still open.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

func (c *Client) aliveLocked() bool {
	for _, conn := range c.connections {
		if conn.Alive() {
			return true
		}
	}
	return false
}

// HasChannels reports whether any single owned connection subscribes to
// every requested channel.
func (c *Client) HasChannels(channels []string) bool {
	for _, conn := range c.conns() {
		if conn.HasChannels(channels) {
			return true
		}
	}
	return false
}

// Channels is the union of channels across all owned connections.
func (c *Client) Channels() []string {
	var union []string
	for _, conn := range c.conns() {
		for _, name := range conn.Channels() {
			if !contains(union, name) {
				union = append(union, name)
			}
		}
	}
	return union
}

// RemoveChannels strips the named channels from every owned connection.
func (c *Client) RemoveChannels(channels []string) {
	for _, conn := range c.conns() {
		conn.RemoveChannels(channels)
	}
}

// Info builds the query-reply summary.
func (c *Client) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ClientID:       c.id,
		SessionID:      c.sessionID,
		NumConnections: len(c.connections),
	}
}

func (c *Client) conns() []*Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Connection(nil), c.connections...)
}

// attach adds a connection and refreshes the session id. When queueing is
// enabled it also snapshots the pending queue: that snapshot, taken
// atomically with the attach, is exactly the replay set for the new
// connection — entries enqueued later reach it through normal fan-out.
func (c *Client) attach(conn *Connection, sessionID string, queueing bool, now time.Time) []queuedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.connections = append(c.connections, conn)
	if !queueing {
		return nil
	}
	c.pruneLocked(now)
	return append([]queuedMessage(nil), c.pending...)
}

// detach removes the connection and resets the grace deadline. Reports
// whether the client is already past the point of giving up.
func (c *Client) detach(conn *Connection, deadline, now time.Time) (giveUp bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.connections[:0]
	for _, have := range c.connections {
		if have != conn {
			kept = append(kept, have)
		}
	}
	c.connections = kept
	c.graceDeadline = deadline
	return !c.aliveLocked() && now.After(c.graceDeadline)
}

// giveUp reports whether the client has zero live connections and the grace
// period has elapsed. Within the grace window the user may just be loading
// the next page.
func (c *Client) giveUp(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.aliveLocked() && now.After(c.graceDeadline)
}

// enqueue stores one offline copy of a broadcast, pruning expired entries
// first. Returns the connection snapshot for the live fan-out.
func (c *Client) enqueue(body json.RawMessage, channels []string, expiry, now time.Time) []*Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	c.pending = append(c.pending, queuedMessage{body: body, channels: channels, expiry: expiry})
	return append([]*Connection(nil), c.connections...)
}

func (c *Client) pruneLocked(now time.Time) {
	kept := c.pending[:0]
	for _, m := range c.pending {
		if now.Before(m.expiry) {
			kept = append(kept, m)
		}
	}
	c.pending = kept
}
