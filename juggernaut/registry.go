package juggernaut

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Registry — the one shared mutable structure: the client table plus a
// signature index for reverse lookup. Constructed once at startup and handed
// to the dispatcher and the sweeper; there is no ambient global state.
//
// Lock order is registry → client and never the reverse. Outbound logout
// notifications fire after the locks are released, but always after the
// record they describe has been updated.
// ---------------------------------------------------------------------------

type Registry struct {
	opts     Options
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time // injectable for grace-timeout tests

	mu      sync.Mutex
	clients []*Client // insertion order; also the fan-out iteration order
	bySig   map[string]*Client
}

func NewRegistry(opts Options, notifier Notifier, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Registry{
		opts:     opts,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		bySig:    make(map[string]*Client),
	}
}

// FindOrCreate attaches the connection to the client registered under the
// request's client id, creating and registering a new client when no such id
// exists (or when the request is anonymous). The returned replay slice is
// the offline-queue snapshot taken atomically at attach time; the dispatcher
// replays it only once the subscription is authorized.
func (r *Registry) FindOrCreate(conn *Connection, clientID, sessionID string) (*Client, []queuedMessage) {
	r.mu.Lock()
	if clientID != "" {
		if client := r.findByIDLocked(clientID); client != nil {
			r.bySig[conn.Signature()] = client
			replay := client.attach(conn, sessionID, r.opts.StoreMessages, r.now())
			r.mu.Unlock()
			return client, replay
		}
	}
	client := newClient(clientID, sessionID, conn)
	r.clients = append(r.clients, client)
	r.bySig[conn.Signature()] = client
	r.mu.Unlock()
	return client, nil
}

// FindByID returns the client registered under id, or nil. Anonymous clients
// are never found this way.
func (r *Registry) FindByID(id string) *Client {
	if id == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByIDLocked(id)
}

func (r *Registry) findByIDLocked(id string) *Client {
	for _, client := range r.clients {
		if client.id == id {
			return client
		}
	}
	return nil
}

// FindBySignature answers which client owns the connection with this
// signature, or nil.
func (r *Registry) FindBySignature(signature string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySig[signature]
}

// FindByChannels returns every client with at least one connection
// subscribing to all the requested channels.
func (r *Registry) FindByChannels(channels []string) []*Client {
	var found []*Client
	for _, client := range r.All() {
		if client.HasChannels(channels) {
			found = append(found, client)
		}
	}
	return found
}

func (r *Registry) FindByIDAndChannels(id string, channels []string) *Client {
	client := r.FindByID(id)
	if client != nil && client.HasChannels(channels) {
		return client
	}
	return nil
}

// All returns a registration-order snapshot of the client table.
func (r *Registry) All() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Client(nil), r.clients...)
}

// Detach removes the connection from its client, resets the client's grace
// deadline to now plus the configured timeout, and finalizes immediately if
// the client is already dead and past the deadline (zero-length timeout).
func (r *Registry) Detach(client *Client, conn *Connection) {
	r.mu.Lock()
	delete(r.bySig, conn.Signature())
	r.mu.Unlock()

	now := r.now()
	if client.detach(conn, now.Add(r.opts.Timeout), now) {
		r.finalize(client, now)
	}
}

// Sweep finalizes every client whose grace period has elapsed with no live
// connections left. Runs on the cleanup timer.
func (r *Registry) Sweep() {
	now := r.now()
	for _, client := range r.All() {
		if client.giveUp(now) {
			r.finalize(client, now)
		}
	}
}

// ShutdownAll unconditionally fires the logout notification for every
// registered client and clears the registry. Process shutdown only.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = nil
	r.bySig = make(map[string]*Client)
	r.mu.Unlock()

	for _, client := range clients {
		r.notifier.Logout(client.ID(), client.SessionID())
	}
}

// finalize unregisters the client and fires the logout notification. The
// give-up condition is re-verified under the registry lock: FindOrCreate
// attaches under the same lock, so a reconnect landing between the sweep
// decision and the removal keeps the client registered. The notification is
// attempted after the record is gone so a slow callback cannot hold the
// registry.
func (r *Registry) finalize(client *Client, now time.Time) {
	r.mu.Lock()
	if !client.giveUp(now) {
		r.mu.Unlock()
		return
	}
	found := false
	kept := r.clients[:0]
	for _, have := range r.clients {
		if have != client {
			kept = append(kept, have)
		} else {
			found = true
		}
	}
	r.clients = kept
	r.mu.Unlock()

	if !found {
		// Another path already finalized it.
		return
	}
	r.logger.Debug("client timed out",
		zap.String("client_id", client.ID()),
		zap.String("session_id", client.SessionID()))
	r.notifier.Logout(client.ID(), client.SessionID())
}

// SendMessage fans one broadcast body out to the client's connections,
// filtered by the requested channels (empty means no scoping). With offline
// queueing enabled a copy lands in the pending queue first, stamped with its
// own expiry.
func (r *Registry) SendMessage(client *Client, body json.RawMessage, channels []string, origin string) {
	var conns []*Connection
	if r.opts.StoreMessages {
		now := r.now()
		conns = client.enqueue(body, channels, now.Add(r.opts.Timeout), now)
	} else {
		conns = client.conns()
	}
	for _, conn := range conns {
		if len(channels) == 0 || conn.HasChannels(channels) {
			conn.Deliver(body, origin)
		}
	}
}

// BroadcastToChannels delivers to every registered client, scoped by
// channels. Iteration order is registration order.
func (r *Registry) BroadcastToChannels(body json.RawMessage, channels []string, origin string) {
	for _, client := range r.All() {
		r.SendMessage(client, body, channels, origin)
	}
}

// BroadcastToClients delivers to each named client, scoped by channels.
// Unknown ids are skipped.
func (r *Registry) BroadcastToClients(ids []string, body json.RawMessage, channels []string, origin string) {
	for _, id := range ids {
		if client := r.FindByID(id); client != nil {
			r.SendMessage(client, body, channels, origin)
		}
	}
}
