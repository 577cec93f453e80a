package juggernaut

import (
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Dispatcher — interprets decoded commands and drives the registry. Commands
// and subtypes are closed enums; anything outside them maps to the matching
// error and closes the connection.
// ---------------------------------------------------------------------------

type command int

const (
	cmdUnknown command = iota
	cmdSubscribe
	cmdBroadcast
	cmdQuery
	cmdNoop
)

func parseCommand(s string) command {
	switch s {
	case "subscribe":
		return cmdSubscribe
	case "broadcast":
		return cmdBroadcast
	case "query":
		return cmdQuery
	case "noop":
		return cmdNoop
	}
	return cmdUnknown
}

type broadcastType int

const (
	btUnknown broadcastType = iota
	btToChannels
	btToClients
)

func parseBroadcastType(s string) broadcastType {
	switch s {
	case "to_channels":
		return btToChannels
	case "to_clients":
		return btToClients
	}
	return btUnknown
}

type queryType int

const (
	qtUnknown queryType = iota
	qtRemoveChannelsFromAllClients
	qtRemoveChannelsFromClient
	qtShowChannelsForClient
	qtShowClients
	qtShowClient
	qtShowClientsForChannels
)

func parseQueryType(s string) queryType {
	switch s {
	case "remove_channels_from_all_clients":
		return qtRemoveChannelsFromAllClients
	case "remove_channels_from_client":
		return qtRemoveChannelsFromClient
	case "show_channels_for_client":
		return qtShowChannelsForClient
	case "show_clients":
		return qtShowClients
	case "show_client":
		return qtShowClient
	case "show_clients_for_channels":
		return qtShowClientsForChannels
	}
	return qtUnknown
}

type Dispatcher struct {
	opts     Options
	registry *Registry
	gate     *AuthGate
	notifier Notifier
	logger   *zap.Logger
}

func NewDispatcher(opts Options, registry *Registry, gate *AuthGate, notifier Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{
		opts:     opts,
		registry: registry,
		gate:     gate,
		notifier: notifier,
		logger:   logger,
	}
}

// Dispatch processes one complete frame, run to completion. It reports false
// when the connection must close: a protocol error, or the policy-file
// handshake (which is answered and then ends the connection).
func (d *Dispatcher) Dispatch(c *Connection, frame []byte) bool {
	if string(frame) == policyRequest {
		d.logger.Debug("sending cross-domain policy", zap.String("signature", c.Signature()))
		c.writer.send(policyResponse(d.opts.PublicPort))
		return false
	}

	req, derr := decodeRequest(frame)
	if derr == nil {
		switch parseCommand(req.Command) {
		case cmdSubscribe:
			derr = d.subscribe(c, req)
		case cmdBroadcast:
			derr = d.broadcast(c, req)
		case cmdQuery:
			derr = d.query(c, req)
		case cmdNoop:
			d.logger.Debug("noop", zap.String("signature", c.Signature()))
		default:
			derr = newError(InvalidCommand, string(frame))
		}
	}

	if derr != nil {
		d.logger.Error("closing connection",
			zap.String("code", derr.Code.String()),
			zap.String("frame", string(frame)),
			zap.String("remote", c.RemoteIP()))
		return false
	}
	return true
}

// subscribe adds the requested channels, binds the connection to its logical
// client, runs the subscription-authorization hook, and finally replays any
// queued messages scoped to this connection.
func (d *Dispatcher) subscribe(c *Connection, req *request) *Error {
	c.AddChannels(req.Channels)

	client, replay := d.registry.FindOrCreate(c, req.ClientID, req.SessionID)

	if !d.notifier.Subscription(client.ID(), client.SessionID(), c.Channels()) {
		return newError(UnauthorisedSubscription, req.ClientID)
	}

	if d.opts.StoreMessages {
		for _, m := range replay {
			if len(m.channels) == 0 || c.HasChannels(m.channels) {
				c.Broadcast(m.body)
			}
		}
	}
	return nil
}

func (d *Dispatcher) broadcast(c *Connection, req *request) *Error {
	if req.Type == "" {
		return newError(MalformedBroadcast, "missing type")
	}
	if !d.gate.Authorize(req, c.RemoteIP()) {
		return newError(UnauthorisedBroadcast, req.Type)
	}

	switch parseBroadcastType(req.Type) {
	case btToChannels:
		// A blank channel list broadcasts to everybody.
		d.registry.BroadcastToChannels(req.Body, req.Channels, c.Signature())
	case btToClients:
		if len(req.ClientIDs) == 0 {
			return newError(MalformedBroadcast, "missing client_ids")
		}
		d.registry.BroadcastToClients(req.ClientIDs, req.Body, req.Channels, c.Signature())
	default:
		return newError(MalformedBroadcast, req.Type)
	}
	return nil
}

// query answers only to the querying connection, never broadcast.
func (d *Dispatcher) query(c *Connection, req *request) *Error {
	if req.Type == "" {
		return newError(MalformedQuery, "missing type")
	}
	if !d.gate.Authorize(req, c.RemoteIP()) {
		return newError(UnauthorisedQuery, req.Type)
	}

	switch parseQueryType(req.Type) {
	case qtRemoveChannelsFromAllClients:
		if len(req.Channels) == 0 {
			return newError(MalformedQuery, "missing channels")
		}
		for _, client := range d.registry.All() {
			client.RemoveChannels(req.Channels)
		}

	case qtRemoveChannelsFromClient:
		if len(req.ClientIDs) == 0 {
			return newError(MalformedQuery, "missing client_ids")
		}
		if len(req.Channels) == 0 {
			return newError(MalformedQuery, "missing channels")
		}
		for _, id := range req.ClientIDs {
			if client := d.registry.FindByID(id); client != nil {
				client.RemoveChannels(req.Channels)
			}
		}

	case qtShowChannelsForClient:
		if req.ClientID == "" {
			return newError(MalformedQuery, "missing client_id")
		}
		if client := d.registry.FindByID(req.ClientID); client != nil {
			channels := client.Channels()
			if channels == nil {
				channels = []string{}
			}
			c.publishJSON(channels)
		} else {
			c.publishJSON(nil)
		}

	case qtShowClients:
		var infos []ClientInfo
		if len(req.ClientIDs) > 0 {
			// Unresolvable ids are silently dropped.
			for _, id := range req.ClientIDs {
				if client := d.registry.FindByID(id); client != nil {
					infos = append(infos, client.Info())
				}
			}
		} else {
			for _, client := range d.registry.All() {
				infos = append(infos, client.Info())
			}
		}
		if infos == nil {
			infos = []ClientInfo{}
		}
		c.publishJSON(infos)

	case qtShowClient:
		if req.ClientID == "" {
			return newError(MalformedQuery, "missing client_id")
		}
		if client := d.registry.FindByID(req.ClientID); client != nil {
			c.publishJSON(client.Info())
		} else {
			c.publishJSON(nil)
		}

	case qtShowClientsForChannels:
		if len(req.Channels) == 0 {
			return newError(MalformedQuery, "missing channels")
		}
		infos := []ClientInfo{}
		for _, client := range d.registry.FindByChannels(req.Channels) {
			infos = append(infos, client.Info())
		}
		c.publishJSON(infos)

	default:
		return newError(MalformedQuery, req.Type)
	}
	return nil
}
