package juggernaut

// ---------------------------------------------------------------------------
// AuthGate — the layered, fail-closed broadcast/query authorization policy.
// Decision order, first match wins:
//
//  1. peer address on the configured IP allowlist
//  2. no secret on the request and a login callback configured → the
//     callback decides
//  3. request secret matches the configured shared secret
//  4. nothing configured at all → open mode (trusted deployments)
//  5. otherwise unauthorized
//
// Subscription authorization is a separate hook on the Notifier and does not
// pass through here.
// ---------------------------------------------------------------------------

type AuthGate struct {
	opts     Options
	notifier Notifier
	allowed  map[string]struct{}
}

func NewAuthGate(opts Options, notifier Notifier) *AuthGate {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	gate := &AuthGate{
		opts:     opts,
		notifier: notifier,
		allowed:  make(map[string]struct{}, len(opts.AllowedIPs)),
	}
	for _, ip := range opts.AllowedIPs {
		gate.allowed[ip] = struct{}{}
	}
	return gate
}

// Authorize decides one broadcast or query request from the given peer.
func (g *AuthGate) Authorize(req *request, peerIP string) bool {
	if len(g.allowed) > 0 {
		if _, ok := g.allowed[peerIP]; ok {
			return true
		}
	}
	if req.SecretKey == "" && g.opts.BroadcastQueryLoginURL != "" {
		return g.notifier.BroadcastQueryLogin(req.ClientID, req.SessionID, req.Type, req.Command, req.Channels)
	}
	if g.opts.SecretKey != "" && req.SecretKey == g.opts.SecretKey {
		return true
	}
	if len(g.allowed) == 0 && g.opts.SecretKey == "" && g.opts.BroadcastQueryLoginURL == "" {
		return true
	}
	return false
}
