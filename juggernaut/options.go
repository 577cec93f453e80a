package juggernaut

import "time"

// Options is the configuration surface the broker core consumes. The caller
// (cmd/juggernautd, or a test) is responsible for producing it; the core
// never reads config files or ambient state itself.
type Options struct {
	// Host and Port are the TCP listen address.
	Host string
	Port int

	// PublicPort is substituted into the cross-domain policy response.
	// Defaults to Port (relevant only behind port forwarding).
	PublicPort int

	// WSPort, when non-zero, additionally serves the same protocol over
	// WebSocket on this port.
	WSPort int

	// Timeout is both the reconnect grace period and the offline-queue
	// entry lifetime.
	Timeout time.Duration

	// CleanupTimer is the sweep interval for finalizing timed-out clients.
	CleanupTimer time.Duration

	// StoreMessages enables the per-client offline message queue.
	StoreMessages bool

	// AllowedIPs is the broadcast/query allowlist, pre-resolved to
	// addresses by the config loader.
	AllowedIPs []string

	// SecretKey, when set, authorizes any broadcast/query carrying it.
	SecretKey string

	// Outbound callback hooks. Empty means the hook is not configured.
	BroadcastQueryLoginURL string
	SubscriptionURL        string
	LogoutURL              string
	LogoutConnectionURL    string

	// PostRequestTimeout bounds every outbound callback.
	PostRequestTimeout time.Duration
}

// withDefaults fills the zero fields with the stock deployment defaults.
func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.PublicPort == 0 {
		o.PublicPort = o.Port
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.CleanupTimer == 0 {
		o.CleanupTimer = 2 * time.Second
	}
	if o.PostRequestTimeout == 0 {
		o.PostRequestTimeout = 5 * time.Second
	}
	return o
}
