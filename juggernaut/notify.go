package juggernaut

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Notifier is the outbound HTTP callback collaborator. Every call is
// attempted once with a bounded timeout; any non-200, timeout or network
// error is logged and reported as false, never raised. Hooks whose URL is
// not configured succeed trivially — except the broadcast/query login check,
// which the auth gate only consults when its URL is set.
type Notifier interface {
	// Subscription authorizes a subscribe; fired with the connection's
	// full channel set.
	Subscription(clientID, sessionID string, channels []string) bool

	// LogoutConnection fires on per-connection detach, scoped to that
	// connection's channels.
	LogoutConnection(clientID, sessionID string, channels []string) bool

	// Logout fires on full client finalization.
	Logout(clientID, sessionID string) bool

	// BroadcastQueryLogin is the delegated broadcast/query authorization
	// check.
	BroadcastQueryLogin(clientID, sessionID, reqType, command string, channels []string) bool
}

// NopNotifier approves everything and calls nothing. Stands in when no
// callback URLs are configured, and in tests.
type NopNotifier struct{}

func (NopNotifier) Subscription(string, string, []string) bool     { return true }
func (NopNotifier) LogoutConnection(string, string, []string) bool { return true }
func (NopNotifier) Logout(string, string) bool                     { return true }
func (NopNotifier) BroadcastQueryLogin(string, string, string, string, []string) bool {
	return false
}

// HTTPNotifier performs the callbacks over HTTP with the configured
// post_request_timeout.
type HTTPNotifier struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

func NewHTTPNotifier(opts Options, logger *zap.Logger) *HTTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.PostRequestTimeout},
		logger: logger,
	}
}

func (n *HTTPNotifier) Subscription(clientID, sessionID string, channels []string) bool {
	if n.opts.SubscriptionURL == "" {
		return true
	}
	return n.post(n.opts.SubscriptionURL, clientID, sessionID, channels)
}

func (n *HTTPNotifier) LogoutConnection(clientID, sessionID string, channels []string) bool {
	if n.opts.LogoutConnectionURL == "" {
		return true
	}
	return n.post(n.opts.LogoutConnectionURL, clientID, sessionID, channels)
}

func (n *HTTPNotifier) Logout(clientID, sessionID string) bool {
	if n.opts.LogoutURL == "" {
		return true
	}
	return n.post(n.opts.LogoutURL, clientID, sessionID, nil)
}

func (n *HTTPNotifier) BroadcastQueryLogin(clientID, sessionID, reqType, command string, channels []string) bool {
	if n.opts.BroadcastQueryLoginURL == "" {
		return false
	}
	target, err := url.Parse(n.opts.BroadcastQueryLoginURL)
	if err != nil {
		n.logger.Error("bad broadcast_query_login_url",
			zap.String("url", n.opts.BroadcastQueryLoginURL), zap.Error(err))
		return false
	}
	params := callbackParams(clientID, sessionID, channels)
	params.Set("type", reqType)
	params.Set("command", command)
	target.RawQuery = params.Encode()

	resp, err := n.client.Get(target.String())
	if err != nil {
		n.logger.Warn("login callback failed", zap.String("url", target.String()), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (n *HTTPNotifier) post(rawurl, clientID, sessionID string, channels []string) bool {
	params := callbackParams(clientID, sessionID, channels)
	resp, err := n.client.Post(rawurl, "application/x-www-form-urlencoded",
		strings.NewReader(params.Encode()))
	if err != nil {
		n.logger.Warn("callback failed", zap.String("url", rawurl), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("callback rejected",
			zap.String("url", rawurl), zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// callbackParams builds the shared parameter shape: client_id and session_id
// when present, plus one channels[] entry per channel.
func callbackParams(clientID, sessionID string, channels []string) url.Values {
	params := url.Values{}
	if clientID != "" {
		params.Set("client_id", clientID)
	}
	if sessionID != "" {
		params.Set("session_id", sessionID)
	}
	for _, channel := range channels {
		params.Add("channels[]", channel)
	}
	return params
}
