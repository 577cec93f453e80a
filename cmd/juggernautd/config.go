package main

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pushlane/juggernaut/juggernaut"
)

// fileConfig mirrors the YAML config surface. Timeouts are whole seconds in
// the file and converted to durations for the core.
type fileConfig struct {
	Host                   string   `mapstructure:"host"`
	Port                   int      `mapstructure:"port"`
	PublicPort             int      `mapstructure:"public_port"`
	WSPort                 int      `mapstructure:"ws_port"`
	Timeout                int      `mapstructure:"timeout"`
	CleanupTimer           int      `mapstructure:"cleanup_timer"`
	StoreMessages          bool     `mapstructure:"store_messages"`
	AllowedIPs             []string `mapstructure:"allowed_ips"`
	SecretKey              string   `mapstructure:"secret_key"`
	BroadcastQueryLoginURL string   `mapstructure:"broadcast_query_login_url"`
	SubscriptionURL        string   `mapstructure:"subscription_url"`
	LogoutURL              string   `mapstructure:"logout_url"`
	LogoutConnectionURL    string   `mapstructure:"logout_connection_url"`
	PostRequestTimeout     int      `mapstructure:"post_request_timeout"`
}

func loadConfig(path string) (juggernaut.Options, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5001)
	v.SetDefault("timeout", 10)
	v.SetDefault("cleanup_timer", 2)
	v.SetDefault("store_messages", false)
	v.SetDefault("post_request_timeout", 5)

	v.SetEnvPrefix("JUGGERNAUT")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return juggernaut.Options{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c fileConfig
	if err := v.Unmarshal(&c); err != nil {
		return juggernaut.Options{}, fmt.Errorf("unmarshal config: %w", err)
	}

	allowed, err := resolveAllowedIPs(c.AllowedIPs)
	if err != nil {
		return juggernaut.Options{}, err
	}

	return juggernaut.Options{
		Host:                   c.Host,
		Port:                   c.Port,
		PublicPort:             c.PublicPort,
		WSPort:                 c.WSPort,
		Timeout:                time.Duration(c.Timeout) * time.Second,
		CleanupTimer:           time.Duration(c.CleanupTimer) * time.Second,
		StoreMessages:          c.StoreMessages,
		AllowedIPs:             allowed,
		SecretKey:              c.SecretKey,
		BroadcastQueryLoginURL: c.BroadcastQueryLoginURL,
		SubscriptionURL:        c.SubscriptionURL,
		LogoutURL:              c.LogoutURL,
		LogoutConnectionURL:    c.LogoutConnectionURL,
		PostRequestTimeout:     time.Duration(c.PostRequestTimeout) * time.Second,
	}, nil
}

// resolveAllowedIPs resolves allowlist hostnames to addresses once at
// startup so the auth gate compares plain strings.
func resolveAllowedIPs(entries []string) ([]string, error) {
	var out []string
	for _, entry := range entries {
		if net.ParseIP(entry) != nil {
			out = append(out, entry)
			continue
		}
		addrs, err := net.LookupHost(entry)
		if err != nil {
			return nil, fmt.Errorf("resolve allowed ip %q: %w", entry, err)
		}
		out = append(out, addrs...)
	}
	return out, nil
}

const configTemplate = `# ======================
# Juggernaut Options
# ======================

# === Subscription authentication ===
# Leave the subscription options commented out to allow anyone to subscribe.
#
# If set, subscription_url is called every time a client subscribes, with
# client_id, session_id and the channels[] being requested. Any status other
# than 200 rejects the subscription and disconnects the client.
#
# subscription_url: http://localhost:3000/sessions/juggernaut_subscription

# === Broadcast and query authentication ===

# 1) Via IP address. Peers on this list are always authorized.
allowed_ips:
  - 127.0.0.1

# 2) Via HTTP request. Called for broadcast/query attempts that carry no
# secret key, with client_id, session_id, type, command and channels[].
#
# broadcast_query_login_url: http://localhost:3000/sessions/juggernaut_broadcast

# 3) Via shared secret key, sent as secret_key on the request.
#
# secret_key: %s

# === Connection lifecycle ===

# logout_connection_url is called when one connection of a subscribed client
# closes, with that connection's channels.
#
# logout_connection_url: http://localhost:3000/sessions/juggernaut_connection_logout

# logout_url is called when the last connection of a subscribed client is
# gone and the grace period has elapsed.
#
# logout_url: http://localhost:3000/sessions/juggernaut_logout

# Seconds between a client losing its last connection and the logout being
# final. Reconnects inside this window keep the client alive.
timeout: 10

# Seconds between sweeps for timed-out clients.
cleanup_timer: 2

# When true, broadcasts are also queued per client and replayed to
# reconnecting clients within the timeout window.
store_messages: false

# === Server ===

host: 0.0.0.0
port: 5001

# Set when port forwarding makes the externally visible port differ.
# public_port: 5001

# Serve the same protocol over WebSocket as well.
# ws_port: 5002
`

func generateConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists, remove it first", path)
	}
	content := fmt.Sprintf(configTemplate, randomSecret())
	return os.WriteFile(path, []byte(content), 0o644)
}

func randomSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return strings.Repeat("0", 40)
	}
	return fmt.Sprintf("%x", sha1.Sum(raw))
}
