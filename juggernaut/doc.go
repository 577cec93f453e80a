// Package juggernaut implements a TCP publish/subscribe message broker
// speaking the Juggernaut wire protocol: NUL-terminated JSON frames carrying
// subscribe, broadcast, query and noop commands. A logical client is keyed by
// an application-supplied id and may hold several simultaneous physical
// connections; broadcasts target the logical client and fan out to every
// connection that matches the requested channel scope. The broker keeps a
// short grace period after a client's last connection drops so page reloads
// do not count as logouts, and can optionally queue broadcasts for replay to
// reconnecting clients within that window.
package juggernaut
