package dstc

import (
	"os"
	"strconv"
)

// Config mirrors spec §6's "Configuration environment" table. No
// example repo in the corpus carries an env-config library
// (viper/envconfig) in a complete teacher repo, so this is plain
// os.Getenv parsing into a struct — a deliberate stdlib-only concern,
// justified in DESIGN.md, matching spec.md's own item-for-item list.
type Config struct {
	// NodeID: numeric; 0 instructs the transport to allocate one.
	NodeID NodeID

	// MaxPeers is the configured maximum peer count. It is loaded from
	// the environment; no component of the engine or the transport
	// reads it, so the Remote Availability Map is not bounded by it.
	MaxPeers int

	// MulticastGroup is the multicast group address datagrams are
	// published to / subscribed from.
	MulticastGroup string

	// MulticastIface is the local interface address used to join the
	// group; "" means any.
	MulticastIface string

	// MulticastPort is the multicast group's UDP port.
	MulticastPort int

	// MulticastTTL bounds how far multicast datagrams travel.
	MulticastTTL int

	// ControlIface is the local interface address the control TCP
	// listener binds to; "" means any.
	ControlIface string

	// ControlPort is the control TCP listener's port; 0 means
	// ephemeral.
	ControlPort int

	// LogLevel is the default logger's level; defaults to "error".
	LogLevel string

	// SuspendThreshold / RestartThreshold are the transport's
	// asymmetric back-pressure watermarks (spec §4.6).
	SuspendThreshold int
	RestartThreshold int
}

// DefaultConfig returns spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		NodeID:           0,
		MaxPeers:         256,
		MulticastGroup:   "239.192.1.1",
		MulticastIface:   "",
		MulticastPort:    9700,
		MulticastTTL:     1,
		ControlIface:     "",
		ControlPort:      0,
		LogLevel:         "error",
		SuspendThreshold: 3000,
		RestartThreshold: 2800,
	}
}

// envOr mirrors the common "read override, fall back to default"
// idiom used throughout the spec's configuration surface.
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// ConfigFromEnv loads Config from the environment, overlaying
// DefaultConfig. Recognized variables follow spec §6 naming by
// concern: DSTC_NODE_ID, DSTC_MAX_PEERS, DSTC_MCAST_GROUP,
// DSTC_MCAST_IFACE, DSTC_MCAST_PORT, DSTC_MCAST_TTL,
// DSTC_CONTROL_IFACE, DSTC_CONTROL_PORT, DSTC_LOG_LEVEL,
// DSTC_SUSPEND_THRESHOLD, DSTC_RESTART_THRESHOLD.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.NodeID = NodeID(envIntOr("DSTC_NODE_ID", int(c.NodeID)))
	c.MaxPeers = envIntOr("DSTC_MAX_PEERS", c.MaxPeers)
	c.MulticastGroup = envOr("DSTC_MCAST_GROUP", c.MulticastGroup)
	c.MulticastIface = envOr("DSTC_MCAST_IFACE", c.MulticastIface)
	c.MulticastPort = envIntOr("DSTC_MCAST_PORT", c.MulticastPort)
	c.MulticastTTL = envIntOr("DSTC_MCAST_TTL", c.MulticastTTL)
	c.ControlIface = envOr("DSTC_CONTROL_IFACE", c.ControlIface)
	c.ControlPort = envIntOr("DSTC_CONTROL_PORT", c.ControlPort)
	c.LogLevel = envOr("DSTC_LOG_LEVEL", c.LogLevel)
	c.SuspendThreshold = envIntOr("DSTC_SUSPEND_THRESHOLD", c.SuspendThreshold)
	c.RestartThreshold = envIntOr("DSTC_RESTART_THRESHOLD", c.RestartThreshold)
	return c
}
