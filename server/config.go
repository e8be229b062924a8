package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Server Configuration
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the server.
type ServerConfig struct {
	// Listen address for the line protocol (host:port)
	Endpoint string

	// Directory for the persistent maps, snapshot and command log
	DataDir string

	// Root user credentials, provisioned at startup
	RootUser     string
	RootPassword string

	// PBKDF2-HMAC-SHA256 iteration count. Higher is slower to brute-force
	// and slower to log in; hashing runs on the single serialization path.
	PBKDF2Iterations int

	// Interval between expiry sweeps
	SweepInterval time.Duration

	// Per-connection read/write timeout in seconds (0 = none)
	TimeoutSecond int64

	// TCP tuning
	TCPNoDelay      bool
	TCPKeepAliveSec int

	// Logging configuration
	LogLevel string

	// Optional HTTP endpoint exposing Prometheus metrics (empty = disabled)
	MetricsEndpoint string
}

// String returns a formatted string representation of the configuration.
// The root password is never printed.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("TCP NoDelay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Sweep Interval", c.SweepInterval.String())

	addSection("Authentication")
	addField("Root User", c.RootUser)
	addField("PBKDF2 Iterations", strconv.Itoa(c.PBKDF2Iterations))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.MetricsEndpoint != "" {
		addSection("Metrics")
		addField("Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}
