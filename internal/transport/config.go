package transport

import (
	"time"
)

// Config holds connection settings
type Config struct {
	SendBuffer     int           // Outbound frames buffered per connection (default: 64)
	InboundBuffer  int           // Events waiting for the dispatcher (default: 256)
	WriteWait      time.Duration // Deadline for a single write (default: 10s)
	PongWait       time.Duration // Close the connection after this long without a pong (default: 60s)
	PingPeriod     time.Duration // Must be less than PongWait (default: 54s)
	MaxMessageSize int64         // Largest inbound frame in bytes (default: 8 MiB)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SendBuffer:     64,
		InboundBuffer:  256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 8 << 20,
	}
}
