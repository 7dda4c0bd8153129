package httpws

import (
	"time"

	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/cors"
)

// Config is the typed configuration this transport takes: a static
// struct fed into NewServer rather than flag-parsing inline.
type Config struct {
	// Addr is the address Serve listens on if the caller doesn't
	// supply its own net.Listener.
	Addr string

	// Codec encodes/decodes request and reply bodies. Required.
	Codec codec.Codec

	// CORS configures preflight handling. Nil disables the CORS
	// wrapper entirely, leaving routes reachable only from
	// non-browser clients.
	CORS *cors.Config

	// WriteTimeout bounds how long a single WebSocket frame write may
	// block before the connection is dropped.
	WriteTimeout time.Duration
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced
// by their defaults, mirroring appruntime/config's static-config
// pattern of applying defaults once at server construction.
func (cfg Config) WithDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}
