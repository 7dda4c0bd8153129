package eventbus

import "modapp.dev/rpc/codec"

// Config is this transport's typed configuration.
type Config struct {
	// Addr is the address Serve listens on if given a nil Listener.
	Addr string

	// Codec every request payload and reply payload is decoded and
	// encoded with.
	Codec codec.Codec
}

func (cfg Config) withDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":9092"
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.NewJSON()
	}
	return cfg
}
