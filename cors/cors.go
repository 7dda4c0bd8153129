// Package cors wraps an http.Handler with github.com/rs/cors policy
// enforcement, driven by a typed per-transport config object rather
// than flag-parsing inline.
package cors

import (
	"net/http"
	"sort"

	rscors "github.com/rs/cors"
	"github.com/rs/zerolog"
)

// UnsafeAllOriginWithCredentials marks every origin as allowed to call
// with credentials. Misuse is a real security issue; only set this if
// the caller is certain every credentialed origin is trusted.
const UnsafeAllOriginWithCredentials = "UNSAFE_ALL_ORIGINS_WITH_CREDENTIALS"

// Config is the cors_allow configuration block a transport takes.
type Config struct {
	// DisableCredentials stops Access-Control-Allow-Credentials: true
	// from being set on preflight responses.
	DisableCredentials bool

	// AllowOriginsWithCredentials lists origins allowed to send
	// credentialed requests. Still consulted when DisableCredentials is
	// true; that flag only drops the Allow-Credentials header.
	AllowOriginsWithCredentials []string

	// AllowOriginsWithoutCredentials lists origins allowed to send
	// credential-free requests. Nil allows every origin.
	AllowOriginsWithoutCredentials []string

	// ExtraAllowedHeaders adds to the default
	// {Origin, Authorization, Content-Type} allow-list. "*" allows all.
	ExtraAllowedHeaders []string

	// AllowAccessWhenOnPrivateNetwork answers the
	// Access-Control-Request-Private-Network preflight, per the
	// Private Network Access spec.
	AllowAccessWhenOnPrivateNetwork bool

	// Debug logs every CORS decision through Logger when set.
	Debug  bool
	Logger zerolog.Logger
}

// Wrap returns handler guarded by a CORS middleware built from cfg. A
// nil cfg allows every origin without credentials, matching the
// transport config's CORS option being left unset.
func Wrap(cfg *Config, handler http.Handler) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	c := rscors.New(Options(cfg))
	if cfg.Debug {
		logger := cfg.Logger.With().Str("subsystem", "cors").Logger()
		logger.Debug().Msg("CORS running in debug mode, all decisions will be logged")
		c.Log = &logger
	}
	return c.Handler(handler)
}

// Options renders cfg into the github.com/rs/cors option set Wrap
// installs.
func Options(cfg *Config) rscors.Options {
	originsCreds := sortedSliceCopy(cfg.AllowOriginsWithCredentials)
	originsWithoutCreds := sortedSliceCopy(cfg.AllowOriginsWithoutCredentials)

	hasWildcardOriginWithoutCreds := cfg.AllowOriginsWithoutCredentials == nil || sortedSliceContains(originsWithoutCreds, "*")
	hasUnsafeWildcardOriginWithCreds := sortedSliceContains(originsCreds, UnsafeAllOriginWithCredentials)

	allowedHeaders := append([]string{"Origin", "Authorization", "Content-Type"}, cfg.ExtraAllowedHeaders...)

	return rscors.Options{
		Debug:               cfg.Debug,
		AllowCredentials:    !cfg.DisableCredentials,
		AllowedMethods:      []string{"GET", "POST", "PUT", "PATCH", "HEAD", "DELETE", "OPTIONS", "TRACE", "CONNECT"},
		AllowedHeaders:      allowedHeaders,
		AllowPrivateNetwork: cfg.AllowAccessWhenOnPrivateNetwork,
		AllowOriginRequestFunc: func(r *http.Request, origin string) bool {
			hasCreds := len(r.Cookies()) > 0 || r.Header["Authorization"] != nil || (r.TLS != nil && len(r.TLS.PeerCertificates) > 0)
			if hasCreds {
				return hasUnsafeWildcardOriginWithCreds || sortedSliceContains(originsCreds, origin)
			}
			if hasWildcardOriginWithoutCreds {
				return true
			}
			return sortedSliceContains(originsWithoutCreds, origin)
		},
	}
}

func sortedSliceContains(haystack []string, needle string) bool {
	idx := sort.SearchStrings(haystack, needle)
	return idx < len(haystack) && haystack[idx] == needle
}

func sortedSliceCopy(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	sort.Strings(dst)
	return dst
}
