package api

import (
	"path/filepath"
	"strings"
)

const unixPrefix = "unix:"

// ExtractUnixSocket determines whether the provided address contains a unix:
// prefix. If so, it will treat the remainder as the path to the socket.
// The introspection server only ever binds to a unix socket or a bare
// host:port, so this is the only address form ssbabeld needs to
// distinguish; there is no http(s):// scheme to strip.
func ExtractUnixSocket(addr string) (socketFile string) {
	if strings.HasPrefix(addr, unixPrefix) {
		socketFile = filepath.Clean(strings.TrimPrefix(addr, unixPrefix))
	}
	return
}
