// Package logattr builds slog.Attr values for the address types used
// throughout the stack, so every package logs addresses the same way.
package logattr

import (
	"log/slog"

	"github.com/cerdav/microps"
)

// IP returns a slog.Attr for an IPv4 address in dotted-quad form.
func IP(key string, addr microps.IpAddr) slog.Attr {
	return slog.String(key, addr.String())
}

// MAC returns a slog.Attr for an Ethernet hardware address in colon-hex form.
func MAC(key string, addr microps.MacAddr) slog.Attr {
	return slog.String(key, addr.String())
}
