package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Listen binds all interfaces on port. It prefers a dual-stack [::] socket
// and falls back to 0.0.0.0 when the host has no IPv6 stack. A port that is
// already taken fails on both and the error is returned as is.
func Listen(port string) (net.Listener, error) {
	addrIPv6 := "[::]:" + port
	log.Printf("🔵 [IPv6] Attempting to bind HTTP server on %s", addrIPv6)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if network != "tcp6" {
				return nil
			}

			var sockErr error
			if controlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IPV6, syscall.IPV6_V6ONLY, 0)
			}); controlErr != nil {
				return controlErr
			}
			return sockErr
		},
	}

	ln6, err6 := lc.Listen(context.Background(), "tcp6", addrIPv6)
	if err6 == nil {
		log.Printf("✅ [IPv6] Bound to %s (dual-stack)", addrIPv6)
		return ln6, nil
	}
	log.Printf("❌ [IPv6] Failed to bind on %s: %v", addrIPv6, err6)

	addrIPv4 := "0.0.0.0:" + port
	log.Printf("🟡 [IPv4] Attempting to bind HTTP server on %s", addrIPv4)
	ln4, err := net.Listen("tcp4", addrIPv4)
	if err != nil {
		log.Printf("💥 [FATAL] Both IPv6 and IPv4 binding failed - server cannot start")
		return nil, fmt.Errorf("bind port %s: %w", port, err)
	}

	log.Printf("✅ [IPv4] Bound to %s (IPv6 not available)", addrIPv4)
	return ln4, nil
}

// ListenWithIPv6Fallback binds the port and serves app until shutdown
func ListenWithIPv6Fallback(app *fiber.App, port string, startupStart time.Time) error {
	ln, err := Listen(port)
	if err != nil {
		return err
	}
	log.Printf("🌐 [STARTUP] HTTP server listening on %s - startup time: %v", ln.Addr(), time.Since(startupStart))
	return app.Listener(ln)
}
