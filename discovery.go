package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsDomain = "local."

// resolveEndpoint returns the helper endpoint. With an mDNS service set it
// browses for the helper first and falls back to the configured endpoint.
func resolveEndpoint(ctx context.Context, cfg HelperConfig, logger *slog.Logger) string {
	if cfg.MDNSService == "" {
		return cfg.Endpoint
	}
	ep, err := browseHelper(ctx, cfg.MDNSService, cfg.MDNSTimeout)
	if err != nil {
		logger.Warn("mdns lookup failed, using configured endpoint", "service", cfg.MDNSService, "error", err)
		return cfg.Endpoint
	}
	logger.Info("helper discovered", "service", cfg.MDNSService, "endpoint", ep)
	return ep
}

func browseHelper(ctx context.Context, service string, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan string, 1)
	go func() {
		for entry := range entries {
			if ep := entryEndpoint(entry); ep != "" {
				select {
				case found <- ep:
				default:
				}
				cancel()
			}
		}
	}()

	if err := resolver.Browse(ctx, service, mdnsDomain, entries); err != nil {
		return "", fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()

	select {
	case ep := <-found:
		return ep, nil
	default:
		return "", fmt.Errorf("no %s service answered within %s", service, timeout)
	}
}

// entryEndpoint builds a ws:// URL from a service entry. A "path" TXT record
// is appended when present.
func entryEndpoint(entry *zeroconf.ServiceEntry) string {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return ""
	}
	path := "/"
	for _, t := range entry.Text {
		if k, v, ok := strings.Cut(t, "="); ok && k == "path" && v != "" {
			path = "/" + strings.TrimPrefix(v, "/")
		}
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path
}
