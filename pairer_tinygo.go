package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const scanStopRetry = 100 * time.Millisecond

// tinygoPairer pairs through tinygo.org/x/bluetooth, which also runs on
// macOS and Windows.
type tinygoPairer struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration
	logger      *slog.Logger

	scanMu    sync.Mutex
	mu        sync.Mutex
	connected []bluetooth.Device
}

func newTinygoPairer(scanTimeout time.Duration, logger *slog.Logger) *tinygoPairer {
	return &tinygoPairer{
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: scanTimeout,
		logger:      logger,
	}
}

func (p *tinygoPairer) RequestDevice(ctx context.Context, f Filter) (PairedDevice, error) {
	if err := f.validate(); err != nil {
		return PairedDevice{}, err
	}
	if err := p.adapter.Enable(); err != nil {
		return PairedDevice{}, fmt.Errorf("enable adapter: %w", err)
	}

	var (
		mu    sync.Mutex
		seen  scanSet
		addrs = map[string]bluetooth.Address{}
	)
	deadline := time.Now().Add(p.scanTimeout)
	scanDone := make(chan error, 1)
	go func() {
		scanDone <- p.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			// Scan only accepts StopScan once it is running, which is
			// guaranteed inside its own callback.
			if scanOver(ctx, deadline, time.Now()) {
				p.stopScan(a)
				return
			}
			c := candidate{Name: r.LocalName(), Address: r.Address.String(), RSSI: r.RSSI}
			mu.Lock()
			defer mu.Unlock()
			if seen.observe(c) {
				addrs[c.Address] = r.Address
			}
		})
	}()

	// With nothing advertising the callback never runs, so keep asking the
	// adapter to stop until the scan has returned.
	tick := time.NewTicker(scanStopRetry)
	defer tick.Stop()
	var scanErr error
wait:
	for {
		select {
		case scanErr = <-scanDone:
			break wait
		case now := <-tick.C:
			if scanOver(ctx, deadline, now) {
				p.stopScan(p.adapter)
			}
		}
	}
	if scanErr != nil {
		return PairedDevice{}, fmt.Errorf("scan: %w", scanErr)
	}
	if err := ctx.Err(); err != nil {
		return PairedDevice{}, err
	}

	mu.Lock()
	best, err := pickCandidate(seen.list(), f)
	addr := addrs[best.Address]
	mu.Unlock()
	if err != nil {
		return PairedDevice{}, err
	}
	p.logger.Info("selected device", "address", best.Address, "name", best.Name, "rssi", best.RSSI)

	dev, err := p.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return PairedDevice{}, fmt.Errorf("connect: %w", err)
	}
	p.mu.Lock()
	p.connected = append(p.connected, dev)
	p.mu.Unlock()
	return PairedDevice{Name: best.Name, Address: best.Address}, nil
}

// stopScan serializes StopScan calls between the scan callback and the
// waiting goroutine. Before the scan is running it fails and is retried.
func (p *tinygoPairer) stopScan(a *bluetooth.Adapter) {
	p.scanMu.Lock()
	defer p.scanMu.Unlock()
	if err := a.StopScan(); err != nil {
		p.logger.Debug("stop scan", "error", err)
	}
}

// close disconnects every device this pairer connected.
func (p *tinygoPairer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.connected {
		if err := d.Disconnect(); err != nil {
			p.logger.Debug("disconnect", "error", err)
		}
	}
	p.connected = nil
}
