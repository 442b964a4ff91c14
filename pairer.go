package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNoDevice is returned when a scan finds no device matching the filter.
var ErrNoDevice = errors.New("no matching device found")

// Filter restricts which devices a pairing request may pick.
type Filter struct {
	AcceptAllDevices bool
	NamePrefix       string
	Address          string
}

func (f Filter) validate() error {
	if !f.AcceptAllDevices && f.NamePrefix == "" && f.Address == "" {
		return errors.New("filter needs acceptAllDevices or at least one criterion")
	}
	return nil
}

// PairedDevice is the result of a successful pairing request.
type PairedDevice struct {
	Name    string
	Address string
}

// Pairer is the platform's device-request capability.
type Pairer interface {
	RequestDevice(ctx context.Context, f Filter) (PairedDevice, error)
}

// DisconnectWatcher is implemented by pairers that can report when a paired
// device drops its connection. The returned channel is closed on disconnect.
type DisconnectWatcher interface {
	WatchDisconnect(ctx context.Context, addr string) (<-chan struct{}, error)
}

// candidate is a device seen during a scan.
type candidate struct {
	Name    string
	Address string
	RSSI    int16
}

func (c candidate) matches(f Filter) bool {
	if f.AcceptAllDevices {
		return true
	}
	if f.Address != "" && !strings.EqualFold(f.Address, c.Address) {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(c.Name, f.NamePrefix) {
		return false
	}
	return true
}

// pickCandidate returns the matching candidate with the strongest signal.
// Ties keep the one seen first.
func pickCandidate(cands []candidate, f Filter) (candidate, error) {
	var best *candidate
	for i := range cands {
		c := &cands[i]
		if !c.matches(f) {
			continue
		}
		if best == nil || c.RSSI > best.RSSI {
			best = c
		}
	}
	if best == nil {
		return candidate{}, ErrNoDevice
	}
	return *best, nil
}

// scanSet merges repeated sightings of the same device during a scan.
type scanSet struct {
	index map[string]int
	cands []candidate
}

// observe records c and reports whether its address was seen for the first
// time. A later sighting replaces the reading but keeps a name advertised
// earlier.
func (s *scanSet) observe(c candidate) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[c.Address]; ok {
		if c.Name == "" {
			c.Name = s.cands[i].Name
		}
		s.cands[i] = c
		return false
	}
	s.index[c.Address] = len(s.cands)
	s.cands = append(s.cands, c)
	return true
}

func (s *scanSet) list() []candidate {
	return append([]candidate(nil), s.cands...)
}

// scanOver reports whether a scan ending at deadline should stop now.
func scanOver(ctx context.Context, deadline, now time.Time) bool {
	return ctx.Err() != nil || !now.Before(deadline)
}

// newPairer builds the backend named in cfg.
func newPairer(cfg PairerConfig, logger *slog.Logger) (Pairer, func(), error) {
	switch cfg.Backend {
	case "bluez":
		bz, err := newBluez(cfg.Adapter)
		if err != nil {
			return nil, nil, err
		}
		return &bluezPairer{bz: bz, scanTimeout: cfg.ScanTimeout, logger: logger}, bz.close, nil
	case "tinygo":
		p := newTinygoPairer(cfg.ScanTimeout, logger)
		return p, p.close, nil
	default:
		return nil, nil, fmt.Errorf("unknown pairer backend %q", cfg.Backend)
	}
}
