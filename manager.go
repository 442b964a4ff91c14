package main

import (
	"errors"
	"slices"
)

// User-visible messages of the device manager.
const (
	msgCommError    = "Error communicating with helper."
	msgDisconnected = "Disconnected from helper. Ensure it's running."
	msgChannelError = "Channel error. Check the log for details."
	msgNotConnected = "Not connected to the helper."
)

// Events handled by ManagerState.Apply besides the channel events.
type (
	BatteryRequested struct {
		Device    Device
		RequestID string
	}
	RefreshRequested struct{ RequestID string }
	SendFailed       struct{ Err error }
)

// ManagerState is the device manager view state. Apply never mutates the
// receiver; every event yields a new record.
type ManagerState struct {
	Conn     ConnState
	Devices  []Device
	Selected *Device
	Battery  *int
	Err      string
	Loading  bool

	// Outstanding request ids, only set when requests are correlated.
	PendingDevices string
	PendingBattery string
}

// newManagerState is the state right after mount.
func newManagerState() ManagerState {
	return ManagerState{Conn: StateConnecting}
}

// Apply returns the state after ev and the request to send, if any.
func (s ManagerState) Apply(ev any) (ManagerState, *Request) {
	next := s.clone()

	switch ev := ev.(type) {
	case ChannelOpened:
		next.Conn = StateOpen
		next.Loading = true
		return next, &Request{Type: typeGetDevices}

	case openedWithID:
		next.Conn = StateOpen
		next.Loading = true
		next.PendingDevices = string(ev)
		req := getDevicesRequest(string(ev))
		return next, &req

	case ChannelMessage:
		resp, err := DecodeResponse(ev.Data)
		return next.applyDecoded(decodedMessage{Resp: resp, Err: err}), nil

	case decodedMessage:
		return next.applyDecoded(ev), nil

	case BatteryRequested:
		dev := ev.Device
		next.Selected = &dev
		next.Battery = nil
		if next.Conn != StateOpen {
			next.Err = msgNotConnected
			return next, nil
		}
		next.Loading = true
		next.PendingBattery = ev.RequestID
		req := getBatteryRequest(dev.Address, ev.RequestID)
		return next, &req

	case RefreshRequested:
		if next.Conn != StateOpen {
			next.Err = msgNotConnected
			return next, nil
		}
		next.Loading = true
		next.PendingDevices = ev.RequestID
		req := getDevicesRequest(ev.RequestID)
		return next, &req

	case SendFailed:
		if errors.Is(ev.Err, ErrNotOpen) {
			next.Err = msgNotConnected
		} else {
			next.Err = msgChannelError
		}
		next.Loading = false

	case ChannelClosed:
		next.Conn = StateClosed
		next.Err = msgDisconnected
		next.Loading = false
		next.PendingDevices, next.PendingBattery = "", ""

	case ChannelFailed:
		next.Err = msgChannelError
		next.Loading = false
	}
	return next, nil
}

// openedWithID is ChannelOpened with the id for the initial getDevices.
type openedWithID string

// decodedMessage is a ChannelMessage already run through DecodeResponse.
type decodedMessage struct {
	Resp Response
	Err  error
}

func (s ManagerState) applyDecoded(m decodedMessage) ManagerState {
	if m.Err != nil {
		s.Err = msgCommError
		s.Loading = false
		return s
	}
	return s.applyResponse(m.Resp)
}

func (s ManagerState) applyResponse(resp Response) ManagerState {
	switch resp.Type {
	case typeDevicesList:
		if stale(resp.RequestID, s.PendingDevices) {
			return s
		}
		s.Devices = slices.Clone(resp.Devices)
		s.PendingDevices = ""
		s.Loading = false
	case typeBatteryLevel:
		if stale(resp.RequestID, s.PendingBattery) {
			return s
		}
		level := *resp.Level
		s.Battery = &level
		s.PendingBattery = ""
		s.Loading = false
	case typeError:
		if resp.RequestID != "" && resp.RequestID != s.PendingDevices && resp.RequestID != s.PendingBattery {
			return s
		}
		s.Err = resp.Message
		s.Loading = false
	}
	return s
}

// stale reports whether a response id names a request that is no longer the
// outstanding one. Responses without an id are never stale.
func stale(got, pending string) bool {
	return got != "" && got != pending
}

func (s ManagerState) clone() ManagerState {
	next := s
	next.Devices = slices.Clone(s.Devices)
	if s.Selected != nil {
		d := *s.Selected
		next.Selected = &d
	}
	if s.Battery != nil {
		b := *s.Battery
		next.Battery = &b
	}
	return next
}
