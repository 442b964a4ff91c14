package main

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ConnState is the lifecycle state of the helper channel.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

// Device is a Bluetooth device as reported by the helper. Address is the identity.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Request types sent to the helper.
const (
	typeGetDevices = "getDevices"
	typeGetBattery = "getBattery"
)

// Response types sent by the helper.
const (
	typeDevicesList  = "devicesList"
	typeBatteryLevel = "batteryLevel"
	typeError        = "error"
)

// ErrMalformed is returned when a helper payload cannot be decoded.
var ErrMalformed = errors.New("malformed helper message")

// Request is sent from btpanel to the helper.
type Request struct {
	Type          string `json:"type"`                    // "getDevices" | "getBattery"
	DeviceAddress string `json:"deviceAddress,omitempty"` // getBattery only
	RequestID     string `json:"requestId,omitempty"`     // only with correlate_requests
}

func getDevicesRequest(id string) Request {
	return Request{Type: typeGetDevices, RequestID: id}
}

func getBatteryRequest(addr, id string) Request {
	return Request{Type: typeGetBattery, DeviceAddress: addr, RequestID: id}
}

// Response is sent from the helper back to btpanel.
type Response struct {
	Type      string   `json:"type"`
	Devices   []Device `json:"devices,omitempty"` // devicesList
	Level     *int     `json:"level,omitempty"`   // batteryLevel
	Message   string   `json:"message,omitempty"` // error
	RequestID string   `json:"requestId,omitempty"`
}

// DecodeResponse parses one helper frame. Payloads that are not JSON objects,
// carry no type or report a battery level outside 0-100 are reported as
// ErrMalformed.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Type == "" {
		return Response{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if resp.Type == typeBatteryLevel {
		if resp.Level == nil {
			return Response{}, fmt.Errorf("%w: batteryLevel without level", ErrMalformed)
		}
		if *resp.Level < 0 || *resp.Level > 100 {
			return Response{}, fmt.Errorf("%w: battery level %d out of range", ErrMalformed, *resp.Level)
		}
	}
	return resp, nil
}

func knownResponse(typ string) bool {
	switch typ {
	case typeDevicesList, typeBatteryLevel, typeError:
		return true
	}
	return false
}
