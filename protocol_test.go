package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireFormat(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"getDevices", getDevicesRequest(""), `{"type":"getDevices"}`},
		{"getBattery", getBatteryRequest("AA:BB", ""), `{"type":"getBattery","deviceAddress":"AA:BB"}`},
		{"correlated", getBatteryRequest("AA:BB", "01J"), `{"type":"getBattery","deviceAddress":"AA:BB","requestId":"01J"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"type":"devicesList","devices":[{"name":"X","address":"AA:BB"},{"name":"Y","address":"CC:DD"}]}`))
	require.NoError(t, err)
	assert.Equal(t, typeDevicesList, resp.Type)
	assert.Equal(t, []Device{{Name: "X", Address: "AA:BB"}, {Name: "Y", Address: "CC:DD"}}, resp.Devices)

	resp, err = DecodeResponse([]byte(`{"type":"batteryLevel","level":42}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Level)
	assert.Equal(t, 42, *resp.Level)

	resp, err = DecodeResponse([]byte(`{"type":"batteryLevel","level":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0, *resp.Level)

	resp, err = DecodeResponse([]byte(`{"type":"batteryLevel","level":100}`))
	require.NoError(t, err)
	assert.Equal(t, 100, *resp.Level)

	resp, err = DecodeResponse([]byte(`{"type":"error","message":"device not found"}`))
	require.NoError(t, err)
	assert.Equal(t, "device not found", resp.Message)
}

func TestDecodeResponseMalformed(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		``,
		`[1,2,3]`,
		`{"devices":[]}`,
		`{"type":"batteryLevel"}`,
		`{"type":"batteryLevel","level":"high"}`,
		`{"type":"batteryLevel","level":150}`,
		`{"type":"batteryLevel","level":-1}`,
	} {
		_, err := DecodeResponse([]byte(payload))
		assert.True(t, errors.Is(err, ErrMalformed), "payload %q: err = %v", payload, err)
	}
}

func TestKnownResponse(t *testing.T) {
	for _, typ := range []string{typeDevicesList, typeBatteryLevel, typeError} {
		assert.True(t, knownResponse(typ), typ)
	}
	assert.False(t, knownResponse("firmwareInfo"))
	assert.False(t, knownResponse(typeGetDevices))
}
