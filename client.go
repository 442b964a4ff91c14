package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// helperCall opens a channel, sends req once it is open and returns the first
// response of a kind in want. The channel is always closed before returning.
func helperCall(ctx context.Context, endpoint string, opts ChannelOptions, timeout time.Duration, req Request, want ...string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := NewChannel(endpoint, opts)
	defer ch.Close()
	if err := ch.Open(ctx); err != nil {
		return Response{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return Response{}, fmt.Errorf("waiting for helper: %w", ctx.Err())
		case ev, ok := <-ch.Events():
			if !ok {
				return Response{}, errors.New("channel closed before a response arrived")
			}
			switch ev := ev.(type) {
			case ChannelOpened:
				if err := ch.Send(ctx, req); err != nil {
					return Response{}, err
				}
			case ChannelFailed:
				return Response{}, fmt.Errorf("connect to helper at %s: %w (is the helper running?)", endpoint, ev.Err)
			case ChannelClosed:
				return Response{}, errors.New("helper closed the channel")
			case ChannelMessage:
				resp, err := DecodeResponse(ev.Data)
				if err != nil {
					return Response{}, err
				}
				if resp.RequestID != "" && resp.RequestID != req.RequestID {
					continue
				}
				if resp.Type == typeError {
					return Response{}, fmt.Errorf("helper: %s", resp.Message)
				}
				for _, w := range want {
					if resp.Type == w {
						return resp, nil
					}
				}
			}
		}
	}
}

// batteryReport is printed by `btpanel battery`.
type batteryReport struct {
	Address string `json:"address"`
	Level   int    `json:"level"`
}

type oneShot struct {
	endpoint string
	opts     ChannelOptions
	timeout  time.Duration
	newID    func() string
	out      io.Writer
	logger   *slog.Logger
}

func (o oneShot) runDevices(ctx context.Context) error {
	resp, err := helperCall(ctx, o.endpoint, o.opts, o.timeout, getDevicesRequest(o.newID()), typeDevicesList)
	if err != nil {
		return err
	}
	devices := resp.Devices
	if devices == nil {
		devices = []Device{}
	}
	o.logger.Debug("devices listed", "count", len(devices))
	return json.NewEncoder(o.out).Encode(devices)
}

func (o oneShot) runBattery(ctx context.Context, addr string) error {
	resp, err := helperCall(ctx, o.endpoint, o.opts, o.timeout, getBatteryRequest(addr, o.newID()), typeBatteryLevel)
	if err != nil {
		return err
	}
	return json.NewEncoder(o.out).Encode(batteryReport{Address: addr, Level: *resp.Level})
}
