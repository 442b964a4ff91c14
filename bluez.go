package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName       = "org.bluez"
	adapterIface  = "org.bluez.Adapter1"
	deviceIface   = "org.bluez.Device1"
	propsIface    = "org.freedesktop.DBus.Properties"
	propsSignal   = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objectManager = "org.freedesktop.DBus.ObjectManager"
)

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapter, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapter) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// bluez wraps a system D-Bus connection for BlueZ operations on one adapter.
type bluez struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
}

func newBluez(adapter string) (*bluez, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that BlueZ is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}
	if adapter == "" {
		adapter = "hci0"
	}
	return &bluez{conn: conn, adapter: dbus.ObjectPath("/org/bluez/" + adapter)}, nil
}

func (b *bluez) close() {
	b.conn.Close()
}

// --- property helpers ---

func (b *bluez) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bluez) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (b *bluez) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

// --- adapter ---

func (b *bluez) adapterPowered() (bool, error) {
	return b.getBool(b.adapter, adapterIface, "Powered")
}

func (b *bluez) setAdapterPowered(on bool) error {
	return b.setProp(b.adapter, adapterIface, "Powered", on)
}

func (b *bluez) startDiscovery() error {
	return b.conn.Object(busName, b.adapter).Call(adapterIface+".StartDiscovery", 0).Err
}

func (b *bluez) stopDiscovery() error {
	return b.conn.Object(busName, b.adapter).Call(adapterIface+".StopDiscovery", 0).Err
}

// discovered lists devices under the adapter that reported an RSSI, i.e.
// were heard during the current discovery session.
func (b *bluez) discovered() ([]candidate, error) {
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := b.conn.Object(busName, "/").Call(objectManager+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("list managed objects: %w", err)
	}
	var out []candidate
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || macFromPath(b.adapter, path) == "" {
			continue
		}
		if c, ok := candidateFromProps(props); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func candidateFromProps(props map[string]dbus.Variant) (candidate, bool) {
	rssiVar, ok := props["RSSI"]
	if !ok {
		return candidate{}, false
	}
	rssi, ok := rssiVar.Value().(int16)
	if !ok {
		return candidate{}, false
	}
	c := candidate{RSSI: rssi}
	if v, ok := props["Address"]; ok {
		c.Address, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok {
		c.Name, _ = v.Value().(string)
	}
	if c.Name == "" {
		if v, ok := props["Name"]; ok {
			c.Name, _ = v.Value().(string)
		}
	}
	return c, c.Address != ""
}

// --- device ---

func (b *bluez) devicePaired(addr string) (bool, error) {
	return b.getBool(deviceObjectPath(b.adapter, addr), deviceIface, "Paired")
}

func (b *bluez) pair(ctx context.Context, addr string) error {
	obj := b.conn.Object(busName, deviceObjectPath(b.adapter, addr))
	return obj.CallWithContext(ctx, deviceIface+".Pair", 0).Err
}

func (b *bluez) connect(ctx context.Context, addr string) error {
	obj := b.conn.Object(busName, deviceObjectPath(b.adapter, addr))
	return obj.CallWithContext(ctx, deviceIface+".Connect", 0).Err
}

func (b *bluez) deviceAlias(addr string) string {
	v, err := b.getProp(deviceObjectPath(b.adapter, addr), deviceIface, "Alias")
	if err != nil {
		return ""
	}
	name, _ := v.Value().(string)
	return name
}

// --- signal subscription ---

const propsMatchRule = "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'"

func (b *bluez) subscribePropertyChanges() chan *dbus.Signal {
	b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, propsMatchRule)
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch
}

// unsubscribePropertyChanges undoes one subscribePropertyChanges. The bus
// counts match rules, so each AddMatch needs its own RemoveMatch.
func (b *bluez) unsubscribePropertyChanges(ch chan *dbus.Signal) {
	b.conn.RemoveSignal(ch)
	b.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, propsMatchRule)
}

// disconnectedDevice returns the MAC of the device whose Connected property
// flipped to false in sig, or "".
func (b *bluez) disconnectedDevice(sig *dbus.Signal) string {
	if sig.Name != propsSignal {
		return ""
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	if len(sig.Body) < 2 {
		return ""
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return ""
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return ""
	}
	connVar, ok := changed["Connected"]
	if !ok {
		return ""
	}
	connected, ok := connVar.Value().(bool)
	if !ok || connected {
		return ""
	}
	return macFromPath(b.adapter, sig.Path)
}

// bluezPairer pairs through BlueZ directly.
type bluezPairer struct {
	bz          *bluez
	scanTimeout time.Duration
	logger      *slog.Logger
}

func (p *bluezPairer) RequestDevice(ctx context.Context, f Filter) (PairedDevice, error) {
	if err := f.validate(); err != nil {
		return PairedDevice{}, err
	}
	powered, err := p.bz.adapterPowered()
	if err != nil {
		return PairedDevice{}, fmt.Errorf("read adapter state: %w", err)
	}
	if !powered {
		p.logger.Info("powering on adapter", "adapter", p.bz.adapter)
		if err := p.bz.setAdapterPowered(true); err != nil {
			return PairedDevice{}, fmt.Errorf("power on: %w", err)
		}
	}

	if err := p.bz.startDiscovery(); err != nil {
		return PairedDevice{}, fmt.Errorf("start discovery: %w", err)
	}
	p.logger.Debug("discovering", "timeout", p.scanTimeout)
	select {
	case <-time.After(p.scanTimeout):
	case <-ctx.Done():
		p.bz.stopDiscovery()
		return PairedDevice{}, ctx.Err()
	}
	cands, err := p.bz.discovered()
	p.bz.stopDiscovery()
	if err != nil {
		return PairedDevice{}, err
	}

	best, err := pickCandidate(cands, f)
	if err != nil {
		return PairedDevice{}, err
	}
	p.logger.Info("selected device", "address", best.Address, "name", best.Name, "rssi", best.RSSI)

	paired, _ := p.bz.devicePaired(best.Address)
	if !paired {
		if err := p.bz.pair(ctx, best.Address); err != nil {
			return PairedDevice{}, fmt.Errorf("pair: %w", err)
		}
	}
	if err := p.bz.connect(ctx, best.Address); err != nil {
		return PairedDevice{}, fmt.Errorf("connect: %w", err)
	}

	name := p.bz.deviceAlias(best.Address)
	if name == "" {
		name = best.Name
	}
	return PairedDevice{Name: name, Address: best.Address}, nil
}

func (p *bluezPairer) WatchDisconnect(ctx context.Context, addr string) (<-chan struct{}, error) {
	sigCh := p.bz.subscribePropertyChanges()
	gone := make(chan struct{})
	go func() {
		defer p.bz.unsubscribePropertyChanges(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if mac := p.bz.disconnectedDevice(sig); mac != "" && strings.EqualFold(mac, addr) {
					p.logger.Info("device disconnected", "address", mac)
					close(gone)
					return
				}
			}
		}
	}()
	return gone, nil
}
