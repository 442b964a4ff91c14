package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	unknownDeviceName = "Unknown Device"
	connectErrPrefix  = "Error connecting to device: "
	msgDeviceDropped  = "Device disconnected."
)

// ConnectorState is the direct connector view state.
type ConnectorState struct {
	DeviceName string
	Address    string
	Err        string
	Connecting bool
}

type pairResultMsg struct {
	dev PairedDevice
	err error
}

type deviceDroppedMsg struct{ addr string }

// ConnectorModel is the Bubble Tea model of the direct connector view.
type ConnectorModel struct {
	pairer  Pairer
	filter  Filter
	logger  *slog.Logger
	state   ConnectorState
	spinner spinner.Model

	ctx    context.Context
	cancel context.CancelFunc
	// stopWatch ends the disconnect watch of the current pairing.
	stopWatch context.CancelFunc
}

// NewConnectorModel creates the view around pairer.
func NewConnectorModel(pairer Pairer, filter Filter, logger *slog.Logger) ConnectorModel {
	if logger == nil {
		logger = slog.Default()
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleButton

	ctx, cancel := context.WithCancel(context.Background())
	return ConnectorModel{
		pairer:  pairer,
		filter:  filter,
		logger:  logger,
		spinner: s,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current view state.
func (m ConnectorModel) State() ConnectorState { return m.state }

func (m ConnectorModel) Init() tea.Cmd { return nil }

// connect starts a pairing request. A new attempt clears the previous result.
func (m ConnectorModel) connect() (ConnectorModel, tea.Cmd) {
	m.endWatch()
	m.state = ConnectorState{Connecting: true}
	pairer, filter, ctx := m.pairer, m.filter, m.ctx
	request := func() tea.Msg {
		dev, err := pairer.RequestDevice(ctx, filter)
		return pairResultMsg{dev: dev, err: err}
	}
	return m, tea.Batch(request, m.spinner.Tick)
}

func (m *ConnectorModel) endWatch() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
}

// watch follows addr until it disconnects or the next attempt starts.
func (m *ConnectorModel) watch(addr string) tea.Cmd {
	w, ok := m.pairer.(DisconnectWatcher)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopWatch = cancel
	logger := m.logger
	return func() tea.Msg {
		gone, err := w.WatchDisconnect(ctx, addr)
		if err != nil {
			logger.Warn("watch device failed", "address", addr, "error", err)
			return nil
		}
		select {
		case <-gone:
			return deviceDroppedMsg{addr: addr}
		case <-ctx.Done():
			return nil
		}
	}
}

// Update handles all incoming messages.
func (m ConnectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancel()
			return m, tea.Quit
		case "enter", " ", "c":
			if m.state.Connecting {
				return m, nil
			}
			return m.connect()
		}

	case pairResultMsg:
		m.state.Connecting = false
		if msg.err != nil {
			m.logger.Warn("pairing failed", "error", msg.err)
			m.state.Err = connectErrPrefix + msg.err.Error()
			return m, nil
		}
		name := strings.TrimSpace(msg.dev.Name)
		if name == "" {
			name = unknownDeviceName
		}
		m.state.DeviceName = name
		m.state.Address = msg.dev.Address
		m.logger.Info("paired", "name", name, "address", msg.dev.Address)
		cmd := m.watch(msg.dev.Address)
		return m, cmd

	case deviceDroppedMsg:
		if msg.addr != m.state.Address {
			return m, nil
		}
		m.endWatch()
		m.state.DeviceName = ""
		m.state.Address = ""
		m.state.Err = msgDeviceDropped
		return m, nil

	case spinner.TickMsg:
		if !m.state.Connecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the connector.
func (m ConnectorModel) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("Connect to a Bluetooth Device"))
	b.WriteString("\n")

	if m.state.Connecting {
		b.WriteString(styleDisabled.Render("[ Connect ]"))
		b.WriteString("\n" + m.spinner.View() + " Connecting...\n")
	} else {
		b.WriteString(styleButton.Render("[ Connect ]"))
		b.WriteString("\n")
	}
	if m.state.DeviceName != "" {
		b.WriteString(styleOK.Render("Connected to: "+m.state.DeviceName) + "\n")
	}
	if m.state.Err != "" {
		b.WriteString(styleError.Render(m.state.Err) + "\n")
	}
	b.WriteString("\n" + styleDim.Render("enter connect · q quit") + "\n")
	return b.String()
}
