package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/oklog/ulid/v2"
)

const sendTimeout = 5 * time.Second

// ManagerDeps are injected into the device manager model.
type ManagerDeps struct {
	Endpoint  string
	Channel   ChannelOptions
	Correlate bool
	Logger    *slog.Logger
}

// channelEventMsg wraps a channel event. ch identifies the channel it came
// from so events of a replaced channel are dropped.
type channelEventMsg struct {
	ch *Channel
	ev any
}

// channelDoneMsg means the event stream of ch has ended.
type channelDoneMsg struct{ ch *Channel }

type sendResultMsg struct {
	ch  *Channel
	err error
}

// ManagerModel is the Bubble Tea model of the device manager view.
type ManagerModel struct {
	deps    ManagerDeps
	ch      *Channel
	state   ManagerState
	cursor  int
	spinner spinner.Model
	width   int
}

// NewManagerModel creates the view; the channel is opened by Init.
func NewManagerModel(deps ManagerDeps) ManagerModel {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Channel.Logger == nil {
		deps.Channel.Logger = deps.Logger
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styleButton

	return ManagerModel{
		deps:    deps,
		ch:      NewChannel(deps.Endpoint, deps.Channel),
		state:   newManagerState(),
		spinner: s,
	}
}

// State returns the current view state.
func (m ManagerModel) State() ManagerState { return m.state }

// Close releases the channel. Safe to call more than once.
func (m ManagerModel) Close() error { return m.ch.Close() }

// Init mounts the view: it opens the channel.
func (m ManagerModel) Init() tea.Cmd {
	return tea.Batch(openChannel(m.ch), m.spinner.Tick)
}

func openChannel(ch *Channel) tea.Cmd {
	return func() tea.Msg {
		if err := ch.Open(context.Background()); err != nil {
			return channelEventMsg{ch: ch, ev: ChannelFailed{Err: err}}
		}
		return nextEvent(ch)
	}
}

func waitForEvent(ch *Channel) tea.Cmd {
	return func() tea.Msg { return nextEvent(ch) }
}

func nextEvent(ch *Channel) tea.Msg {
	ev, ok := <-ch.Events()
	if !ok {
		return channelDoneMsg{ch: ch}
	}
	return channelEventMsg{ch: ch, ev: ev}
}

func (m ManagerModel) send(req Request) tea.Cmd {
	ch := m.ch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		return sendResultMsg{ch: ch, err: ch.Send(ctx, req)}
	}
}

func (m ManagerModel) newRequestID() string {
	if !m.deps.Correlate {
		return ""
	}
	return ulid.Make().String()
}

// Update handles all incoming messages.
func (m ManagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case channelEventMsg:
		if msg.ch != m.ch {
			return m, nil
		}
		ev := msg.ev
		if _, ok := ev.(ChannelOpened); ok && m.deps.Correlate {
			ev = openedWithID(m.newRequestID())
		}
		if cm, ok := ev.(ChannelMessage); ok {
			ev = m.decode(cm)
		}
		cmds := []tea.Cmd{waitForEvent(m.ch)}
		if cmd := m.apply(ev); cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case channelDoneMsg:
		return m, nil

	case sendResultMsg:
		if msg.ch != m.ch || msg.err == nil {
			return m, nil
		}
		m.deps.Logger.Warn("send to helper failed", "error", msg.err)
		m.apply(SendFailed{Err: msg.err})
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// decode parses a helper message and logs what the state will not act on.
func (m ManagerModel) decode(cm ChannelMessage) decodedMessage {
	resp, err := DecodeResponse(cm.Data)
	switch {
	case err != nil:
		m.deps.Logger.Warn("bad helper message", "error", err)
	case !knownResponse(resp.Type):
		m.deps.Logger.Debug("ignoring helper message", "type", resp.Type)
	}
	return decodedMessage{Resp: resp, Err: err}
}

// apply runs ev through the state record and returns the send command for
// the request it produced, if any.
func (m *ManagerModel) apply(ev any) tea.Cmd {
	next, req := m.state.Apply(ev)
	m.state = next
	if m.cursor >= len(m.state.Devices) {
		m.cursor = max(len(m.state.Devices)-1, 0)
	}
	if req == nil {
		return nil
	}
	return m.send(*req)
}

func (m ManagerModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.ch.Close()
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.state.Devices)-1 {
			m.cursor++
		}

	case "enter", "b":
		if m.state.Loading || len(m.state.Devices) == 0 {
			return m, nil
		}
		dev := m.state.Devices[m.cursor]
		return m, m.apply(BatteryRequested{Device: dev, RequestID: m.newRequestID()})

	case "r":
		if m.state.Loading {
			return m, nil
		}
		return m, m.apply(RefreshRequested{RequestID: m.newRequestID()})

	case "c":
		if m.state.Conn != StateClosed {
			return m, nil
		}
		m.ch.Close()
		m.ch = NewChannel(m.deps.Endpoint, m.deps.Channel)
		m.state = newManagerState()
		m.cursor = 0
		m.deps.Logger.Info("reconnecting to helper")
		return m, openChannel(m.ch)
	}
	return m, nil
}

const emptyDevicesText = "No devices found. Make sure the helper is running and Bluetooth is enabled."

// View renders the device manager.
func (m ManagerModel) View() string {
	s := m.state
	var b strings.Builder

	b.WriteString(styleTitle.Render("Bluetooth Devices"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n\n", styleDim.Render(m.deps.Endpoint), connStateStyle(s.Conn).Render(string(s.Conn)))

	if s.Err != "" {
		b.WriteString(styleError.Render(s.Err))
		b.WriteString("\n")
	}
	if s.Loading {
		fmt.Fprintf(&b, "%s Loading...\n", m.spinner.View())
	}
	if !s.Loading && len(s.Devices) == 0 {
		b.WriteString(emptyDevicesText)
		b.WriteString("\n")
	}
	if !s.Loading && len(s.Devices) > 0 {
		for i, d := range s.Devices {
			line := fmt.Sprintf("%s (%s) %s", d.Name, d.Address, styleButton.Render("[Get Battery]"))
			if i == m.cursor {
				b.WriteString(styleSelected.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
	}

	if s.Selected != nil {
		if s.Battery != nil {
			b.WriteString("\n" + styleHeading.Render("Battery Level for "+s.Selected.Name) + "\n")
			fmt.Fprintf(&b, "%d%%\n", *s.Battery)
		} else if !s.Loading {
			b.WriteString("\n" + styleHeading.Render("Battery Level for "+s.Selected.Name) + "\n")
			b.WriteString("Battery information not available.\n")
		}
	}

	help := "↑/↓ select · enter battery · r refresh · q quit"
	if s.Conn == StateClosed {
		help += " · c reconnect"
	}
	b.WriteString("\n" + styleDim.Render(help) + "\n")
	return b.String()
}
