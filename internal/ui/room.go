package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

const maxLogLines = 10

// Messages pushed into the room view from session and engine callbacks via
// Program.Send.
type (
	// RosterMsg replaces the participant list.
	RosterMsg []protocol.Participant

	// StatusMsg updates the connection status line.
	StatusMsg string

	// ChatMsg appends a chat line.
	ChatMsg struct {
		Sender string
		Text   string
		At     time.Time
	}

	// EventMsg appends a one-line room event (streams appearing, shares
	// starting).
	EventMsg string

	// EvictedMsg ends the view because a newer session took the room slot.
	EvictedMsg struct{}

	// FatalMsg ends the view with an error.
	FatalMsg string
)

// MediaControls are the in-call actions the view invokes on key presses.
type MediaControls struct {
	ToggleCamera     func() (bool, error)
	ToggleMicrophone func() (bool, error)
	StartScreen      func() (string, error)
	StopScreen       func() error
	SendChat         func(text string)
}

// RoomModel is the in-call bubbletea view: roster, event log, chat and
// media key bindings.
type RoomModel struct {
	roomID   string
	username string
	controls MediaControls

	status  string
	joined  bool
	spinner spinner.Model
	input   textinput.Model

	participants []protocol.Participant
	log          []string

	camOn   bool
	micOn   bool
	sharing bool

	exitReason string
	quitting   bool
}

func NewRoomModel(roomID, username string, camOn, micOn bool, controls MediaControls) RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	input := textinput.New()
	input.Placeholder = "type a message, enter to send"
	input.CharLimit = 500
	input.Width = 48

	return RoomModel{
		roomID:   roomID,
		username: username,
		controls: controls,
		status:   "connecting",
		spinner:  s,
		input:    input,
		camOn:    camOn,
		micOn:    micOn,
	}
}

func (m RoomModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case RosterMsg:
		m.participants = msg
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		m.joined = m.status == "connected"
		return m, nil

	case ChatMsg:
		line := fmt.Sprintf("%s %s %s: %s",
			MutedStyle.Render(msg.At.Format("15:04")),
			IconChat,
			BoldStyle.Render(msg.Sender),
			msg.Text,
		)
		m.appendLog(line)
		return m, nil

	case EventMsg:
		m.appendLog(MutedStyle.Render(string(msg)))
		return m, nil

	case EvictedMsg:
		m.exitReason = "You joined this room from another device."
		m.quitting = true
		return m, tea.Quit

	case FatalMsg:
		m.exitReason = string(msg)
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m RoomModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.input.Focused() {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			m.input.Blur()
			if text != "" && m.controls.SendChat != nil {
				m.controls.SendChat(text)
				m.appendLog(fmt.Sprintf("%s %s %s: %s",
					MutedStyle.Render(time.Now().Format("15:04")),
					IconChat,
					BoldStyle.Render(m.username),
					text,
				))
			}
			return m, nil
		case tea.KeyEsc:
			m.input.Blur()
			return m, nil
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "c":
		if m.controls.ToggleCamera != nil {
			enabled, err := m.controls.ToggleCamera()
			if err != nil {
				m.appendLog(ErrorStyle.Render("camera: " + err.Error()))
			} else {
				m.camOn = enabled
			}
		}
		return m, nil

	case "m":
		if m.controls.ToggleMicrophone != nil {
			enabled, err := m.controls.ToggleMicrophone()
			if err != nil {
				m.appendLog(ErrorStyle.Render("microphone: " + err.Error()))
			} else {
				m.micOn = enabled
			}
		}
		return m, nil

	case "s":
		return m.toggleScreen()

	case "t", "enter":
		m.input.Focus()
		return m, textinput.Blink
	}

	return m, nil
}

func (m RoomModel) toggleScreen() (tea.Model, tea.Cmd) {
	if m.sharing {
		if m.controls.StopScreen != nil {
			if err := m.controls.StopScreen(); err != nil {
				m.appendLog(ErrorStyle.Render("screen share: " + err.Error()))
				return m, nil
			}
		}
		m.sharing = false
		m.appendLog(MutedStyle.Render("screen share stopped"))
		return m, nil
	}

	if m.controls.StartScreen != nil {
		if _, err := m.controls.StartScreen(); err != nil {
			m.appendLog(ErrorStyle.Render("screen share: " + err.Error()))
			return m, nil
		}
	}
	m.sharing = true
	m.appendLog(MutedStyle.Render("screen share started"))
	return m, nil
}

func (m *RoomModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m RoomModel) View() string {
	if m.quitting {
		if m.exitReason != "" {
			return WarningStyle.Render(m.exitReason) + "\n"
		}
		return ""
	}

	var b strings.Builder

	status := m.status
	if !m.joined {
		status = m.spinner.View() + " " + status
	}
	header := fmt.Sprintf("%s %s   %s", IconRoom, BoldStyle.Render(m.roomID), StatusStyle.Render(status))
	b.WriteString(TitleStyle.Render(header))
	b.WriteString("\n")

	b.WriteString(m.rosterView())
	b.WriteString("\n")

	if len(m.log) > 0 {
		b.WriteString(strings.Join(m.log, "\n"))
		b.WriteString("\n")
	}

	if m.input.Focused() {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString(m.footerView())
	return b.String()
}

func (m RoomModel) rosterView() string {
	if len(m.participants) == 0 {
		return MutedStyle.Render(IconWaiting + " waiting for others to join")
	}

	rows := make([][]string, 0, len(m.participants))
	for _, p := range m.participants {
		rows = append(rows, []string{
			p.Username,
			onOff(p.MediaState.Camera, IconCamera),
			onOff(p.MediaState.Microphone, IconMic),
			onOff(p.MediaState.Screen, IconScreen),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Cam", "Mic", "Screen").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func (m RoomModel) footerView() string {
	parts := []string{
		onOff(m.camOn, IconCamera) + " [c]am",
		onOff(m.micOn, IconMic) + " [m]ic",
		onOff(m.sharing, IconScreen) + " [s]hare",
		IconChat + " [t]alk",
		"[q]uit",
	}
	return MutedStyle.Render(strings.Join(parts, "  "))
}

func onOff(on bool, icon string) string {
	if on {
		return icon
	}
	return MutedStyle.Render("·")
}
