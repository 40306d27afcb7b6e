package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/NickNameYouTuber/NIMeet/internal/client"
	"github.com/NickNameYouTuber/NIMeet/internal/config"
	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
	"github.com/NickNameYouTuber/NIMeet/internal/ui"
	"github.com/NickNameYouTuber/NIMeet/internal/webrtc"
)

var (
	flagName     string
	flagDomain   string
	flagInsecure bool
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagNoCamera bool
	flagNoMic    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a conference room",
	Long: `Join a NIMeet room and start exchanging media with its participants.

Examples:
  nimeet join kitten-waffle-stardust-happy
  nimeet join --name alice --no-camera standup
  nimeet join --domain meet.example.com --relay retro`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name (random guest name when empty)")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "signaling server domain")
	joinCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "use ws:// instead of wss://")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", "", "custom STUN server")
	joinCmd.Flags().StringVar(&flagTURN, "turn", "", "custom TURN server")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagRelay, "relay", false, "force media through the TURN relay")
	joinCmd.Flags().BoolVar(&flagNoCamera, "no-camera", false, "join without camera")
	joinCmd.Flags().BoolVar(&flagNoMic, "no-mic", false, "join without microphone")

	rootCmd.AddCommand(joinCmd)
}

// callStats counts what happened during the call for the exit summary.
type callStats struct {
	mu        sync.Mutex
	peersSeen map[string]struct{}
	chats     int
	shares    int
	started   time.Time
}

func (s *callStats) sawPeers(parts []protocol.Participant) {
	s.mu.Lock()
	for _, p := range parts {
		s.peersSeen[p.ConnectionID] = struct{}{}
	}
	s.mu.Unlock()
}

func joinRoom(roomID string) error {
	username := flagName
	if username == "" {
		username = client.GuestName()
	}

	cfg, err := config.Load(config.Options{
		Domain:     flagDomain,
		Insecure:   flagInsecure,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	})
	if err != nil {
		return err
	}

	logger := slog.Default()
	media := webrtc.NewMediaSession(webrtc.NewSyntheticDevices(logger), logger)
	media.Acquire(webrtc.MediaConstraints{
		Audio: !flagNoMic,
		Video: !flagNoCamera,
	})

	session := client.NewSession(cfg, roomID, client.GuestUserID(), username, media, logger)

	stats := &callStats{
		peersSeen: make(map[string]struct{}),
		started:   time.Now(),
	}

	model := ui.NewRoomModel(roomID, username, !flagNoCamera, !flagNoMic, ui.MediaControls{
		ToggleCamera:     session.ToggleCamera,
		ToggleMicrophone: session.ToggleMicrophone,
		StartScreen: func() (string, error) {
			id, err := session.StartScreenShare()
			if err == nil {
				stats.mu.Lock()
				stats.shares++
				stats.mu.Unlock()
			}
			return id, err
		},
		StopScreen: session.StopScreenShare,
		SendChat: func(text string) {
			session.SendChat(text)
			stats.mu.Lock()
			stats.chats++
			stats.mu.Unlock()
		},
	})
	program := tea.NewProgram(model)

	wireCallbacks(program, session, stats)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(ctx)
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		session.Close()
		return err
	}

	session.Close()
	cancel()
	if err := <-runErr; err != nil {
		ui.PrintWarning("session ended with error: " + err.Error())
	}

	stats.mu.Lock()
	summary := ui.CallSummary{
		Room:         roomID,
		Duration:     fmt.Sprintf("%.0f seconds", time.Since(stats.started).Seconds()),
		PeersSeen:    len(stats.peersSeen),
		ChatMessages: stats.chats,
		ScreenShares: stats.shares,
	}
	stats.mu.Unlock()
	ui.RenderCallSummary("📊 Call Summary", summary)

	return nil
}

// wireCallbacks routes session and engine events into the bubbletea view.
func wireCallbacks(program *tea.Program, session *client.Session, stats *callStats) {
	engine := session.Engine()

	session.OnStatusChange(func(st client.Status) {
		program.Send(ui.StatusMsg(st.String()))
		if st == client.StatusConnected {
			if flagNoCamera {
				session.DeclareMediaState(protocol.MediaCamera, false)
			}
			if flagNoMic {
				session.DeclareMediaState(protocol.MediaMicrophone, false)
			}
		}
	})
	session.OnEvicted(func() {
		program.Send(ui.EvictedMsg{})
	})
	session.OnServerError(func(reason string) {
		program.Send(ui.FatalMsg("server error: " + reason))
	})

	engine.OnRosterChange(func(parts []protocol.Participant) {
		stats.sawPeers(parts)
		program.Send(ui.RosterMsg(parts))
	})
	engine.OnChatMessage(func(msg webrtc.ChatMessage) {
		stats.mu.Lock()
		stats.chats++
		stats.mu.Unlock()
		program.Send(ui.ChatMsg{Sender: msg.Sender, Text: msg.Text, At: msg.SentAt})
	})
	engine.OnRemoteCameraStream(func(connID string, s *webrtc.RemoteStream) {
		program.Send(ui.EventMsg(fmt.Sprintf("%s receiving camera from %s", ui.IconCamera, peerName(engine, connID))))
	})
	engine.OnRemoteScreenStream(func(connID string, s *webrtc.RemoteStream) {
		if s == nil {
			program.Send(ui.EventMsg(fmt.Sprintf("%s %s stopped sharing", ui.IconScreen, peerName(engine, connID))))
			return
		}
		program.Send(ui.EventMsg(fmt.Sprintf("%s %s is sharing their screen", ui.IconScreen, peerName(engine, connID))))
	})
	engine.OnPeerRemoved(func(connID string) {
		program.Send(ui.EventMsg(ui.IconPeer + " a participant left"))
	})
}

func peerName(engine *webrtc.Engine, connID string) string {
	for _, p := range engine.Roster() {
		if p.ConnectionID == connID {
			return p.Username
		}
	}
	return "participant"
}
