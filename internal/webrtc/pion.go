package webrtc

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/NickNameYouTuber/NIMeet/internal/config"
	"github.com/NickNameYouTuber/NIMeet/internal/netutil"
)

// NewPionTransportFactory builds transports over pion peer connections
// configured from the resolved STUN/TURN settings.
func NewPionTransportFactory(cfg *config.Config, logger *slog.Logger) TransportFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func() (Transport, error) {
		return newPionTransport(cfg, logger)
	}
}

type pionTransport struct {
	pc     *pion.PeerConnection
	logger *slog.Logger

	mu sync.Mutex
	// Per-stream track totals observed so far, a structural input to
	// classification when no better hint exists.
	streamAudio map[string]int
	streamVideo map[string]int

	onTrack func(t RemoteTrack)
}

func newPionTransport(cfg *config.Config, logger *slog.Logger) (*pionTransport, error) {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || netutil.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, newError("create peer connection", err)
	}

	t := &pionTransport{
		pc:          pc,
		logger:      logger.With("component", "transport"),
		streamAudio: make(map[string]int),
		streamVideo: make(map[string]int),
	}
	pc.OnTrack(t.handleTrack)
	return t, nil
}

func (t *pionTransport) CreateOffer(iceRestart bool) (pion.SessionDescription, error) {
	var opts *pion.OfferOptions
	if iceRestart {
		opts = &pion.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return pion.SessionDescription{}, newError("create offer", err)
	}
	return offer, nil
}

func (t *pionTransport) CreateAnswer() (pion.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return pion.SessionDescription{}, newError("create answer", err)
	}
	return answer, nil
}

func (t *pionTransport) SetLocalDescription(desc pion.SessionDescription) error {
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return newError("set local description", err)
	}
	return nil
}

func (t *pionTransport) SetRemoteDescription(desc pion.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return newError("set remote description", err)
	}
	return nil
}

func (t *pionTransport) Rollback() error {
	rollback := pion.SessionDescription{Type: pion.SDPTypeRollback}
	if err := t.pc.SetLocalDescription(rollback); err != nil {
		return newError("rollback local description", err)
	}
	return nil
}

func (t *pionTransport) AddICECandidate(candidate pion.ICECandidateInit) error {
	if err := t.pc.AddICECandidate(candidate); err != nil {
		return newError("add ice candidate", err)
	}
	return nil
}

func (t *pionTransport) AddTrack(track *LocalTrack) (Sender, error) {
	source := track.Source()
	if source == nil {
		return nil, newError("add track", ErrNoTransport)
	}
	rtpSender, err := t.pc.AddTrack(source)
	if err != nil {
		return nil, newError("add track", err)
	}
	go drainRTCP(rtpSender)
	return &pionSender{sender: rtpSender, track: track}, nil
}

func (t *pionTransport) RemoveTrack(s Sender) error {
	ps, ok := s.(*pionSender)
	if !ok {
		return newError("remove track", ErrNoTransport)
	}
	if err := t.pc.RemoveTrack(ps.sender); err != nil {
		return newError("remove track", err)
	}
	return nil
}

func (t *pionTransport) AddRecvOnlyTransceiver(kind TrackKind) error {
	codecType := pion.RTPCodecTypeAudio
	if kind == TrackVideo {
		codecType = pion.RTPCodecTypeVideo
	}
	_, err := t.pc.AddTransceiverFromKind(codecType, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return newError("add recvonly transceiver", err)
	}
	return nil
}

func (t *pionTransport) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, newError("create data channel", err)
	}
	return &pionDataChannel{dc: dc}, nil
}

func (t *pionTransport) OnTrack(fn func(track RemoteTrack)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *pionTransport) OnICECandidate(fn func(c pion.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (t *pionTransport) OnConnectionStateChange(fn func(s ConnectionState)) {
	t.pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		fn(mapConnectionState(s))
	})
}

func (t *pionTransport) OnDataChannel(fn func(dc DataChannel)) {
	t.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(&pionDataChannel{dc: dc})
	})
}

func (t *pionTransport) Close() error {
	if err := t.pc.Close(); err != nil {
		return newError("close peer connection", err)
	}
	return nil
}

func (t *pionTransport) handleTrack(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
	kind := TrackAudio
	if remote.Kind() == pion.RTPCodecTypeVideo {
		kind = TrackVideo
	}

	t.mu.Lock()
	if kind == TrackAudio {
		t.streamAudio[remote.StreamID()]++
	} else {
		t.streamVideo[remote.StreamID()]++
	}
	track := RemoteTrack{
		ID:               remote.ID(),
		StreamID:         remote.StreamID(),
		Kind:             kind,
		StreamAudioCount: t.streamAudio[remote.StreamID()],
		StreamVideoCount: t.streamVideo[remote.StreamID()],
	}
	fn := t.onTrack
	t.mu.Unlock()

	if fn != nil {
		fn(track)
	}

	// Keep reading so the interceptor pipeline and NACK/PLI feedback run;
	// payload rendering is up to the consumer.
	for {
		if _, _, err := remote.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("remote track read ended", "track", remote.ID(), "err", err)
			}
			return
		}
	}
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func mapConnectionState(s pion.PeerConnectionState) ConnectionState {
	switch s {
	case pion.PeerConnectionStateNew:
		return ConnectionNew
	case pion.PeerConnectionStateConnecting:
		return ConnectionConnecting
	case pion.PeerConnectionStateConnected:
		return ConnectionConnected
	case pion.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case pion.PeerConnectionStateFailed:
		return ConnectionFailed
	case pion.PeerConnectionStateClosed:
		return ConnectionClosed
	}
	return ConnectionNew
}

type pionSender struct {
	sender *pion.RTPSender

	mu    sync.Mutex
	track *LocalTrack
}

func (s *pionSender) Track() *LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *pionSender) ReplaceTrack(t *LocalTrack) error {
	source := t.Source()
	if source == nil {
		return newError("replace track", ErrNoTransport)
	}
	if err := s.sender.ReplaceTrack(source); err != nil {
		return newError("replace track", err)
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type pionDataChannel struct {
	dc *pion.DataChannel
}

func (d *pionDataChannel) Label() string { return d.dc.Label() }

func (d *pionDataChannel) Send(data []byte) error {
	if d.dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	if err := d.dc.Send(data); err != nil {
		return newError("data channel send", err)
	}
	return nil
}

func (d *pionDataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *pionDataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *pionDataChannel) Close() error {
	if err := d.dc.Close(); err != nil {
		return newError("data channel close", err)
	}
	return nil
}
