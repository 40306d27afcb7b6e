package webrtc

import (
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// fakeTransport records every call so tests can assert on the negotiation
// traffic without a live peer connection.
type fakeTransport struct {
	mu sync.Mutex

	offers      int
	iceRestarts int
	answers     int
	rollbacks   int
	localDescs  []pion.SessionDescription
	remoteDescs []pion.SessionDescription
	candidates  []pion.ICECandidateInit

	added    []*LocalTrack
	removed  int
	recvonly []TrackKind
	channels []*fakeDataChannel
	closed   bool

	failOffer error

	onTrack       func(t RemoteTrack)
	onICE         func(c pion.ICECandidateInit)
	onState       func(s ConnectionState)
	onDataChannel func(dc DataChannel)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) CreateOffer(iceRestart bool) (pion.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOffer != nil {
		return pion.SessionDescription{}, f.failOffer
	}
	f.offers++
	if iceRestart {
		f.iceRestarts++
	}
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", f.offers)}, nil
}

func (f *fakeTransport) CreateAnswer() (pion.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", f.answers)}, nil
}

func (f *fakeTransport) SetLocalDescription(desc pion.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDescs = append(f.localDescs, desc)
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc pion.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

func (f *fakeTransport) AddICECandidate(candidate pion.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) AddTrack(t *LocalTrack) (Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, t)
	return &fakeSender{track: t}, nil
}

func (f *fakeTransport) RemoveTrack(s Sender) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeTransport) AddRecvOnlyTransceiver(kind TrackKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvonly = append(f.recvonly, kind)
	return nil
}

func (f *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dc := &fakeDataChannel{label: label}
	f.channels = append(f.channels, dc)
	return dc, nil
}

func (f *fakeTransport) OnTrack(fn func(t RemoteTrack))               { f.onTrack = fn }
func (f *fakeTransport) OnICECandidate(fn func(c pion.ICECandidateInit)) { f.onICE = fn }
func (f *fakeTransport) OnConnectionStateChange(fn func(s ConnectionState)) { f.onState = fn }
func (f *fakeTransport) OnDataChannel(fn func(dc DataChannel))        { f.onDataChannel = fn }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeTransport) recvonlyKinds() []TrackKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TrackKind(nil), f.recvonly...)
}

type fakeSender struct {
	mu       sync.Mutex
	track    *LocalTrack
	replaced int
}

func (s *fakeSender) Track() *LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t *LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaced++
	return nil
}

type fakeDataChannel struct {
	mu        sync.Mutex
	label     string
	sent      [][]byte
	closed    bool
	onMessage func(data []byte)
	onOpen    func()
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, data)
	return nil
}

func (d *fakeDataChannel) OnOpen(fn func())               { d.onOpen = fn }
func (d *fakeDataChannel) OnMessage(fn func(data []byte)) { d.onMessage = fn }

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type sentEnvelope struct {
	target string
	sdp    pion.SessionDescription
}

// fakeSignaler records outbound signaling instead of relaying it.
type fakeSignaler struct {
	mu         sync.Mutex
	offers     []sentEnvelope
	answers    []sentEnvelope
	candidates []string
	announced  []string
	retracted  int
}

func (s *fakeSignaler) SendOffer(target string, sdp pion.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sentEnvelope{target: target, sdp: sdp})
	return nil
}

func (s *fakeSignaler) SendAnswer(target string, sdp pion.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sentEnvelope{target: target, sdp: sdp})
	return nil
}

func (s *fakeSignaler) SendICECandidate(target string, candidate pion.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, target)
	return nil
}

func (s *fakeSignaler) AnnounceScreenShare(streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced = append(s.announced, streamID)
	return nil
}

func (s *fakeSignaler) RetractScreenShare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retracted++
	return nil
}

func (s *fakeSignaler) offerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offers)
}

func (s *fakeSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// fakeDevices hands out tracks with nil sources; negotiation logic never
// touches the sample pipeline.
type fakeDevices struct {
	mu       sync.Mutex
	denyUser bool
	denyDisp bool
	serial   int
}

func (d *fakeDevices) GetUserMedia(c MediaConstraints) (*MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denyUser {
		return nil, ErrDeviceDenied
	}
	d.serial++
	stream := NewMediaStream(fmt.Sprintf("stream-%d", d.serial))
	if c.Audio {
		stream.AddTrack(NewLocalTrack(TrackAudio, fmt.Sprintf("audio-%d", d.serial), stream.ID(), "microphone", nil))
	}
	if c.Video {
		stream.AddTrack(NewLocalTrack(TrackVideo, fmt.Sprintf("video-%d", d.serial), stream.ID(), "camera", nil))
	}
	return stream, nil
}

func (d *fakeDevices) GetDisplayMedia() (*MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denyDisp {
		return nil, ErrDeviceDenied
	}
	d.serial++
	stream := NewMediaStream(fmt.Sprintf("%sdisplay-%d", ScreenStreamPrefix, d.serial))
	stream.AddTrack(NewLocalTrack(TrackVideo, fmt.Sprintf("screen-track-%d", d.serial), stream.ID(), "screen", nil))
	return stream, nil
}

// staticProvider is a fixed TrackProvider for link tests.
type staticProvider struct {
	tracks []*LocalTrack
	screen *LocalTrack
}

func (p *staticProvider) LocalTracks() []*LocalTrack { return p.tracks }
func (p *staticProvider) ScreenTrack() *LocalTrack   { return p.screen }
