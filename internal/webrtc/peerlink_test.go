package webrtc

import (
	"testing"

	pion "github.com/pion/webrtc/v4"
)

func newTestLink(localID, remoteID string, provider TrackProvider) (*PeerLink, *fakeTransport, *fakeSignaler) {
	transport := newFakeTransport()
	signaler := &fakeSignaler{}
	if provider == nil {
		provider = &staticProvider{}
	}
	link := NewPeerLink(localID, remoteID, transport, signaler, provider, nil)
	return link, transport, signaler
}

func remoteOffer(sdp string) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp}
}

func remoteAnswer(sdp string) pion.SessionDescription {
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp}
}

func TestCreateOfferGatesOnStableState(t *testing.T) {
	link, transport, signaler := newTestLink("a", "b", nil)

	if err := link.CreateOffer(false); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	if got := link.State(); got != StateHaveLocalOffer {
		t.Fatalf("state = %v, want have-local-offer", got)
	}

	// A second call while the first round is in flight is a no-op.
	if err := link.CreateOffer(false); err != nil {
		t.Fatalf("second offer: %v", err)
	}
	if got := transport.offerCount(); got != 1 {
		t.Errorf("transport offers = %d, want 1", got)
	}
	if got := signaler.offerCount(); got != 1 {
		t.Errorf("sent offers = %d, want 1", got)
	}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	link, _, _ := newTestLink("a", "b", nil)

	if err := link.CreateOffer(false); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := link.HandleAnswer(remoteAnswer("answer")); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if got := link.State(); got != StateStable {
		t.Errorf("state = %v, want stable", got)
	}
}

func TestHandleOfferProducesAnswer(t *testing.T) {
	link, transport, signaler := newTestLink("a", "b", nil)

	if err := link.HandleOffer(remoteOffer("offer")); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if got := link.State(); got != StateStable {
		t.Errorf("state = %v, want stable after answering", got)
	}
	if got := signaler.answerCount(); got != 1 {
		t.Errorf("sent answers = %d, want 1", got)
	}
	if transport.answers != 1 {
		t.Errorf("transport answers = %d, want 1", transport.answers)
	}
}

func TestGlareTieBreak(t *testing.T) {
	tests := []struct {
		name          string
		localID       string
		remoteID      string
		wantRollbacks int
		wantAnswers   int
		wantState     NegotiationState
	}{
		{
			name:          "lower id wins and ignores remote offer",
			localID:       "aaa",
			remoteID:      "bbb",
			wantRollbacks: 0,
			wantAnswers:   0,
			wantState:     StateHaveLocalOffer,
		},
		{
			name:          "higher id rolls back and answers",
			localID:       "bbb",
			remoteID:      "aaa",
			wantRollbacks: 1,
			wantAnswers:   1,
			wantState:     StateStable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, transport, signaler := newTestLink(tt.localID, tt.remoteID, nil)

			if err := link.CreateOffer(false); err != nil {
				t.Fatalf("create offer: %v", err)
			}
			if err := link.HandleOffer(remoteOffer("glare")); err != nil {
				t.Fatalf("handle offer: %v", err)
			}

			if transport.rollbacks != tt.wantRollbacks {
				t.Errorf("rollbacks = %d, want %d", transport.rollbacks, tt.wantRollbacks)
			}
			if got := signaler.answerCount(); got != tt.wantAnswers {
				t.Errorf("answers = %d, want %d", got, tt.wantAnswers)
			}
			if got := link.State(); got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestGlareWinnerStillAcceptsAnswer(t *testing.T) {
	link, _, _ := newTestLink("aaa", "bbb", nil)

	if err := link.CreateOffer(false); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	// We won the glare race; the remote rolls back and its answer to our
	// still-pending offer must apply.
	if err := link.HandleOffer(remoteOffer("glare")); err != nil {
		t.Fatalf("handle offer: %v", err)
	}
	if err := link.HandleAnswer(remoteAnswer("late-answer")); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if got := link.State(); got != StateStable {
		t.Errorf("state = %v, want stable", got)
	}
}

func TestStaleAnswerDropped(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	if err := link.HandleAnswer(remoteAnswer("stale")); err != nil {
		t.Fatalf("handle answer: %v", err)
	}
	if len(transport.remoteDescs) != 0 {
		t.Errorf("remote descriptions applied = %d, want 0", len(transport.remoteDescs))
	}
	if got := link.State(); got != StateStable {
		t.Errorf("state = %v, want stable", got)
	}
}

func TestICECandidateAcceptedInAnyState(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	states := []func() error{
		func() error { return link.HandleICECandidate(pion.ICECandidateInit{Candidate: "c1"}) },
		func() error {
			if err := link.CreateOffer(false); err != nil {
				return err
			}
			return link.HandleICECandidate(pion.ICECandidateInit{Candidate: "c2"})
		},
	}
	for _, step := range states {
		if err := step(); err != nil {
			t.Fatalf("step failed: %v", err)
		}
	}
	if len(transport.candidates) != 2 {
		t.Errorf("candidates applied = %d, want 2", len(transport.candidates))
	}
}

func TestRecvOnlyPlaceholders(t *testing.T) {
	t.Run("no local tracks adds audio and video lines once", func(t *testing.T) {
		link, transport, _ := newTestLink("a", "b", nil)

		if err := link.CreateOffer(false); err != nil {
			t.Fatalf("create offer: %v", err)
		}
		if err := link.HandleAnswer(remoteAnswer("a1")); err != nil {
			t.Fatalf("handle answer: %v", err)
		}
		if err := link.CreateOffer(false); err != nil {
			t.Fatalf("second offer: %v", err)
		}

		got := transport.recvonlyKinds()
		if len(got) != 2 || got[0] != TrackAudio || got[1] != TrackVideo {
			t.Errorf("recvonly = %v, want [audio video]", got)
		}
	})

	t.Run("expected screen share reserves an extra video line", func(t *testing.T) {
		link, transport, _ := newTestLink("a", "b", nil)
		link.ExpectScreen()

		if err := link.CreateOffer(false); err != nil {
			t.Fatalf("create offer: %v", err)
		}

		got := transport.recvonlyKinds()
		if len(got) != 3 {
			t.Fatalf("recvonly lines = %d, want 3", len(got))
		}
		if got[2] != TrackVideo {
			t.Errorf("extra line kind = %v, want video", got[2])
		}
	})

	t.Run("local tracks suppress placeholders", func(t *testing.T) {
		provider := &staticProvider{tracks: []*LocalTrack{
			NewLocalTrack(TrackAudio, "a1", "s1", "microphone", nil),
			NewLocalTrack(TrackVideo, "v1", "s1", "camera", nil),
		}}
		link, transport, _ := newTestLink("a", "b", provider)

		if err := link.CreateOffer(false); err != nil {
			t.Fatalf("create offer: %v", err)
		}
		if got := transport.recvonlyKinds(); len(got) != 0 {
			t.Errorf("recvonly = %v, want none", got)
		}
		if len(transport.added) != 2 {
			t.Errorf("tracks added = %d, want 2", len(transport.added))
		}
	})
}

func TestAttachTrackReplacesWithoutNewSender(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	first := NewLocalTrack(TrackVideo, "v1", "s1", "camera", nil)
	added, err := link.AttachTrack(first)
	if err != nil || !added {
		t.Fatalf("first attach: added=%v err=%v", added, err)
	}

	second := NewLocalTrack(TrackVideo, "v2", "s2", "camera", nil)
	added, err = link.AttachTrack(second)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if added {
		t.Error("replacing a track must not report a new sender")
	}
	if got := link.SenderCount(TrackVideo); got != 1 {
		t.Errorf("video senders = %d, want 1", got)
	}
	if len(transport.added) != 1 {
		t.Errorf("transport AddTrack calls = %d, want 1", len(transport.added))
	}
}

func TestScreenSenderIndependentOfCamera(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	camera := NewLocalTrack(TrackVideo, "v1", "s1", "camera", nil)
	if _, err := link.AttachTrack(camera); err != nil {
		t.Fatalf("attach camera: %v", err)
	}

	screen := NewLocalTrack(TrackVideo, "scr1", ScreenStreamPrefix+"s2", "screen", nil)
	if err := link.AttachScreen(screen); err != nil {
		t.Fatalf("attach screen: %v", err)
	}
	if !link.HasScreenSender() {
		t.Fatal("expected a screen sender")
	}
	if got := link.SenderCount(TrackVideo); got != 1 {
		t.Errorf("camera senders = %d, want 1 alongside screen", got)
	}

	if err := link.DetachScreen(); err != nil {
		t.Fatalf("detach screen: %v", err)
	}
	if link.HasScreenSender() {
		t.Error("screen sender should be gone")
	}
	if transport.removed != 1 {
		t.Errorf("RemoveTrack calls = %d, want 1", transport.removed)
	}
	if got := link.SenderCount(TrackVideo); got != 1 {
		t.Errorf("camera senders after detach = %d, want 1", got)
	}
}

func TestICERestartGoesThroughStableGate(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	link.RestartICE()
	if transport.iceRestarts != 1 {
		t.Fatalf("ice restarts = %d, want 1", transport.iceRestarts)
	}

	// While the restart offer is in flight, another restart is a no-op.
	link.RestartICE()
	if transport.iceRestarts != 1 {
		t.Errorf("ice restarts = %d, want still 1", transport.iceRestarts)
	}
}

func TestClosedLinkRefusesOperations(t *testing.T) {
	link, transport, _ := newTestLink("a", "b", nil)

	if err := link.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !transport.closed {
		t.Error("transport not closed")
	}
	if err := link.CreateOffer(false); err != ErrPeerClosed {
		t.Errorf("CreateOffer after close = %v, want ErrPeerClosed", err)
	}
	if err := link.HandleOffer(remoteOffer("late")); err != ErrPeerClosed {
		t.Errorf("HandleOffer after close = %v, want ErrPeerClosed", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}
