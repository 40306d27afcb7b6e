package webrtc

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 66 * time.Millisecond
)

// SyntheticDevices produces pion sample tracks fed by generator goroutines.
// It stands in for real capture hardware: the negotiated media lines, stream
// ids and enable/disable semantics are identical to a live capture pipeline,
// only the payload is synthetic.
type SyntheticDevices struct {
	logger *slog.Logger
}

func NewSyntheticDevices(logger *slog.Logger) *SyntheticDevices {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyntheticDevices{logger: logger.With("component", "devices")}
}

// GetUserMedia builds a camera/microphone stream per the constraints.
func (d *SyntheticDevices) GetUserMedia(c MediaConstraints) (*MediaStream, error) {
	stream := NewMediaStream(uuid.NewString())

	if c.Audio {
		track, err := d.newSampleTrack(TrackAudio, stream.ID(), "microphone")
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}
	if c.Video {
		track, err := d.newSampleTrack(TrackVideo, stream.ID(), "camera")
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}
	return stream, nil
}

// GetDisplayMedia builds a screen capture stream. The stream id carries the
// screen prefix so receivers can classify it without the relay announcement.
func (d *SyntheticDevices) GetDisplayMedia() (*MediaStream, error) {
	stream := NewMediaStream(ScreenStreamPrefix + uuid.NewString())
	track, err := d.newSampleTrack(TrackVideo, stream.ID(), "screen")
	if err != nil {
		return nil, err
	}
	stream.AddTrack(track)
	return stream, nil
}

func (d *SyntheticDevices) newSampleTrack(kind TrackKind, streamID, label string) (*LocalTrack, error) {
	var (
		capability pion.RTPCodecCapability
		interval   time.Duration
		payload    []byte
	)
	switch kind {
	case TrackAudio:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}
		interval = audioFrameInterval
		// An opus frame encoding 20ms of silence.
		payload = []byte{0xf8, 0xff, 0xfe}
	case TrackVideo:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}
		interval = videoFrameInterval
		payload = make([]byte, 128)
	default:
		return nil, ErrUnknownMediaKind
	}

	id := uuid.NewString()
	source, err := pion.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, newError("create sample track", err)
	}

	track := NewLocalTrack(kind, id, streamID, label, source)
	go d.pump(track, source, payload, interval)

	d.logger.Debug("synthetic track started", "kind", kind, "label", label, "stream_id", streamID)
	return track, nil
}

// pump writes samples until the track stops. Disabled tracks keep ticking
// but write nothing, matching a muted capture device.
func (d *SyntheticDevices) pump(track *LocalTrack, source *pion.TrackLocalStaticSample, payload []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-track.Done():
			return
		case <-ticker.C:
			if !track.Enabled() {
				continue
			}
			if err := source.WriteSample(media.Sample{Data: payload, Duration: interval}); err != nil {
				d.logger.Debug("sample write failed, stopping generator", "track", track.ID(), "err", err)
				return
			}
		}
	}
}
