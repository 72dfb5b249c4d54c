package discord

import (
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"

	"github.com/osahiro/groovebox/internal/app/session"
)

const (
	sampleRate     = 48000
	channels       = 2
	frameSamples   = 960 // 20ms at 48kHz
	pcmFrameBytes  = frameSamples * channels * 2
	maxOpusPayload = 1400
)

var ErrNotConnected = errors.New("not connected to a voice channel")

// Transport sends audio for one guild to its voice channel: the
// stream locator is fed through an ffmpeg decode pipe and encoded to
// opus frames on the fly.
type Transport struct {
	dg      *discordgo.Session
	guildID string
	bitrate int // bits per second

	mu sync.Mutex
	vc *discordgo.VoiceConnection
}

// NewTransport creates a transport bound to one guild.
func NewTransport(dg *discordgo.Session, guildID string, bitrateKbps int) *Transport {
	return &Transport{dg: dg, guildID: guildID, bitrate: bitrateKbps * 1000}
}

// Connect joins the voice channel, moving there when already connected
// elsewhere.
func (t *Transport) Connect(ctx context.Context, voiceChannelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vc != nil && t.vc.ChannelID == voiceChannelID {
		return nil
	}
	vc, err := t.dg.ChannelVoiceJoin(t.guildID, voiceChannelID, false, true)
	if err != nil {
		return errors.Wrap(err, "failed to join voice channel")
	}
	t.vc = vc
	return nil
}

// Move relocates the transport to another voice channel.
func (t *Transport) Move(ctx context.Context, voiceChannelID string) error {
	return t.Connect(ctx, voiceChannelID)
}

// Disconnect leaves the voice channel.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.vc == nil {
		return nil
	}
	_ = t.vc.Speaking(false)
	err := t.vc.Disconnect()
	t.vc = nil
	return err
}

// Play starts streaming the locator. The returned handle delivers the
// completion notification exactly once on Done.
func (t *Transport) Play(ctx context.Context, streamURL string, volume float64) (session.Handle, error) {
	t.mu.Lock()
	vc := t.vc
	t.mu.Unlock()

	if vc == nil {
		return nil, ErrNotConnected
	}

	pctx, cancel := context.WithCancel(ctx)

	// Reconnect flags keep long streams alive across transient CDN
	// drops.
	cmd := exec.CommandContext(pctx, "ffmpeg",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", streamURL,
		"-vn",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "warning",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open decoder pipe")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to start decoder")
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		cancel()
		_ = cmd.Process.Kill()
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}
	if err := enc.SetBitrate(t.bitrate); err != nil {
		zlog.Warn().Msgf("transport: failed to set bitrate: guild=%s err=%v", t.guildID, err)
	}

	h := &playHandle{
		cancel: cancel,
		done:   make(chan session.PlayResult, 1),
		volume: volume,
	}
	h.cond = sync.NewCond(&h.mu)

	go h.pump(pctx, t.guildID, vc, stdout, enc, cmd)
	return h, nil
}

// playHandle controls one in-flight ffmpeg stream.
type playHandle struct {
	cancel context.CancelFunc
	done   chan session.PlayResult
	once   sync.Once

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	volume  float64
}

func (h *playHandle) Done() <-chan session.PlayResult { return h.done }

func (h *playHandle) Pause() error {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
	return nil
}

func (h *playHandle) Resume() error {
	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
	h.cond.Broadcast()
	return nil
}

func (h *playHandle) Stop() error {
	h.mu.Lock()
	h.stopped = true
	h.paused = false
	h.mu.Unlock()
	h.cond.Broadcast()
	h.cancel()
	return nil
}

func (h *playHandle) SetVolume(v float64) error {
	h.mu.Lock()
	h.volume = v
	h.mu.Unlock()
	return nil
}

// waitWhilePaused blocks the send loop while paused. Returns false
// when playback was stopped.
func (h *playHandle) waitWhilePaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.paused && !h.stopped {
		h.cond.Wait()
	}
	return !h.stopped
}

func (h *playHandle) currentVolume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

func (h *playHandle) finish(res session.PlayResult) {
	h.once.Do(func() {
		h.done <- res
	})
}

// pump reads PCM from the decoder, applies volume, encodes to opus and
// sends frames to the voice connection.
func (h *playHandle) pump(ctx context.Context, guildID string, vc *discordgo.VoiceConnection, pcm io.Reader, enc *opus.Encoder, cmd *exec.Cmd) {
	// Release the per-play context however the pump exits; on natural
	// EOF nothing else would, and the cancel also reaps ffmpeg before
	// the Wait below.
	defer func() {
		_ = cmd.Wait()
	}()
	defer h.cancel()

	if err := vc.Speaking(true); err != nil {
		zlog.Warn().Msgf("transport: speaking(true) failed: guild=%s err=%v", guildID, err)
	}
	defer func() {
		_ = vc.Speaking(false)
	}()

	raw := make([]byte, pcmFrameBytes)
	samples := make([]int16, frameSamples*channels)
	packet := make([]byte, maxOpusPayload)

	for {
		if !h.waitWhilePaused() {
			h.finish(session.PlayResult{})
			return
		}

		_, err := io.ReadFull(pcm, raw)
		if err != nil {
			if ctx.Err() != nil {
				// Stopped or session teardown; not a playback failure.
				h.finish(session.PlayResult{})
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				h.finish(session.PlayResult{})
				return
			}
			h.finish(session.PlayResult{Err: errors.Wrap(err, "decoder read failed")})
			return
		}

		vol := h.currentVolume()
		for i := range samples {
			s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			samples[i] = int16(float64(s) * vol)
		}

		n, err := enc.Encode(samples, packet)
		if err != nil {
			h.finish(session.PlayResult{Err: errors.Wrap(err, "opus encode failed")})
			return
		}

		frame := make([]byte, n)
		copy(frame, packet[:n])

		select {
		case vc.OpusSend <- frame:
		case <-ctx.Done():
			h.finish(session.PlayResult{})
			return
		case <-time.After(5 * time.Second):
			// The voice connection stopped draining; treat as fatal so
			// the session tears down instead of wedging.
			h.finish(session.PlayResult{Err: errors.New("voice send stalled"), Fatal: true})
			return
		}
	}
}
