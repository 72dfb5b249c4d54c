package discord

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/hraban/opus.v2"

	"github.com/osahiro/groovebox/internal/app/session"
)

// startPump runs a playHandle pump over an in-memory PCM stream,
// bypassing ffmpeg. The command is never started; its Wait error is
// ignored by the pump.
func startPump(t *testing.T, pcm []byte) (*playHandle, context.Context) {
	t.Helper()

	pctx, cancel := context.WithCancel(context.Background())
	h := &playHandle{
		cancel: cancel,
		done:   make(chan session.PlayResult, 1),
		volume: 1.0,
	}
	h.cond = sync.NewCond(&h.mu)

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	require.NoError(t, err)

	vc := &discordgo.VoiceConnection{OpusSend: make(chan []byte, 16)}
	go h.pump(pctx, "g1", vc, bytes.NewReader(pcm), enc, exec.Command("true"))
	return h, pctx
}

func TestPlayHandle_NaturalEndReleasesContext(t *testing.T) {
	h, pctx := startPump(t, make([]byte, 2*pcmFrameBytes))

	select {
	case res := <-h.Done():
		assert.NoError(t, res.Err)
		assert.False(t, res.Fatal)
	case <-time.After(2 * time.Second):
		t.Fatal("pump never delivered completion")
	}

	// The per-play context must not outlive the stream
	select {
	case <-pctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("per-play context still alive after playback finished")
	}
}

func TestPlayHandle_StopDeliversCompletionOnce(t *testing.T) {
	h, pctx := startPump(t, make([]byte, 200*pcmFrameBytes))

	require.NoError(t, h.Stop())

	select {
	case res := <-h.Done():
		assert.NoError(t, res.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop never delivered completion")
	}

	// Exactly once: no second result is ever produced
	select {
	case res := <-h.Done():
		t.Fatalf("completion delivered twice: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	<-pctx.Done()
}

func TestPlayHandle_PauseGatesAndResumeReleases(t *testing.T) {
	h, _ := startPump(t, make([]byte, 2*pcmFrameBytes))

	require.NoError(t, h.Pause())
	assert.False(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.stopped
	}())

	require.NoError(t, h.Resume())

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump never finished after resume")
	}
}
