package player

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"layeh.com/gopus"

	"github.com/jukeboxd/jukebox/pkg/logging"
)

// Discord voice requires 48kHz stereo with 20ms opus frames
const (
	sampleRate      = 48000
	channels        = 2
	frameSize       = 960
	defaultBitrate  = 128000
	pcmBytesPerRead = frameSize * channels * 2
)

// PauseGate blocks the streaming loop while playback is paused
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func NewPauseGate() *PauseGate {
	return &PauseGate{resume: make(chan struct{})}
}

func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

func (g *PauseGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks until resumed or the context ends
func (g *PauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	resume := g.resume
	g.mu.Unlock()

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Streamer decodes a local audio file through ffmpeg and pumps opus frames
// into a voice connection
type Streamer struct {
	ffmpegPath string
	bitrate    int
	logger     logging.Logger
}

// NewStreamer creates a streamer. An empty ffmpegPath resolves from PATH.
func NewStreamer(ffmpegPath string, bitrate int, logger logging.Logger) *Streamer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrate == 0 {
		bitrate = defaultBitrate
	}
	return &Streamer{ffmpegPath: ffmpegPath, bitrate: bitrate, logger: logger}
}

// Stream plays one file to completion. It returns nil on natural end, the
// context error on cancellation, and a wrapped error on decode failures.
// The gate pauses frame delivery without tearing down the ffmpeg process.
func (s *Streamer) Stream(ctx context.Context, path string, send chan<- []byte, gate *PauseGate) error {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}
	encoder.SetBitrate(s.bitrate)

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-i", path,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	defer func() {
		stdout.Close()
		cmd.Wait()
	}()

	byteBuffer := make([]byte, pcmBytesPerRead)
	pcmBuffer := make([]int16, frameSize*channels)

	for {
		if err := gate.wait(ctx); err != nil {
			return err
		}

		if _, err := io.ReadFull(stdout, byteBuffer); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read error: %w", err)
		}

		for i := range pcmBuffer {
			pcmBuffer[i] = int16(byteBuffer[i*2]) | int16(byteBuffer[i*2+1])<<8
		}

		frame, err := encoder.Encode(pcmBuffer, frameSize, pcmBytesPerRead)
		if err != nil {
			return fmt.Errorf("opus encode error: %w", err)
		}

		select {
		case send <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
