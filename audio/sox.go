package audio

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sample rates used on the wire: 16 kHz upstream, 24 kHz from the model.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// 100ms of 16-bit mono at 16 kHz
	defaultChunkSize = 3200
)

func rawPCMArgs(rate int) []string {
	return []string{
		"-t", "raw",
		"-r", strconv.Itoa(rate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
	}
}

// SoxSource records from the default input device with sox.
type SoxSource struct {
	SampleRate int
	ChunkSize  int

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func NewSoxSource() *SoxSource {
	return &SoxSource{SampleRate: CaptureSampleRate, ChunkSize: defaultChunkSize}
}

func (s *SoxSource) Start(ctx context.Context, onChunk func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("capture already started")
	}

	args := append([]string{"-q", "-d"}, rawPCMArgs(s.SampleRate)...)
	args = append(args, "-")
	cmd := exec.CommandContext(ctx, "sox", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "sox stdout")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start sox capture (is sox installed?)")
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	go s.read(stdout, onChunk, s.done)
	return nil
}

func (s *SoxSource) read(r io.Reader, onChunk func([]byte), done chan struct{}) {
	defer close(done)
	buf := make([]byte, s.ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("component", "audio").Msg("capture stream ended")
			}
			return
		}
	}
}

func (s *SoxSource) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd, s.done = nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	_ = cmd.Wait()
	return nil
}

// SoxSink plays raw PCM on the default output device with sox. The player process is started
// on first write and restarted after a Flush.
type SoxSink struct {
	SampleRate int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func NewSoxSink() *SoxSink {
	return &SoxSink{SampleRate: PlaybackSampleRate}
}

func (p *SoxSink) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("playback closed")
	}
	if p.stdin == nil {
		if err := p.startLocked(); err != nil {
			return err
		}
	}
	_, err := p.stdin.Write(pcm)
	return errors.Wrap(err, "write to sox")
}

func (p *SoxSink) startLocked() error {
	args := append([]string{"-q"}, rawPCMArgs(p.SampleRate)...)
	args = append(args, "-", "-d")
	cmd := exec.Command("sox", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "sox stdin")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start sox playback (is sox installed?)")
	}
	p.cmd = cmd
	p.stdin = stdin
	return nil
}

// Flush kills the player, discarding whatever sox still has queued.
func (p *SoxSink) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	p.cmd, p.stdin = nil, nil
	return nil
}

// Close lets queued audio finish playing, then releases the player.
func (p *SoxSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd == nil {
		return nil
	}
	_ = p.stdin.Close()
	err := p.cmd.Wait()
	p.cmd, p.stdin = nil, nil
	return errors.Wrap(err, "wait for sox playback")
}
