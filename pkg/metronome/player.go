package metronome

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/reachy-metronome/pkg/audioio"
)

// writeTimeout bounds one click write so a wedged audio device cannot
// back up the player goroutine forever.
const writeTimeout = 500 * time.Millisecond

// Player plays pre-generated clicks through an audio sink. Play never
// blocks: clicks queue on a small buffer and drop under backpressure,
// since a late click is worse than a missing one.
type Player struct {
	sink   audioio.Sink
	clicks *ClickSet
	logger *slog.Logger

	queue    chan bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPlayer creates a click player for the sink's sample rate.
func NewPlayer(sink audioio.Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		sink:   sink,
		clicks: NewClickSet(sink.Config().SampleRate),
		logger: logger,
		queue:  make(chan bool, 4),
		stop:   make(chan struct{}),
	}
}

// Start begins playback. The sink must already be started.
func (p *Player) Start() {
	p.wg.Add(1)
	go p.run()
}

// Play queues one click. Non-blocking; drops when the queue is full.
func (p *Player) Play(downbeat bool) {
	select {
	case p.queue <- downbeat:
	default:
		p.logger.Debug("click dropped, audio queue full")
	}
}

// Close stops the player goroutine. The sink is left to its owner.
func (p *Player) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Player) run() {
	defer p.wg.Done()

	cfg := p.sink.Config()
	for {
		select {
		case <-p.stop:
			return
		case downbeat := <-p.queue:
			chunk := audioio.AudioChunk{
				Samples:    p.clicks.For(downbeat),
				SampleRate: cfg.SampleRate,
				Channels:   1,
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := p.sink.Write(ctx, chunk); err != nil {
				p.logger.Debug("click write failed", "error", err)
			}
			cancel()
		}
	}
}
