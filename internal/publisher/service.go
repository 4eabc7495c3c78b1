package publisher

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/task/timer"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// Timer tags on the wheel.
const (
	tagPlan = "post"
	tagTest = "test"
)

// State is the scheduling state of the current epoch.
type State string

const (
	StateIdle    State = "idle"
	StatePlanned State = "planned"
	StatePaused  State = "paused"
)

type Config struct {
	Dirs       Dirs
	Completion Completion
	Frequency  int
	Location   *time.Location
	Target     transport.ChatTarget
	// CaptionParseMode is passed to the sender ("" sends plain text).
	CaptionParseMode string
	DeliveryTimeout  time.Duration
}

// Sender delivers one photo with a caption.
type Sender interface {
	SendPhoto(ctx context.Context, to transport.ChatTarget, photo transport.Photo, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Deps are the collaborators of a Service. Journal and Bus may be nil.
type Deps struct {
	Store   *Store
	Wheel   *timer.Wheel
	Engine  *engine.Service
	Sender  Sender
	Journal storage.Store
	Bus     eventbus.Bus
	Log     logx.Logger
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.clock = fn
		}
	}
}

// WithRand makes shuffling and slot generation reproducible.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) {
		if r != nil {
			s.rng = r
		}
	}
}

// Service owns the queue, the task list, the frequency and the epoch counter.
//
// mu guards the fields below it. opMu serializes compound operations
// (reload, stop, pause, resume, purge, frequency change, test, dispatch) so
// none of them interleave.
type Service struct {
	opMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	state     State
	queue     Queue
	tasks     []ScheduledTask
	frequency int
	epoch     uint64
	taskSeq   uint64
	delivered uint64
	failed    uint64
	lastSent  time.Time
	lastError string

	rngMu sync.Mutex
	rng   *rand.Rand
	clock func() time.Time

	store   *Store
	wheel   *timer.Wheel
	engine  *engine.Service
	sender  Sender
	journal storage.Store
	bus     eventbus.Bus
	log     logx.Logger
}

func New(cfg Config, deps Deps, opts ...Option) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Completion == "" {
		cfg.Completion = CompletionArchive
	}
	if cfg.Frequency < 1 {
		cfg.Frequency = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 2 * time.Minute
	}
	s := &Service{
		cfg:       cfg,
		state:     StateIdle,
		frequency: cfg.Frequency,
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		store:     deps.Store,
		wheel:     deps.Wheel,
		engine:    deps.Engine,
		sender:    deps.Sender,
		journal:   deps.Journal,
		bus:       deps.Bus,
		log:       log.With(logx.String("comp", "publisher")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().In(s.cfg.Location) }

func (s *Service) Location() *time.Location { return s.cfg.Location }

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Frequency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frequency
}

// QueueItems returns up to limit queued pairs in queue order (limit <= 0 means all).
func (s *Service) QueueItems(limit int) []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queue.Items()
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Tick forces one poll of the timer wheel.
func (s *Service) Tick() int { return s.wheel.Tick() }

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock(), Data: data})
}

func (s *Service) shuffle(pairs []Pair) []Pair {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	return pairs
}

func (s *Service) slots(n, frequency int, now time.Time) []Slot {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return GenerateSlots(n, frequency, now, s.rng)
}

func describePair(p Pair) string {
	return strings.TrimSpace(p.Stem())
}
