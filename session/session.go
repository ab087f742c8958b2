// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"github.com/galaxy-foundation/galaxy/keyed"
	"github.com/galaxy-foundation/galaxy/lib/clock"
	"github.com/galaxy-foundation/galaxy/lib/eventlog"
	"github.com/galaxy-foundation/galaxy/lib/netutil"
	"github.com/galaxy-foundation/galaxy/lib/vecmath"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/scene"
	"github.com/galaxy-foundation/galaxy/work"
)

// ErrAlreadyRunning is reported for a START while a render worker is
// running. The running worker is not affected.
var ErrAlreadyRunning = errors.New("session: render worker already running")

// MotionEpsilon is the cursor travel below which the worker does not
// rotate the camera.
const MotionEpsilon = 0.001

// DefaultPollInterval bounds how long the worker sleeps between cursor
// checks when nothing wakes it.
const DefaultPollInterval = 10 * time.Millisecond

// Frame is one frame the worker submits.
type Frame struct {
	Number   int32
	Camera   scene.CameraSpec
	Rotation vecmath.Quat
}

// Backend loads scenes and renders frames for a session.
type Backend interface {
	// Open loads the state document named by a START message, commits
	// its datasets and visualization, and returns its first camera.
	Open(ctx context.Context, start Control) (scene.CameraSpec, error)

	// Render commits frame's camera and a new rendering of the opened
	// scene and submits it. The frame is already started. Render does
	// not wait for the frame to finish.
	Render(ctx context.Context, frame Frame) error

	// SetSink directs the pixels of the session's renderings to sink.
	SetSink(sink render.PixelSink)
}

// Config configures a Session.
type Config struct {
	Backend Backend

	// Tracker starts frames and counts their pixel contributions. It
	// is the owning rank's tracker.
	Tracker *scene.FrameTracker

	// Clock drives the worker's cursor poll. Nil means the real clock.
	Clock clock.Clock

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	Logger *slog.Logger

	// Events, if set, holds the rank's recent log records. DEBUG dumps
	// them to DebugOutput, which defaults to stderr.
	Events      *eventlog.Ring
	DebugOutput io.Writer
}

// Session serves one control connection. The control loop applies
// control messages in order; while rendering, a worker goroutine turns
// cursor movement into frames. Pixels of the live frame stream back on
// the same connection.
type Session struct {
	conn    io.ReadWriteCloser
	backend Backend
	tracker *scene.FrameTracker
	clock   clock.Clock
	poll    time.Duration
	logger  *slog.Logger
	events  *eventlog.Ring
	debug   io.Writer

	// sendMu serializes pixel batches on conn.
	sendMu  sync.Mutex
	sendErr atomic.Pointer[error]

	// live is the newest submitted frame; -1 before the first.
	live atomic.Int32

	cursorMu  sync.Mutex
	x0, y0    float32
	x1, y1    float32
	renderOne bool
	wake      chan struct{}

	workerCancel context.CancelFunc
	workerDone   chan struct{}
}

// New returns a session on conn.
func New(conn io.ReadWriteCloser, config Config) *Session {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DebugOutput == nil {
		config.DebugOutput = os.Stderr
	}
	s := &Session{
		conn:    conn,
		backend: config.Backend,
		tracker: config.Tracker,
		clock:   config.Clock,
		poll:    config.PollInterval,
		logger:  config.Logger,
		events:  config.Events,
		debug:   config.DebugOutput,
		wake:    make(chan struct{}, 1),
	}
	s.live.Store(-1)
	return s
}

// LiveFrame returns the frame whose pixels are streamed, or -1.
func (s *Session) LiveFrame() int32 { return s.live.Load() }

// Run applies control messages until QUIT, a clean client close, or
// ctx ends, and returns nil in those cases. A malformed message returns
// an error wrapping work.ErrProtocolViolation; a failed read or pixel
// write returns one wrapping work.ErrTransportFailure. The connection
// is closed and the worker joined before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	closed := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.conn.Close()
		close(closed)
	}()
	defer func() {
		s.stopWorker()
		cancel()
		<-closed
	}()

	s.backend.SetSink(s)
	defer s.backend.SetSink(nil)

	for {
		data, err := netutil.ReadFrame(s.conn)
		if err != nil {
			return s.readError(ctx, err)
		}
		control, err := DecodeControl(data)
		if err != nil {
			return err
		}
		if control.Op == OpQuit {
			s.logger.Info("session quit")
			return nil
		}
		s.apply(ctx, control)
	}
}

func (s *Session) readError(ctx context.Context, err error) error {
	if sendErr := s.sendErr.Load(); sendErr != nil && !netutil.IsExpectedCloseError(*sendErr) {
		return fmt.Errorf("%w: pixel stream: %w", work.ErrTransportFailure, *sendErr)
	}
	if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
		s.logger.Info("control connection closed")
		return nil
	}
	return fmt.Errorf("%w: control stream: %w", work.ErrTransportFailure, err)
}

func (s *Session) apply(ctx context.Context, control Control) {
	switch control.Op {
	case OpStart:
		if err := s.Start(ctx, control); err != nil {
			s.logger.Error("START ignored", "error", err)
		}
	case OpRenderOne:
		s.cursorMu.Lock()
		s.renderOne = true
		s.cursorMu.Unlock()
		s.signal()
	case OpMouseDown:
		s.cursorMu.Lock()
		s.x0, s.x1 = control.X, control.X
		s.y0, s.y1 = control.Y, control.Y
		s.cursorMu.Unlock()
		s.signal()
	case OpMouseMotion:
		s.cursorMu.Lock()
		s.x1, s.y1 = control.X, control.Y
		s.cursorMu.Unlock()
		s.signal()
	case OpDebug:
		for _, count := range s.tracker.Contributions() {
			s.logger.Info("frame contributions", "frame", count.Frame, "pixels", count.Count)
		}
		if s.events != nil {
			n, err := s.events.Dump(s.debug)
			if err != nil {
				s.logger.Warn("event dump failed", "error", err)
			} else {
				s.logger.Info("dumped recent events", "events", n)
			}
		}
	}
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the render worker for a START message. It returns
// ErrAlreadyRunning if a worker is running.
func (s *Session) Start(ctx context.Context, start Control) error {
	if s.workerDone != nil {
		select {
		case <-s.workerDone:
		default:
			return ErrAlreadyRunning
		}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.workerCancel, s.workerDone = cancel, done
	go func() {
		defer close(done)
		if err := s.work(workerCtx, start); err != nil {
			s.logger.Error("render worker failed", "error", err)
		}
	}()
	return nil
}

func (s *Session) stopWorker() {
	if s.workerDone == nil {
		return
	}
	s.workerCancel()
	<-s.workerDone
	s.workerCancel, s.workerDone = nil, nil
}

// work is the render worker: it renders the opened scene once, then
// re-renders whenever a one-shot is requested or the cursor moved.
func (s *Session) work(ctx context.Context, start Control) error {
	spec, err := s.backend.Open(ctx, start)
	if err != nil {
		return err
	}
	orbit := NewOrbit(spec)
	if err := s.submit(ctx, &orbit); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-s.clock.After(s.poll):
		}

		s.cursorMu.Lock()
		x0, y0, x1, y1 := s.x0, s.y0, s.x1, s.y1
		dx, dy := x1-x0, y1-y0
		moved := math32.Sqrt(dx*dx+dy*dy) > MotionEpsilon
		once := s.renderOne
		if !once && !moved {
			s.cursorMu.Unlock()
			continue
		}
		s.renderOne = false
		if moved {
			s.x0, s.y0 = x1, y1
		}
		s.cursorMu.Unlock()

		if moved {
			orbit.Drag(x0, y0, x1, y1)
		}
		if err := s.submit(ctx, &orbit); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Session) submit(ctx context.Context, orbit *Orbit) error {
	frame := Frame{
		Number:   s.tracker.Next(),
		Camera:   orbit.Camera(),
		Rotation: orbit.Rotation,
	}
	s.logger.Info("frame started",
		"frame", frame.Number,
		"dir", orbit.Direction,
		"sdir", frame.Camera.ViewDirection,
		"vp", orbit.Viewpoint,
		"up", orbit.Up,
		"aov", orbit.AngleOfView,
		"vdist", orbit.Distance,
	)
	if err := s.tracker.Start(frame.Number); err != nil {
		return err
	}
	s.live.Store(frame.Number)
	return s.backend.Render(ctx, frame)
}

// AddPixels counts every contribution and streams those of the live
// frame to the client. It implements render.PixelSink.
func (s *Session) AddPixels(frame int32, _ keyed.Key, pixels []render.Pixel) {
	s.tracker.AddContributions(frame, len(pixels))
	if frame != s.live.Load() || len(pixels) == 0 {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendErr.Load() != nil {
		return
	}
	if err := WritePixels(s.conn, frame, pixels); err != nil {
		s.sendErr.Store(&err)
		s.logger.Error("pixel stream failed", "frame", frame, "error", err)
		s.conn.Close()
	}
}
