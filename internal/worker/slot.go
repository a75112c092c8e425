package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/curator"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/services"
	"curator/internal/workerproto"
)

// Scheduler is the part of the curator a slot talks to.
type Scheduler interface {
	NextEligible() (asset.Assignment, bool)
	Complete(ctx context.Context, asg asset.Assignment, outcome asset.Outcome) error
	TransitiveHull(ctx context.Context, id uuid.UUID) (curator.Hull, error)
	Platform() string
}

// State is a slot's position in its dispatch cycle.
type State string

const (
	StateIdle       State = "idle"
	StateDispatched State = "dispatched"
	StateFinished   State = "finished"
	StateCrashed    State = "crashed"
)

// LogLine is a worker log line tagged with its origin.
type LogLine struct {
	Slot    int
	AssetID string
	Entry   workerproto.LogEntry
}

// SlotStatus is a point-in-time view of a slot.
type SlotStatus struct {
	ID           int       `json:"id"`
	State        State     `json:"state"`
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	AssetID      string    `json:"asset_id,omitempty"`
	RelativePath string    `json:"relative_path,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Since        time.Time `json:"since,omitzero"`
	Restarts     int       `json:"restarts"`
	Completed    int       `json:"completed"`
}

// SlotOptions wires a slot.
type SlotOptions struct {
	ID        int
	Launch    LaunchOptions
	OutputDir string
	Scheduler Scheduler
	Logger    *slog.Logger
	Events    events.Publisher
	// Notify wakes the supervisor loop.
	Notify func()
	// OnLog receives every worker log line.
	OnLog func(LogLine)
	// OnFinish observes every completed assignment.
	OnFinish func(slot int, asg asset.Assignment, outcome asset.Outcome, elapsed time.Duration)
}

// Slot owns one worker process and at most one in-flight assignment. Its
// methods are driven from a single supervisor goroutine; Status may be
// called from anywhere.
type Slot struct {
	opts   SlotOptions
	logger *slog.Logger
	pub    events.Publisher

	mu        sync.Mutex
	proc      *Process
	state     State
	current   *asset.Assignment
	logs      []asset.LogEntry
	since     time.Time
	restarts  int
	completed int
	spawned   bool
}

// NewSlot constructs an idle slot. The worker process starts lazily.
func NewSlot(opts SlotOptions) *Slot {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Discard{}
	}
	if opts.Notify == nil {
		opts.Notify = func() {}
	}
	opts.Launch.Slot = opts.ID
	return &Slot{
		opts:   opts,
		logger: logger.With(logging.Slot(opts.ID)),
		pub:    pub,
		state:  StateIdle,
	}
}

// ID returns the slot number.
func (s *Slot) ID() int { return s.opts.ID }

// Busy reports whether an assignment is in flight.
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// BeginExecute takes the next eligible asset and sends it to the worker.
// It reports whether work is now in flight.
func (s *Slot) BeginExecute(ctx context.Context) bool {
	if s.Busy() {
		return false
	}
	asg, ok := s.opts.Scheduler.NextEligible()
	if !ok {
		return false
	}
	ctx = services.WithSlot(services.WithAssetID(ctx, asg.ID.String()), s.opts.ID)
	logger := logging.WithContext(ctx, s.logger)

	proc, err := s.ensureProcess()
	if err != nil {
		logging.ErrorWithContext(logger, "worker start failed", "worker_spawn_failed",
			logging.Error(err),
			logging.String("binary", s.opts.Launch.Binary),
			logging.String(logging.FieldErrorHint, "check workers.binary in the config and run 'curator status'"))
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
		s.setState(StateCrashed, asg.ID)
		s.complete(ctx, asg, asset.Outcome{Status: asset.OutcomeFailed, Message: err.Error(), Err: err}, time.Now())
		s.setState(StateIdle, uuid.Nil)
		return false
	}

	hull, err := s.opts.Scheduler.TransitiveHull(ctx, asg.ID)
	if err != nil {
		err = services.Wrap(services.ErrValidation, "worker", "dependency hull", asg.RelativePath, err)
		s.complete(ctx, asg, asset.Outcome{Status: asset.OutcomeFailed, Message: err.Error(), Err: err}, time.Now())
		return false
	}
	req := workerproto.ProcessAssetRequest{
		AssetID:        asg.ID.String(),
		AssetType:      asg.Type,
		CombinedHash:   asg.AssetHash,
		ThumbnailHash:  asg.ThumbHash,
		Mode:           string(asg.Mode),
		SourcePath:     asg.AbsolutePath,
		RelativePath:   asg.RelativePath,
		OutputDir:      s.opts.OutputDir,
		DependencyHull: hull.Dependencies,
		ReferenceHull:  hull.References,
		TargetPlatform: s.opts.Scheduler.Platform(),
	}

	s.mu.Lock()
	s.current = &asg
	s.logs = nil
	s.since = time.Now()
	s.mu.Unlock()
	s.setState(StateDispatched, asg.ID)

	if err := proc.Send(req); err != nil {
		logger.Warn("send to worker failed", logging.Error(err))
		proc.Kill()
		// The exit is picked up by FinishExecute as a crash.
	}
	logger.Debug("asset dispatched",
		logging.Path(asg.RelativePath),
		logging.String("mode", string(asg.Mode)),
		logging.Hash("combined_hash", asg.AssetHash),
		logging.Int("dependencies", len(hull.Dependencies)))
	return true
}

// FinishExecute checks for a response or a dead worker without blocking.
// It reports whether the in-flight assignment completed.
func (s *Slot) FinishExecute(ctx context.Context) bool {
	s.mu.Lock()
	proc, cur, since := s.proc, s.current, s.since
	s.mu.Unlock()
	if cur == nil {
		return false
	}
	asg := *cur
	ctx = services.WithSlot(services.WithAssetID(ctx, asg.ID.String()), s.opts.ID)

	if proc == nil {
		s.crash(ctx, asg, since, "worker process missing")
		return true
	}
	select {
	case msg := <-proc.Messages():
		s.respond(ctx, asg, since, msg.Response)
		return true
	default:
	}
	select {
	case <-proc.Exited():
	default:
		return false
	}
	// Responses are queued before the exit is signalled.
	select {
	case msg := <-proc.Messages():
		s.respond(ctx, asg, since, msg.Response)
		return true
	default:
	}
	s.crash(ctx, asg, since, fmt.Sprintf("worker exited: %v", proc.ExitError()))
	return true
}

func (s *Slot) respond(ctx context.Context, asg asset.Assignment, since time.Time, resp *workerproto.ProcessAssetResponse) {
	outcome := asset.Outcome{Message: resp.StatusMessage, Log: s.takeLogs(resp.LogEntries)}
	switch {
	case resp.AssetID != "" && resp.AssetID != asg.ID.String():
		outcome.Status = asset.OutcomeFailed
		outcome.Message = fmt.Sprintf("worker answered for asset %s", resp.AssetID)
		outcome.Err = services.Wrap(services.ErrValidation, "worker", "process asset", outcome.Message, nil)
	case resp.Status == workerproto.StatusSuccess:
		outcome.Status = asset.OutcomeSuccess
	case resp.Status == workerproto.StatusImportNeeded:
		outcome.Status = asset.OutcomeImportNeeded
		outcome.Err = services.Wrap(services.ErrImportNeeded, "worker", "process asset", asg.RelativePath, nil)
	default:
		outcome.Status = asset.OutcomeFailed
		if strings.TrimSpace(outcome.Message) == "" {
			outcome.Message = "worker reported failure"
		}
		outcome.Err = services.Wrap(services.ErrExternalTool, "worker", "process asset", outcome.Message, nil)
	}
	s.complete(ctx, asg, outcome, since)
	s.setState(StateIdle, uuid.Nil)
}

func (s *Slot) crash(ctx context.Context, asg asset.Assignment, since time.Time, reason string) {
	s.mu.Lock()
	s.proc = nil
	s.restarts++
	s.mu.Unlock()
	logging.WarnWithContext(logging.WithContext(ctx, s.logger), "worker crashed", "worker_crashed",
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "asset marked as transform error; worker restarts on next dispatch"))
	s.setState(StateCrashed, asg.ID)
	err := services.Wrap(services.ErrWorkerCrashed, "worker", "process asset", reason, nil)
	s.complete(ctx, asg, asset.Outcome{
		Status:  asset.OutcomeCrashed,
		Message: err.Error(),
		Log:     s.takeLogs(nil),
		Err:     err,
	}, since)
	s.setState(StateIdle, uuid.Nil)
}

func (s *Slot) complete(ctx context.Context, asg asset.Assignment, outcome asset.Outcome, since time.Time) {
	s.mu.Lock()
	s.current = nil
	s.completed++
	s.mu.Unlock()
	if outcome.Status == asset.OutcomeSuccess || outcome.Status == asset.OutcomeImportNeeded {
		s.setState(StateFinished, asg.ID)
	}
	if err := s.opts.Scheduler.Complete(ctx, asg, outcome); err != nil {
		s.logger.Warn("record completion failed", logging.AssetID(asg.ID.String()), logging.Error(err))
	}
	if s.opts.OnFinish != nil {
		s.opts.OnFinish(s.opts.ID, asg, outcome, time.Since(since))
	}
}

// takeLogs returns the log lines streamed for the current assignment
// followed by extra.
func (s *Slot) takeLogs(extra []workerproto.LogEntry) []asset.LogEntry {
	s.mu.Lock()
	out := s.logs
	s.logs = nil
	s.mu.Unlock()
	for _, e := range extra {
		out = append(out, asset.LogEntry{Level: e.Level, Message: e.Message})
	}
	return out
}

func (s *Slot) ensureProcess() (*Process, error) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil && proc.Alive() {
		return proc, nil
	}
	launch := s.opts.Launch
	launch.Platform = s.opts.Scheduler.Platform()
	proc, err := Start(launch, s.opts.Notify, s.handleLog)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.proc = proc
	respawn := s.spawned
	s.spawned = true
	s.mu.Unlock()
	s.logger.Info("worker started", logging.Int("pid", proc.PID()), logging.Bool("respawn", respawn))
	return proc, nil
}

func (s *Slot) handleLog(entry workerproto.LogEntry) {
	s.mu.Lock()
	assetID := ""
	if s.current != nil {
		assetID = s.current.ID.String()
		s.logs = append(s.logs, asset.LogEntry{Level: entry.Level, Message: entry.Message})
	}
	s.mu.Unlock()
	if s.opts.OnLog != nil {
		s.opts.OnLog(LogLine{Slot: s.opts.ID, AssetID: assetID, Entry: entry})
	}
}

func (s *Slot) setState(state State, id uuid.UUID) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.pub.Publish(events.Event{Kind: events.ProcessTaskStateChanged, Slot: s.opts.ID, Task: string(state), AssetID: id})
	}
}

// Kill terminates the worker process. An in-flight assignment is then
// reported as crashed by the next FinishExecute.
func (s *Slot) Kill() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Kill()
	}
}

// Shutdown stops the worker process, waiting up to grace for a clean exit.
func (s *Slot) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Shutdown(grace)
}

// Status returns a snapshot of the slot.
func (s *Slot) Status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SlotStatus{
		ID:        s.opts.ID,
		State:     s.state,
		Restarts:  s.restarts,
		Completed: s.completed,
	}
	if s.proc != nil && s.proc.Alive() {
		st.Running = true
		st.PID = s.proc.PID()
	}
	if s.current != nil {
		st.AssetID = s.current.ID.String()
		st.RelativePath = s.current.RelativePath
		st.Mode = string(s.current.Mode)
		st.Since = s.since
	}
	return st
}
