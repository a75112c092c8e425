package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"curator/internal/services"
	"curator/internal/workerproto"
)

// LaunchOptions describes how worker processes are started.
type LaunchOptions struct {
	Binary    string
	ExtraArgs []string
	AppName   string
	Project   string
	Platform  string
	Slot      int
}

// Args returns the command line passed to the worker binary.
func (o LaunchOptions) Args() []string {
	args := []string{
		"--app", o.AppName,
		"--slot", strconv.Itoa(o.Slot),
		"--project", o.Project,
		"--profile", o.Platform,
	}
	return append(args, o.ExtraArgs...)
}

// Process is one running worker. Responses arrive on Messages; the Exited
// channel closes once the process is gone and its output drained.
type Process struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *workerproto.Encoder
	messages chan workerproto.Message
	exited   chan struct{}
	exitErr  error
}

// Start launches a worker. notify is called whenever the process produces a
// response or exits; onLog receives worker log lines and stderr output.
func Start(opts LaunchOptions, notify func(), onLog func(workerproto.LogEntry)) (*Process, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "worker", "start", "worker binary not configured", nil)
	}
	cmd := exec.Command(opts.Binary, opts.Args()...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrSpawn, "worker", "start", "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrSpawn, "worker", "start", "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrSpawn, "worker", "start", "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrSpawn, "worker", "start", opts.Binary, err)
	}

	p := &Process{
		cmd:      cmd,
		stdin:    stdin,
		enc:      workerproto.NewEncoder(stdin),
		messages: make(chan workerproto.Message, 16),
		exited:   make(chan struct{}),
	}
	if notify == nil {
		notify = func() {}
	}
	if onLog == nil {
		onLog = func(workerproto.LogEntry) {}
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readStdout(stdout, notify, onLog)
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				onLog(workerproto.LogEntry{Level: "warn", Message: line})
			}
		}
	}()
	go func() {
		p.exitErr = p.wait(&readers, stdout, stderr)
		close(p.exited)
		notify()
	}()
	return p, nil
}

// outputDrain bounds how long output is read after the worker itself is gone.
const outputDrain = 500 * time.Millisecond

// wait watches the process rather than its pipes: a child the worker left
// behind may hold stdout open long after the worker died. Once the worker is
// reaped its process group is killed, and output still buffered in the pipes
// is read for up to outputDrain before the read ends are closed.
func (p *Process) wait(readers *sync.WaitGroup, stdout, stderr io.Closer) error {
	pid := p.cmd.Process.Pid
	state, waitErr := p.cmd.Process.Wait()
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		waitErr = errors.Join(waitErr, fmt.Errorf("kill process group: %w", err))
	}

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(outputDrain):
		_ = stdout.Close()
		_ = stderr.Close()
		<-drained
	}
	_ = stdout.Close()
	_ = stderr.Close()
	_ = p.stdin.Close()

	switch {
	case waitErr != nil:
		return waitErr
	case !state.Success():
		return &exec.ExitError{ProcessState: state}
	}
	return nil
}

func (p *Process) readStdout(r io.Reader, notify func(), onLog func(workerproto.LogEntry)) {
	dec := workerproto.NewDecoder(r)
	for {
		msg, err := dec.Decode()
		switch {
		case errors.Is(err, workerproto.ErrMalformed):
			onLog(workerproto.LogEntry{Level: "warn", Message: err.Error()})
			continue
		case err != nil:
			return
		}
		switch msg.Type {
		case workerproto.TypeLog:
			onLog(*msg.Log)
		case workerproto.TypeProcessAssetResponse:
			p.messages <- msg
			notify()
		}
	}
}

// PID returns the operating system process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Send writes a request to the worker.
func (p *Process) Send(req workerproto.ProcessAssetRequest) error {
	return p.enc.Encode(workerproto.TypeProcessAsset, req)
}

// Messages delivers decoded responses.
func (p *Process) Messages() <-chan workerproto.Message { return p.messages }

// Exited closes when the process has terminated.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitError describes how the process ended. Only meaningful after Exited closes.
func (p *Process) ExitError() error {
	if p.Alive() {
		return nil
	}
	if p.exitErr == nil {
		return errors.New("exited with status 0")
	}
	return p.exitErr
}

// Kill terminates the worker and everything it spawned.
func (p *Process) Kill() {
	if !p.Alive() {
		return
	}
	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Shutdown asks the worker to exit and kills it if it is still running
// after grace.
func (p *Process) Shutdown(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}
	sendErr := p.enc.Encode(workerproto.TypeShutdown, nil)
	_ = p.stdin.Close()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
		p.Kill()
		<-p.exited
		if sendErr != nil {
			return fmt.Errorf("worker ignored shutdown: %w", sendErr)
		}
		return services.Wrap(services.ErrTimeout, "worker", "shutdown", fmt.Sprintf("killed after %s grace period", grace), nil)
	}
}
