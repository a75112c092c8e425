package worker

import (
	"errors"
	"testing"
	"time"

	"curator/internal/services"
	"curator/internal/testsupport"
)

func TestStartWithoutBinaryIsConfigurationError(t *testing.T) {
	_, err := Start(LaunchOptions{}, nil, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestShutdownKillsUnresponsiveWorker(t *testing.T) {
	const deaf = "#!/bin/sh\ntrap '' TERM\nexec sleep 30\n"
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(deaf))
	proc, err := Start(LaunchOptions{Binary: cfg.Workers.Binary}, nil, nil)
	if err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(proc.Kill)

	started := time.Now()
	err = proc.Shutdown(200 * time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if proc.Alive() {
		t.Fatal("worker must be gone after shutdown")
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("shutdown took %s", elapsed)
	}
}

func TestExitedReportsStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker("#!/bin/sh\nexit 3\n"))
	proc, err := Start(LaunchOptions{Binary: cfg.Workers.Binary}, nil, nil)
	if err != nil {
		t.Fatalf("start worker: %v", err)
	}
	select {
	case <-proc.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
	if err := proc.ExitError(); err == nil || err.Error() != "exit status 3" {
		t.Fatalf("unexpected exit error %v", err)
	}
}
