package xray

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const stopTimeout = 5 * time.Second

// Runner interface defines the contract for XRay process management
type Runner interface {
	// Start launches the process. onExit is called once if the process
	// ends without Stop being called.
	Start(configPath string, onExit func(error)) error
	Stop() error
	IsRunning() bool
}

type runner struct {
	binary   string
	cmd      *exec.Cmd
	logger   *zap.Logger
	mutex    sync.Mutex
	stopped  bool
	waitDone chan struct{}
}

func NewRunner(binary string, logger *zap.Logger) Runner {
	waitDone := make(chan struct{})
	close(waitDone)
	return &runner{
		binary:   binary,
		logger:   logger,
		waitDone: waitDone,
	}
}

func (r *runner) Start(configPath string, onExit func(error)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.isRunning() {
		return fmt.Errorf("xray is already running")
	}

	if _, err := exec.LookPath(r.binary); err != nil {
		return fmt.Errorf("xray executable %q not found: %w", r.binary, err)
	}

	// Validate config file exists
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found at %s: %w", configPath, err)
	}

	cmd := exec.Command(r.binary, "run", "-c", configPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: runtime.GOOS != "windows",
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start xray: %w", err)
	}

	r.cmd = cmd
	r.stopped = false
	waitDone := make(chan struct{})
	r.waitDone = waitDone

	r.logger.Debug("started xray process",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("config", configPath))

	var pipes sync.WaitGroup
	pipes.Add(2)
	go r.monitorOutput(&pipes, stdout, "stdout")
	go r.monitorOutput(&pipes, stderr, "stderr")

	go func() {
		// Wait closes the pipes, so readers must drain first.
		pipes.Wait()
		err := cmd.Wait()

		r.mutex.Lock()
		stopped := r.stopped
		if r.cmd == cmd {
			r.cmd = nil
		}
		r.mutex.Unlock()
		close(waitDone)

		if stopped {
			r.logger.Debug("xray process exited", zap.Error(err))
			return
		}

		if exitErr, ok := err.(*exec.ExitError); ok {
			r.logger.Error("xray process exited with error",
				zap.Error(err),
				zap.Int("exit_code", exitErr.ExitCode()))
		} else if err != nil {
			r.logger.Error("failed to wait for xray process", zap.Error(err))
		} else {
			r.logger.Warn("xray process exited unexpectedly")
			err = fmt.Errorf("xray process exited")
		}
		if onExit != nil {
			onExit(err)
		}
	}()

	return nil
}

func (r *runner) Stop() error {
	r.mutex.Lock()
	if !r.isRunning() {
		r.mutex.Unlock()
		return nil
	}
	r.stopped = true
	cmd := r.cmd
	waitDone := r.waitDone
	r.mutex.Unlock()

	// Try graceful shutdown first
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("failed to send SIGTERM to xray process", zap.Error(err))
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill xray process: %w", err)
		}
	}

	select {
	case <-waitDone:
		return nil
	case <-time.After(stopTimeout):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to force kill xray process: %w", err)
		}
		<-waitDone
	}

	return nil
}

func (r *runner) IsRunning() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.isRunning()
}

func (r *runner) isRunning() bool {
	if r.cmd == nil || r.cmd.Process == nil {
		return false
	}

	// Check if process exists and can receive signals
	if err := r.cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return false
	}

	return true
}

func (r *runner) monitorOutput(wg *sync.WaitGroup, pipe io.ReadCloser, name string) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			r.logger.Debug("xray output",
				zap.String("pipe", name),
				zap.String("message", line))
		}
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("error reading xray output",
			zap.String("pipe", name),
			zap.Error(err))
	}
}
