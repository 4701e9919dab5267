package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outline-manager/internal/apperrors"
	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/metrics"
	"outline-manager/internal/repository"
	"outline-manager/internal/server"
	"outline-manager/internal/storage"
	"outline-manager/internal/tunnel/tunneltest"
)

const staticKey = "ss://YWVzLTI1Ni1nY206c2VjcmV0@203.0.113.1:8388#Office"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingReporter struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingReporter) Initialize(string) {}

func (r *recordingReporter) Send(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, correlationID)
}

type fixture struct {
	shell    *Shell
	repo     *repository.Repository
	provider *tunneltest.Provider
	reporter *recordingReporter
	out      *syncBuffer
}

func newFixture(t *testing.T, input string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	q := events.NewQueue(logger)
	t.Cleanup(func() { q.Close(context.Background()) })

	m := metrics.NewCollector(prometheus.NewRegistry(), logger)
	provider := tunneltest.NewProvider()
	repo, err := repository.New(storage.NewMemoryStore(), server.NewFactory(provider, q, m, logger), q, m, logger)
	require.NoError(t, err)

	f := &fixture{
		repo:     repo,
		provider: provider,
		reporter: &recordingReporter{},
		out:      &syncBuffer{},
	}
	f.shell = New(repo, q, f.reporter, strings.NewReader(input), f.out, logger)
	return f
}

func (f *fixture) exec(line string) string {
	before := len(f.out.String())
	f.shell.Execute(context.Background(), line)
	return f.out.String()[before:]
}

func (f *fixture) addStatic(t *testing.T) domain.Server {
	t.Helper()
	out := f.exec("add " + staticKey)
	require.True(t, strings.HasPrefix(out, "added "), out)
	all := f.repo.GetAll()
	require.Len(t, all, 1)
	return all[0]
}

func TestAddAndList(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)

	out := f.exec("list")
	assert.Contains(t, out, s.ID())
	assert.Contains(t, out, "Office")
	assert.Contains(t, out, "203.0.113.1:8388")

	assert.Contains(t, f.exec("add "+staticKey), "already added as "+s.ID())
}

func TestAddRejectsBadInput(t *testing.T) {
	f := newFixture(t, "")

	assert.Contains(t, f.exec("add vless://nope"), "error: invalid access key")
	assert.Contains(t, f.exec("add ss://rc4-md5:secret@203.0.113.1:8388"), "error:")
	assert.Contains(t, f.exec("add"), "usage: add <access-key>")
	assert.Empty(t, f.repo.GetAll())
	assert.Contains(t, f.exec("list"), "no servers")
}

func TestRenameForgetUndo(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)

	f.exec("rename " + s.ID() + " Home  Lab")
	assert.Equal(t, "Home Lab", s.Name())

	tun := f.provider.Get(s.ID())
	tun.On("IsRunning", mock.Anything).Return(false, nil)

	assert.Contains(t, f.exec("forget "+s.ID()), "undo "+s.ID())
	_, ok := f.repo.GetByID(s.ID())
	assert.False(t, ok)

	assert.Empty(t, f.exec("undo "+s.ID()))
	_, ok = f.repo.GetByID(s.ID())
	assert.True(t, ok)

	assert.Empty(t, f.exec("undo "+s.ID()), "undo of a present server is a no-op")
	assert.Contains(t, f.exec("undo missing"), "nothing to undo for missing")
	assert.Contains(t, f.exec("forget missing"), "no server with id missing")
	tun.AssertNotCalled(t, "Stop", mock.Anything)
}

func TestForgetDisconnectsRunningServer(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)
	tun := f.provider.Get(s.ID())
	tun.On("IsRunning", mock.Anything).Return(true, nil).Once()
	tun.On("Stop", mock.Anything).Return(nil).Once()

	assert.Contains(t, f.exec("forget "+s.ID()), "forgot "+s.ID())
	tun.AssertExpectations(t)
	_, ok := f.repo.GetByID(s.ID())
	assert.False(t, ok)
}

func TestForgetKeepsServerWhenDisconnectFails(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)
	tun := f.provider.Get(s.ID())
	tun.On("IsRunning", mock.Anything).Return(true, nil).Once()
	tun.On("Stop", mock.Anything).Return(errors.New("stuck")).Once()

	assert.Contains(t, f.exec("forget "+s.ID()), "disconnect before forget")
	_, ok := f.repo.GetByID(s.ID())
	assert.True(t, ok)
}

func TestConnectAndStatus(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)
	tun := f.provider.Get(s.ID())
	tun.On("Start", mock.Anything, mock.Anything).Return(nil)
	tun.On("Stop", mock.Anything).Return(nil)
	tun.On("IsRunning", mock.Anything).Return(true, nil)
	tun.On("IsReachable", mock.Anything, mock.Anything).Return(false, nil)

	assert.Empty(t, f.exec("connect "+s.ID()))
	assert.Contains(t, f.exec("status "+s.ID()), "running=true reachable=false")
	assert.Empty(t, f.exec("disconnect "+s.ID()))
	tun.AssertExpectations(t)
	assert.Empty(t, f.reporter.sent)
}

func TestConnectFailureSendsReport(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)
	tun := f.provider.Get(s.ID())
	tun.On("Start", mock.Anything, mock.Anything).
		Return(&apperrors.NativeError{Code: apperrors.ServerUnreachable})

	out := f.exec("connect " + s.ID())
	require.Len(t, f.reporter.sent, 1)
	assert.Contains(t, out, "connect failed")
	assert.Contains(t, out, "report "+f.reporter.sent[0])
}

func TestStatusError(t *testing.T) {
	f := newFixture(t, "")
	s := f.addStatic(t)
	f.provider.Get(s.ID()).On("IsRunning", mock.Anything).Return(false, errors.New("handle gone"))

	assert.Contains(t, f.exec("status "+s.ID()), "check running: handle gone")
}

func TestUnknownCommandAndHelp(t *testing.T) {
	f := newFixture(t, "")

	assert.Contains(t, f.exec("frobnicate"), `unknown command "frobnicate"`)
	help := f.exec("help")
	for _, name := range []string{"list", "add", "rename", "forget", "undo", "connect", "disconnect", "status", "quit"} {
		assert.Contains(t, help, name)
	}
	assert.Empty(t, f.exec("   "))
}

func TestRunPrintsEventsAndQuits(t *testing.T) {
	f := newFixture(t, "add "+staticKey+"\nquit\nlist\n")

	done := make(chan error, 1)
	go func() { done <- f.shell.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shell did not quit")
	}

	require.Len(t, f.repo.GetAll(), 1)
	assert.NotContains(t, f.out.String(), "ID  ", "commands after quit must not run")
}

func TestRunEndsAtEOF(t *testing.T) {
	f := newFixture(t, "list\n")
	assert.NoError(t, f.shell.Run(context.Background()))
	assert.Contains(t, f.out.String(), "no servers")
}

func TestEventsArePrinted(t *testing.T) {
	pr, pw := io.Pipe()
	f := newFixture(t, "")
	f.shell.in = pr

	done := make(chan error, 1)
	go func() { done <- f.shell.Run(context.Background()) }()

	_, err := pw.Write([]byte("add " + staticKey + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "* server_added")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
}
