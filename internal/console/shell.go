// Package console is a line-oriented command shell over the server
// repository.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"outline-manager/internal/apperrors"
	"outline-manager/internal/domain"
	"outline-manager/internal/events"
	"outline-manager/internal/interfaces"
	"outline-manager/internal/link"
	"outline-manager/internal/reporter"
)

const defaultCommandTimeout = time.Minute

type command struct {
	usage   string
	summary string
	args    int
	run     func(ctx context.Context, args []string) error
}

type Shell struct {
	repo     interfaces.ServerRepository
	queue    *events.Queue
	reporter interfaces.ErrorReporter
	in       io.Reader
	logger   *zap.Logger
	timeout  time.Duration
	commands map[string]command

	mu  sync.Mutex
	out io.Writer
}

func New(
	repo interfaces.ServerRepository,
	queue *events.Queue,
	errorReporter interfaces.ErrorReporter,
	in io.Reader,
	out io.Writer,
	logger *zap.Logger,
) *Shell {
	s := &Shell{
		repo:     repo,
		queue:    queue,
		reporter: errorReporter,
		in:       in,
		out:      out,
		logger:   logger.With(zap.String("component", "console")),
		timeout:  defaultCommandTimeout,
	}
	s.commands = map[string]command{
		"list":       {usage: "list", summary: "show configured servers", run: s.list},
		"add":        {usage: "add <access-key>", summary: "add a server from an ss://, ssconf:// or https:// key", args: 1, run: s.add},
		"rename":     {usage: "rename <id> <name>", summary: "rename a server", args: 2, run: s.rename},
		"forget":     {usage: "forget <id>", summary: "remove a server", args: 1, run: s.forget},
		"undo":       {usage: "undo <id>", summary: "restore the last forgotten server", args: 1, run: s.undo},
		"connect":    {usage: "connect <id>", summary: "start the tunnel for a server", args: 1, run: s.connect},
		"disconnect": {usage: "disconnect <id>", summary: "stop the tunnel for a server", args: 1, run: s.disconnect},
		"status":     {usage: "status <id>", summary: "show tunnel and reachability state", args: 1, run: s.status},
	}
	return s
}

// Run reads commands until EOF, quit or ctx ends. Events are printed as
// they arrive.
func (s *Shell) Run(ctx context.Context) error {
	unsubscribe := s.queue.SubscribeAll(s.printEvent)
	defer unsubscribe()

	s.printf("type 'help' for a list of commands\n")

	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if s.Execute(ctx, scanner.Text()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true
	case "help":
		s.help()
		return false
	}

	cmd, ok := s.commands[name]
	if !ok {
		s.printf("unknown command %q, type 'help'\n", name)
		return false
	}
	if len(args) < cmd.args {
		s.printf("usage: %s\n", cmd.usage)
		return false
	}
	// The last argument takes the rest of the line, so names may contain
	// spaces.
	if cmd.args > 0 && len(args) > cmd.args {
		args = append(args[:cmd.args-1], strings.Join(args[cmd.args-1:], " "))
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := cmd.run(cmdCtx, args); err != nil {
		s.printf("error: %v\n", err)
	}
	return false
}

func (s *Shell) help() {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%s\n", s.commands[name].usage, s.commands[name].summary)
	}
	fmt.Fprintf(w, "  help\tshow this message\n")
	fmt.Fprintf(w, "  quit\texit\n")
	w.Flush()
}

func (s *Shell) list(ctx context.Context, args []string) error {
	servers := s.repo.GetAll()
	if len(servers) == 0 {
		s.printf("no servers\n")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tHOST\tNOTE\n")
	for _, server := range servers {
		note := server.ErrorMessageID()
		if note == "" && server.Config().Source != nil {
			note = "dynamic"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", server.ID(), server.Name(), server.Host(), note)
	}
	return w.Flush()
}

func (s *Shell) add(ctx context.Context, args []string) error {
	cfg, err := link.ParseAccessKey(args[0])
	if err != nil {
		return err
	}

	server, err := s.repo.Add(cfg)
	var dup *apperrors.ServerAlreadyAddedError
	if errors.As(err, &dup) {
		return fmt.Errorf("server already added as %s", dup.Server.ID())
	}
	if err != nil {
		return err
	}

	s.printf("added %s\n", server.ID())
	return nil
}

func (s *Shell) rename(ctx context.Context, args []string) error {
	if _, err := s.lookup(args[0]); err != nil {
		return err
	}
	return s.repo.Rename(args[0], args[1])
}

// forget stops a running tunnel before the server leaves the repository,
// since nothing could reach it afterwards.
func (s *Shell) forget(ctx context.Context, args []string) error {
	server, err := s.lookup(args[0])
	if err != nil {
		return err
	}

	running, err := server.CheckRunning(ctx)
	if err != nil {
		s.logger.Warn("cannot tell whether server is running", zap.String("server_id", server.ID()), zap.Error(err))
	}
	if running {
		if err := server.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnect before forget: %w", err)
		}
	}

	if err := s.repo.Forget(args[0]); err != nil {
		return err
	}
	s.printf("forgot %s, 'undo %s' restores it\n", args[0], args[0])
	return nil
}

func (s *Shell) undo(ctx context.Context, args []string) error {
	if err := s.repo.UndoForget(args[0]); err != nil {
		return err
	}
	if _, ok := s.repo.GetByID(args[0]); !ok {
		return fmt.Errorf("nothing to undo for %s", args[0])
	}
	return nil
}

func (s *Shell) connect(ctx context.Context, args []string) error {
	server, err := s.lookup(args[0])
	if err != nil {
		return err
	}

	if err := server.Connect(ctx); err != nil {
		correlationID := reporter.NewCorrelationID()
		s.logger.Error("connect failed",
			zap.String("server_id", server.ID()),
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		s.reporter.Send(correlationID)
		return fmt.Errorf("connect failed: %w (report %s)", err, correlationID)
	}
	return nil
}

func (s *Shell) disconnect(ctx context.Context, args []string) error {
	server, err := s.lookup(args[0])
	if err != nil {
		return err
	}
	return server.Disconnect(ctx)
}

func (s *Shell) status(ctx context.Context, args []string) error {
	server, err := s.lookup(args[0])
	if err != nil {
		return err
	}

	running, err := server.CheckRunning(ctx)
	if err != nil {
		return fmt.Errorf("check running: %w", err)
	}
	reachable, err := server.CheckReachable(ctx)
	if err != nil {
		return fmt.Errorf("check reachable: %w", err)
	}
	s.printf("%s: running=%t reachable=%t\n", server.ID(), running, reachable)
	return nil
}

func (s *Shell) lookup(id string) (domain.Server, error) {
	server, ok := s.repo.GetByID(id)
	if !ok {
		return nil, fmt.Errorf("no server with id %s", id)
	}
	return server, nil
}

func (s *Shell) printEvent(e events.Event) {
	server := e.Server()
	switch ev := e.(type) {
	case events.ServerConfigSourceURLChanged:
		s.printf("* %s %s %s\n", ev.Type(), server.ID(), ev.URL)
	default:
		s.printf("* %s %s %s\n", e.Type(), server.ID(), server.Name())
	}
}

func (s *Shell) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
