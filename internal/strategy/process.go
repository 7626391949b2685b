package strategy

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/angeloszaimis/conn-dispatcher/internal/connection"
	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

// ChildEnv marks a process started by the process strategy. Its value is
// "1" and the connection to serve is file descriptor 3.
const ChildEnv = "HTTPSERVER_CHILD_CONN"

const childConnFD = 3

type filer interface {
	File() (*os.File, error)
}

// Process serves every connection in a freshly started copy of the current
// executable. The child inherits the connection and nothing else from the
// listener side; the parent drops its copy as soon as the child is running.
type Process struct {
	base
	path   string
	args   []string
	active atomic.Int64
	wg     sync.WaitGroup
}

// NewProcessStrategy re-executes the running binary with args for each
// connection.
func NewProcessStrategy(args []string, logger *slog.Logger, collector *metrics.Collector) (*Process, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	return &Process{
		base: base{name: NameProcess, logger: logger, collector: collector},
		path: path,
		args: args,
	}, nil
}

func (p *Process) Dispatch(conn net.Conn) {
	p.dispatched()

	cmd, err := p.spawn(conn)
	_ = conn.Close()
	if err != nil {
		p.logger.Error("Failed to start child", slog.Any("err", err))
		return
	}

	p.active.Add(1)
	p.wg.Add(1)
	go p.reap(cmd)
}

func (p *Process) spawn(conn net.Conn) (*exec.Cmd, error) {
	f, ok := conn.(filer)
	if !ok {
		return nil, connection.ErrNoFile
	}

	file, err := f.File()
	if err != nil {
		return nil, fmt.Errorf("duplicate connection: %w", err)
	}
	defer file.Close()

	cmd := exec.Command(p.path, p.args...)
	cmd.Env = append(os.Environ(), ChildEnv+"=1")
	cmd.ExtraFiles = []*os.File{file}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.path, err)
	}

	return cmd, nil
}

func (p *Process) reap(cmd *exec.Cmd) {
	defer p.wg.Done()
	defer p.active.Add(-1)

	if err := cmd.Wait(); err != nil {
		p.logger.Warn("Child exited abnormally",
			slog.Int("pid", cmd.Process.Pid),
			slog.Any("err", err))
		return
	}

	p.logger.Debug("Child exited", slog.Int("pid", cmd.Process.Pid))
}

// Active reports how many children have not been reaped yet.
func (p *Process) Active() int {
	return int(p.active.Load())
}

// Wait blocks until every child started so far has exited.
func (p *Process) Wait() {
	p.wg.Wait()
}

// IsChild reports whether this process was started to serve one
// connection.
func IsChild() bool {
	return os.Getenv(ChildEnv) == "1"
}

// InheritedConn returns the connection handed down by the parent.
func InheritedConn() (net.Conn, error) {
	if !IsChild() {
		return nil, fmt.Errorf("%s is not set", ChildEnv)
	}

	file := os.NewFile(childConnFD, "inherited-conn")
	if file == nil {
		return nil, fmt.Errorf("file descriptor %d is not open", childConnFD)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("inherited connection: %w", err)
	}

	return conn, nil
}

// ServeChild serves the inherited connection with h and returns once it
// is closed.
func ServeChild(h handler.Handler, logger *slog.Logger) error {
	conn, err := InheritedConn()
	if err != nil {
		return err
	}

	handler.Run(logger, h, connection.Wrap(conn, nil))
	return nil
}
