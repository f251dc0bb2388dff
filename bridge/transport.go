package bridge

import (
	"context"
	"io"
	"os/exec"
	"sync"
)

// Transport supplies the duplex byte stream a ProcessBridge speaks
// over. Start is called exactly once; Close must be safe to call more
// than once and must guarantee any underlying process is terminated.
type Transport interface {
	Start(ctx context.Context) (stdin io.Writer, stdout io.Reader, err error)
	Close() error
}

// CommandTransport spawns an external command and exposes its standard
// streams. The child is killed exactly once on Close, including the
// teardown running after a failed call.
type CommandTransport struct {
	Name string
	Args []string
	Dir  string

	cmd      *exec.Cmd
	killOnce sync.Once
}

// NewCommandTransport builds a transport for the given command line.
func NewCommandTransport(name string, args ...string) *CommandTransport {
	return &CommandTransport{Name: name, Args: args}
}

func (t *CommandTransport) Start(ctx context.Context) (io.Writer, io.Reader, error) {
	cmd := exec.CommandContext(ctx, t.Name, t.Args...)
	cmd.Dir = t.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, spawnErr("stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, spawnErr("stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, spawnErr(t.Name, err)
	}

	t.cmd = cmd
	return stdin, stdout, nil
}

func (t *CommandTransport) Close() error {
	t.killOnce.Do(func() {
		if t.cmd != nil && t.cmd.Process != nil {
			t.cmd.Process.Kill()
			t.cmd.Wait()
		}
	})
	return nil
}

// PipeTransport speaks over caller-supplied streams. Tests use it with
// io.Pipe to script the remote side; no process is involved.
type PipeTransport struct {
	In  io.Writer
	Out io.Reader

	closers []io.Closer
	once    sync.Once
}

// NewPipeTransport wraps pre-connected streams. Any closers given are
// closed on Close so a scripted remote observes stream shutdown.
func NewPipeTransport(in io.Writer, out io.Reader, closers ...io.Closer) *PipeTransport {
	return &PipeTransport{In: in, Out: out, closers: closers}
}

func (t *PipeTransport) Start(ctx context.Context) (io.Writer, io.Reader, error) {
	return t.In, t.Out, nil
}

func (t *PipeTransport) Close() error {
	t.once.Do(func() {
		for _, c := range t.closers {
			c.Close()
		}
	})
	return nil
}
