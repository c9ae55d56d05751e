package capability

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"btserial/internal/manager"
	"btserial/util"
)

// Exec runs a child process for every record received and sends its
// output back over the channel.  Either Program (-e) or Command (-c)
// must be set.
type Exec struct {
	Program   string // -e: execute a program directly
	Command   string // -c: execute via the system shell
	Delimiter string // record terminator; defaults to "\n"
	Logger    *util.Logger
}

// Handle subscribes to records and runs them through the child process
// one at a time, in arrival order, until ctx is cancelled.
func (e *Exec) Handle(ctx context.Context, ch Channel) error {
	if e.Program == "" && e.Command == "" {
		return fmt.Errorf("no command specified for exec mode")
	}
	delim := e.Delimiter
	if delim == "" {
		delim = manager.DefaultDelimiter
	}

	records := util.NewQueue[string]()
	ch.SubscribeData(delim, func(ev manager.Event) { records.Push(ev.Record) })
	defer ch.SubscribeData(delim, nil)

	go func() {
		<-ctx.Done()
		records.Close()
	}()

	for {
		rec, ok := records.Pop()
		if !ok || ctx.Err() != nil {
			return nil
		}
		out, err := e.run(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logf("exec: %v", err)
		}
		if len(out) > 0 {
			if err := ch.Send(out); err != nil {
				e.logf("exec: send: %v", err)
			}
		}
	}
}

// run feeds one record, delimiter stripped, to the child's stdin and
// returns its combined output.
func (e *Exec) run(ctx context.Context, record string) ([]byte, error) {
	var cmd *exec.Cmd
	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd.exe", "/C", e.Command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
		}
	default:
		cmd = exec.CommandContext(ctx, e.Program)
	}

	delim := e.Delimiter
	if delim == "" {
		delim = manager.DefaultDelimiter
	}
	cmd.Stdin = strings.NewReader(strings.TrimSuffix(record, delim))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if e.Logger != nil {
		e.Logger.Debug("exec: %s", cmd.String())
	}
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	return out.Bytes(), nil
}

func (e *Exec) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Warn(format, args...)
	}
}
