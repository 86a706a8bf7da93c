package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var ErrQuit = errors.New("quit")

// Controller is the subset of the call service the console drives.
type Controller interface {
	Call(ctx context.Context, target domain.ParticipantID) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	HangUp(ctx context.Context) error
	SetName(ctx context.Context, name string) error
	View() domain.View
}

type REPL struct {
	ctrl Controller
	in   io.Reader
	out  io.Writer
}

func NewREPL(ctrl Controller, in io.Reader, out io.Writer) *REPL {
	return &REPL{ctrl: ctrl, in: in, out: out}
}

const helpText = `commands:
  name <display name>   set your name
  list                  show who is online
  call <#|name|id>      call someone from the list
  accept                answer the incoming call
  reject                decline the incoming call
  hangup                end or cancel the current call
  status                show the current state
  help                  show this help
  quit                  leave`

// Run reads commands until input ends, quit is typed or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	fmt.Fprintln(r.out, MutedStyle.Render(`type "help" for commands`))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := r.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(r.out, ErrorStyle.Render(err.Error()))
			}
		}
	}
}

// Exec runs a single command line.
func (r *REPL) Exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
		return nil
	case "quit", "exit":
		return ErrQuit
	case "name":
		if arg == "" {
			return errors.New("usage: name <display name>")
		}
		return r.ctrl.SetName(ctx, arg)
	case "list", "ls":
		fmt.Fprintln(r.out, ParticipantTable(r.ctrl.View().Others))
		return nil
	case "call":
		if arg == "" {
			return errors.New("usage: call <#|name|id>")
		}
		target, err := r.resolve(arg)
		if err != nil {
			return err
		}
		return r.ctrl.Call(ctx, target)
	case "accept", "a":
		return r.ctrl.Accept(ctx)
	case "reject", "r":
		return r.ctrl.Reject(ctx)
	case "hangup", "h":
		return r.ctrl.HangUp(ctx)
	case "status":
		r.status()
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

// resolve accepts a 1-based list index, an exact name or an id prefix.
func (r *REPL) resolve(arg string) (domain.ParticipantID, error) {
	others := r.ctrl.View().Others

	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(others) {
			return "", fmt.Errorf("no participant #%d", n)
		}
		return others[n-1].ID, nil
	}

	var match []domain.Participant
	for _, p := range others {
		if p.Name == arg || p.ID.String() == arg {
			return p.ID, nil
		}
		if strings.HasPrefix(p.ID.String(), arg) {
			match = append(match, p)
		}
	}
	switch len(match) {
	case 0:
		// Let the relay decide about ids missing from the local list.
		return domain.ParticipantID(arg), nil
	case 1:
		return match[0].ID, nil
	default:
		return "", fmt.Errorf("%q matches %d participants", arg, len(match))
	}
}

func (r *REPL) status() {
	v := r.ctrl.View()
	self := MutedStyle.Render("offline")
	if v.Online {
		self = selfLabel(v)
	}
	fmt.Fprintf(r.out, "you:   %s\nphase: %s\n", self, PhaseStyle.Render(v.Phase.String()))
	if v.Remote != nil {
		fmt.Fprintf(r.out, "with:  %s\n", remoteLabel(v.Remote))
	}
	if v.Reason != domain.ReasonNone {
		fmt.Fprintf(r.out, "last:  %s\n", string(v.Reason))
	}
	if v.Err != nil {
		fmt.Fprintf(r.out, "error: %s\n", v.Err)
	}
}
