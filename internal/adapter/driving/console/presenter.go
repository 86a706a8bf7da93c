// Package console is a terminal front end for the call service.
package console

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Presenter prints state changes. It implements port.Presenter and only
// writes when something the user can see has changed.
type Presenter struct {
	mu   sync.Mutex
	out  io.Writer
	last *domain.View
}

func NewPresenter(out io.Writer) *Presenter {
	return &Presenter{out: out}
}

func (p *Presenter) Render(view domain.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.last
	p.last = &view

	if prev == nil || prev.Online != view.Online || prev.SelfID != view.SelfID {
		if view.Online {
			fmt.Fprintf(p.out, "%s connected as %s\n", SuccessStyle.Render("●"), TitleStyle.Render(selfLabel(view)))
		} else {
			fmt.Fprintf(p.out, "%s offline\n", ErrorStyle.Render("●"))
		}
	} else if prev.SelfName != view.SelfName {
		fmt.Fprintf(p.out, "you are now %s\n", TitleStyle.Render(selfLabel(view)))
	}

	if prev == nil || prev.Phase != view.Phase || !sameRemote(prev.Remote, view.Remote) {
		p.renderPhase(view)
	}

	if view.Err != nil && (prev == nil || !errors.Is(prev.Err, view.Err)) {
		fmt.Fprintln(p.out, ErrorStyle.Render("error: "+view.Err.Error()))
	}

	if prev != nil && len(prev.Others) != len(view.Others) {
		fmt.Fprintln(p.out, MutedStyle.Render(fmt.Sprintf("%d other participant(s) online", len(view.Others))))
	}
}

func (p *Presenter) renderPhase(view domain.View) {
	switch view.Phase {
	case domain.PhaseIdle:
		line := PhaseStyle.Render("idle")
		if view.Reason != domain.ReasonNone {
			line += " " + MutedStyle.Render("call ended: "+string(view.Reason))
		}
		fmt.Fprintln(p.out, line)
	case domain.PhaseRingingOutgoing:
		fmt.Fprintf(p.out, "%s calling %s...\n", PhaseStyle.Render("ringing"), remoteLabel(view.Remote))
	case domain.PhaseRingingIncoming:
		fmt.Fprintln(p.out, RingingBoxStyle.Render(
			fmt.Sprintf("Incoming call from %s\naccept or reject?", remoteLabel(view.Remote)),
		))
	case domain.PhaseConnected:
		fmt.Fprintf(p.out, "%s in call with %s\n", PhaseStyle.Render("connected"), remoteLabel(view.Remote))
	}
}

func (p *Presenter) OnRemoteStream(stream port.RemoteStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s receiving %s (stream %s)\n", SuccessStyle.Render("▶"), stream.Kind(), stream.ID())
}

// Last returns the most recent view, if any.
func (p *Presenter) Last() (domain.View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domain.View{}, false
	}
	return *p.last, true
}

// ParticipantTable renders the online list with 1-based indexes usable by
// the call command.
func ParticipantTable(others []domain.Participant) string {
	if len(others) == 0 {
		return MutedStyle.Render("nobody else is online")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Name", "ID"})
	for i, p := range others {
		t.AppendRow(table.Row{strconv.Itoa(i + 1), p.DisplayName(), p.ID.String()})
	}
	return t.Render()
}

func selfLabel(view domain.View) string {
	if view.SelfName != "" {
		return fmt.Sprintf("%s (%s)", view.SelfName, view.SelfID)
	}
	return view.SelfID.String()
}

func remoteLabel(p *domain.Participant) string {
	if p == nil {
		return "?"
	}
	return TitleStyle.Render(p.DisplayName())
}

func sameRemote(a, b *domain.Participant) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
