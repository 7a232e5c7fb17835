package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/vovakirdan/deltaconn-go/deltaconn"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	waitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// colorEnabled reports whether w is a terminal.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// statusLine renders a state transition for the status indicator.
func statusLine(ev deltaconn.StateEvent, color bool) string {
	label := fmt.Sprintf("[%s]", ev.NewState)
	if color {
		label = stateStyle(ev.NewState).Render(label)
	}
	if ev.Message != "" {
		return label + " " + ev.Message
	}
	return label
}

func stateStyle(s deltaconn.ConnectionState) lipgloss.Style {
	switch s {
	case deltaconn.StateConnected, deltaconn.StateStatic:
		return okStyle
	case deltaconn.StateInitialConnecting, deltaconn.StateReconnecting:
		return waitStyle
	case deltaconn.StateError:
		return errStyle
	default:
		return downStyle
	}
}

// printer writes forward messages in the selected format.
type printer struct {
	w      io.Writer
	format string
	n      int
}

func (p *printer) print(msg *deltaconn.ForwardMsg) {
	p.n++
	if p.format == "json" {
		data, err := json.Marshal(msg)
		if err != nil {
			fmt.Fprintf(p.w, "%d\t<unprintable: %v>\n", p.n, err)
			return
		}
		fmt.Fprintf(p.w, "%s\n", data)
		return
	}
	line := fmt.Sprintf("%d\t%s", p.n, msg.Type)
	if msg.Metadata != nil && len(msg.Metadata.DeltaPath) > 0 {
		line += fmt.Sprintf("\tpath=%v", msg.Metadata.DeltaPath)
	}
	if len(msg.Data) > 0 {
		line += "\t" + string(msg.Data)
	}
	fmt.Fprintln(p.w, line)
}
