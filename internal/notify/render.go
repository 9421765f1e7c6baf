package notify

import (
	"fmt"
	"io"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirestatus/internal/proto"
)

var (
	badgeStyles = [...]lipgloss.Style{
		lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("241")),
		lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("241")),
		lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("220")),
		lipgloss.NewStyle().Padding(0, 1).Bold(true).Blink(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")),
	}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	lineStyle  = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("252"))
)

// Badge renders an attention level as a coloured label.
func Badge(level int) string {
	if level < 0 || level >= len(LevelNames) {
		level = 0
	}
	return badgeStyles[level].Render(LevelNames[level])
}

// RenderNotification renders the title and kept lines of n.
func RenderNotification(n Notification) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(n.Title))
	for _, line := range n.Lines {
		b.WriteByte('\n')
		b.WriteString(lineStyle.Render(line))
	}
	return b.String()
}

// Notifier consumes server frames, keeps State and Notifications current and
// writes a badge whenever the overall level changes.
type Notifier struct {
	state *State
	notes *Notifications
	out   io.Writer
	log   *zerolog.Logger
	level int
}

// NewNotifier creates a notifier writing to out.
func NewNotifier(clk clock.Clock, out io.Writer, logger *zerolog.Logger) *Notifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{
		state: NewState(),
		notes: NewNotifications(clk),
		out:   out,
		log:   logger,
	}
}

// State exposes the tracked window levels.
func (n *Notifier) State() *State { return n.state }

// Notifications exposes the live notifications.
func (n *Notifier) Notifications() *Notifications { return n.notes }

// Handle processes one frame. It returns ErrDisconnectNotice when the server
// announces a drop.
func (n *Notifier) Handle(m proto.Message) error {
	if ev, ok := m.(proto.EventMessage); ok {
		note := n.notes.Add(ev)
		n.log.Debug().Str("title", note.Title).Int("lines", len(note.Lines)).Msg("notification updated")
		_, err := fmt.Fprintln(n.out, RenderNotification(note))
		return err
	}

	if err := n.state.Handle(m); err != nil {
		return err
	}
	if level := n.state.MaxLevel(); level != n.level {
		n.log.Debug().Int("level", level).Str("name", LevelNames[level]).Msg("status level changed")
		n.level = level
		_, err := fmt.Fprintln(n.out, Badge(level))
		return err
	}
	return nil
}
