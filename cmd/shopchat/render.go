package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/room4-2/shopchat/chat"
	"github.com/room4-2/shopchat/messages"
	"github.com/room4-2/shopchat/transcript"
	"github.com/room4-2/shopchat/transport"
)

type theme struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Muted     lipgloss.Style
	Danger    lipgloss.Style
	Card      lipgloss.Style
	CardTitle lipgloss.Style
}

func defaultTheme() theme {
	accent := lipgloss.Color("#00FFFF")
	secondary := lipgloss.Color("#7D7D7D")
	success := lipgloss.Color("#00FF00")
	danger := lipgloss.Color("#FF0055")

	return theme{
		User:      lipgloss.NewStyle().Bold(true).Foreground(accent),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(success),
		System:    lipgloss.NewStyle().Italic(true).Foreground(secondary),
		Muted:     lipgloss.NewStyle().Foreground(secondary),
		Danger:    lipgloss.NewStyle().Foreground(danger),
		Card: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondary).
			Padding(0, 1),
		CardTitle: lipgloss.NewStyle().Bold(true).Foreground(accent),
	}
}

// renderer prints state snapshots incrementally: new messages get a role label, a growing
// assistant message only prints its new suffix
type renderer struct {
	out   io.Writer
	theme theme

	mu         sync.Mutex
	done       int
	openID     string
	written    int
	needLabel  bool
	lineOpen   bool
	status     transport.Status
	lastErr    error
	structured []byte
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, theme: defaultTheme()}
}

func (r *renderer) label(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return r.theme.User.Render("you ›")
	case transcript.RoleSystem:
		return r.theme.System.Render("system ›")
	default:
		return r.theme.Assistant.Render("monica ›")
	}
}

func (r *renderer) Render(s chat.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Status != r.status {
		r.status = s.Status
		r.line(r.theme.Muted.Render("[" + s.Status.String() + "]"))
	}

	msgs := s.Messages()
	for i := r.done; i < len(msgs); i++ {
		m := msgs[i]
		if m.ID != r.openID {
			r.openID = m.ID
			r.written = 0
			r.needLabel = true
		}

		body := m.Content
		if m.Kind == transcript.KindImage {
			body = "[image] " + shorten(body, 60)
		}
		if len(body) > r.written {
			if r.needLabel {
				if r.lineOpen {
					fmt.Fprintln(r.out)
				}
				fmt.Fprint(r.out, r.label(m.Role)+" ")
				r.needLabel = false
			}
			fmt.Fprint(r.out, body[r.written:])
			r.written = len(body)
			r.lineOpen = true
		}
		if i < len(msgs)-1 {
			r.done = i + 1
		}
	}

	if len(s.Structured) > 0 && !bytes.Equal(s.Structured, r.structured) {
		r.structured = append(r.structured[:0], s.Structured...)
		r.products(s.Structured)
	}

	if s.LastError != nil && s.LastError != r.lastErr {
		r.line(r.theme.Danger.Render("error: " + s.LastError.Error()))
	}
	r.lastErr = s.LastError
}

// line prints text on its own line; an interrupted message resumes under a fresh label
func (r *renderer) line(text string) {
	if r.lineOpen {
		fmt.Fprintln(r.out)
		r.lineOpen = false
		r.needLabel = true
	}
	fmt.Fprintln(r.out, text)
}

func (r *renderer) products(payload []byte) {
	products, err := messages.DecodeProducts(payload)
	if err != nil || len(products) == 0 {
		return
	}

	cards := make([]string, 0, len(products))
	for _, p := range products {
		var b strings.Builder
		b.WriteString(r.theme.CardTitle.Render(p.Name))
		if p.Brand != "" || p.Price != "" {
			b.WriteString("\n" + strings.TrimSpace(p.Brand+"  "+p.Price))
		}
		if p.URL != "" {
			b.WriteString("\n" + r.theme.Muted.Render(p.URL))
		}
		cards = append(cards, r.theme.Card.Render(b.String()))
	}
	r.line(lipgloss.JoinVertical(lipgloss.Left, cards...))
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
