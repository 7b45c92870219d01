////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package ui renders conversation transcripts for a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/nesmo/connect/chat"
)

const (
	// DefaultWidth is the transcript width used when none is given.
	DefaultWidth = 72

	timeFormat = "Jan 2 15:04"
)

// Theme holds the styles of a transcript.
type Theme struct {
	Title       lipgloss.Style
	Mine        lipgloss.Style
	Peer        lipgloss.Style
	Meta        lipgloss.Style
	Placeholder lipgloss.Style
	Attachment  lipgloss.Style
}

// DefaultTheme returns the standard transcript styles.
func DefaultTheme() Theme {
	return Theme{
		Title: lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("#7D56F4")),
		Mine: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		Peer: lipgloss.NewStyle(),
		Meta: lipgloss.NewStyle().Faint(true),
		Placeholder: lipgloss.NewStyle().Italic(true).
			Foreground(lipgloss.Color("#FF5F87")),
		Attachment: lipgloss.NewStyle().Underline(true),
	}
}

// RenderTranscript renders the view with the default theme. Messages sent by
// the signed-in user are right-aligned; deleted messages are hidden.
func RenderTranscript(title string, view []chat.ViewMessage, width int) string {
	return DefaultTheme().RenderTranscript(title, view, width)
}

// RenderTranscript renders the view using the theme.
func (t Theme) RenderTranscript(
	title string, view []chat.ViewMessage, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}

	blocks := []string{t.Title.Render(title),
		t.Meta.Render(strings.Repeat("─", width))}
	shown := 0
	for _, vm := range view {
		if vm.IsDeleted {
			continue
		}
		blocks = append(blocks, t.renderMessage(vm, width))
		shown++
	}
	if shown == 0 {
		blocks = append(blocks, t.Meta.Render("no messages yet"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (t Theme) renderMessage(vm chat.ViewMessage, width int) string {
	env := vm.Message.Base()

	who := env.SenderName
	if who == "" {
		who = env.SenderID
	}
	if vm.IsMine {
		who = "you"
	}
	meta := t.Meta.Render(fmt.Sprintf("%s · %s", who,
		time.UnixMilli(env.Timestamp).Format(timeFormat)))

	body := vm.Text
	bodyStyle := t.Peer
	if vm.IsMine {
		bodyStyle = t.Mine
	}
	if vm.Unavailable {
		bodyStyle = t.Placeholder
	}
	lines := []string{meta}
	if strings.TrimSpace(body) != "" || vm.Unavailable {
		lines = append(lines, bodyStyle.Width(width*3/4).Render(body))
	}
	if a := env.Attachment; a != nil {
		lines = append(lines, t.Attachment.Render(
			fmt.Sprintf("[%s] %s", a.MimeType, a.URL)))
	}

	pos := lipgloss.Left
	if vm.IsMine {
		pos = lipgloss.Right
	}
	block := lipgloss.JoinVertical(pos, lines...)
	return lipgloss.PlaceHorizontal(width, pos, block)
}

// Printer is a [chat.Presenter] that writes every new transcript to w.
type Printer struct {
	w     io.Writer
	title string
	width int
	theme Theme

	mux sync.Mutex
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, title string, width int) *Printer {
	return &Printer{w: w, title: title, width: width, theme: DefaultTheme()}
}

// Render writes the transcript. It adheres to [chat.Presenter].
func (p *Printer) Render(view []chat.ViewMessage) {
	p.mux.Lock()
	defer p.mux.Unlock()
	_, err := fmt.Fprintln(p.w, p.theme.RenderTranscript(p.title, view, p.width))
	if err != nil {
		jww.WARN.Printf("[UI] Failed to write transcript: %+v", err)
	}
}

// Redirect reports that the conversation cannot be shown. It adheres to
// [chat.Presenter].
func (p *Printer) Redirect(conversationID string, err error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	_, _ = fmt.Fprintln(p.w, p.theme.Placeholder.Render(
		fmt.Sprintf("Conversation %s is unavailable: %v", conversationID, err)))
}
