package mockssh

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Post is one entry on the board.
type Post struct {
	Title   string
	Author  string
	Content string
}

// DefaultPosts returns the posts shown when none are configured.
func DefaultPosts() []Post {
	return []Post{
		{Title: "Welcome to the board", Author: "sysop", Content: "Use j/k to move and enter to read."},
		{Title: "Maintenance window", Author: "sysop", Content: "The board restarts every Sunday at 03:00."},
		{Title: "Rules", Author: "moderator", Content: "Be kind. No spam."},
	}
}

// Control sequences the board emits.
const (
	clearScreen  = "\x1b[2J\x1b[H"
	bold         = "\x1b[1m"
	reverse      = "\x1b[7m"
	reset        = "\x1b[0m"
	asciiCharset = "\x1b(B"
)

type screen int

const (
	screenUsername screen = iota
	screenPassword
	screenMenu
	screenPost
)

// board is the per-channel login and menu state machine. Input arrives in
// arbitrary chunks, so keys are decoded one byte at a time.
type board struct {
	srv      *Server
	rw       io.ReadWriter
	screen   screen
	line     []byte
	username string
	tries    int
	selected int
	esc      []byte
	lastCR   bool
}

func newBoard(srv *Server, rw io.ReadWriter) *board {
	return &board{srv: srv, rw: rw}
}

// run drives the board until the user quits or the client goes away and
// returns the exit status for the channel.
func (b *board) run() int {
	b.write(b.style(clearScreen+asciiCharset) + b.style(bold) + "Welcome to the board" + b.style(reset) + "\r\n\r\nUsername: ")

	buf := make([]byte, 256)
	for {
		n, err := b.rw.Read(buf)
		for _, c := range buf[:n] {
			if code, done := b.key(c); done {
				return code
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("board read error", slog.String("error", err.Error()))
			}
			return 0
		}
	}
}

// key handles one input byte. done reports that the session should end.
func (b *board) key(c byte) (code int, done bool) {
	if c == 0x03 {
		return 130, true
	}

	// Treat CR LF as one line ending.
	if c == '\n' && b.lastCR {
		b.lastCR = false
		return 0, false
	}
	b.lastCR = c == '\r'

	switch b.screen {
	case screenUsername, screenPassword:
		return b.loginKey(c)
	case screenPost:
		b.screen = screenMenu
		b.renderMenu()
		return 0, false
	default:
		return b.menuKey(c)
	}
}

func (b *board) loginKey(c byte) (int, bool) {
	switch c {
	case '\r', '\n':
		return b.submitLine()
	case 0x7f, 0x08:
		if len(b.line) > 0 {
			b.line = b.line[:len(b.line)-1]
			if b.screen == screenUsername {
				b.write("\b \b")
			}
		}
	default:
		b.line = append(b.line, c)
		if b.screen == screenUsername {
			b.write(string(c))
		}
	}
	return 0, false
}

func (b *board) submitLine() (int, bool) {
	entered := string(b.line)
	b.line = b.line[:0]

	if b.screen == screenUsername {
		b.username = entered
		b.screen = screenPassword
		b.write("\r\nPassword: ")
		return 0, false
	}

	want, ok := b.srv.logins[b.username]
	if ok && entered == want {
		b.srv.stats.logins.Add(1)
		slog.Debug("board login", slog.String("user", b.username))
		b.screen = screenMenu
		b.renderMenu()
		return 0, false
	}

	b.srv.stats.failures.Add(1)
	b.tries++
	if b.tries >= b.srv.maxTries {
		b.write("\r\nLogin incorrect. Goodbye.\r\n")
		return 1, true
	}
	b.screen = screenUsername
	b.write("\r\nLogin incorrect\r\n\r\nUsername: ")
	return 0, false
}

func (b *board) menuKey(c byte) (int, bool) {
	if len(b.esc) > 0 || c == 0x1b {
		b.esc = append(b.esc, c)
		switch {
		case bytes.Equal(b.esc, []byte("\x1b[A")):
			b.esc = nil
			return b.menuKey('k')
		case bytes.Equal(b.esc, []byte("\x1b[B")):
			b.esc = nil
			return b.menuKey('j')
		case len(b.esc) >= 3:
			b.esc = nil
		}
		return 0, false
	}

	switch c {
	case 'q':
		if b.srv.ignoreQuit {
			return 0, false
		}
		b.srv.stats.quits.Add(1)
		b.write(b.style(clearScreen) + "Goodbye.\r\n")
		return 0, true
	case 'j':
		if b.selected < len(b.srv.posts)-1 {
			b.selected++
		}
		b.renderMenu()
	case 'k':
		if b.selected > 0 {
			b.selected--
		}
		b.renderMenu()
	case 'r':
		b.renderMenu()
	case '\r', '\n':
		if len(b.srv.posts) == 0 {
			return 0, false
		}
		p := b.srv.posts[b.selected]
		b.screen = screenPost
		b.write(fmt.Sprintf("%s\r\n%s%s%s\r\nby %s\r\n\r\n%s\r\n\r\nPress any key to return...",
			b.style(clearScreen), b.style(bold), p.Title, b.style(reset), p.Author, p.Content))
	}
	return 0, false
}

func (b *board) renderMenu() {
	var sb strings.Builder
	sb.WriteString(b.style(clearScreen))
	sb.WriteString(b.style(bold) + "Main Menu" + b.style(reset) + "  (j/k move, enter read, q quit)\r\n\r\n")
	if len(b.srv.posts) == 0 {
		sb.WriteString("  No posts yet.\r\n")
	}
	for i, p := range b.srv.posts {
		if i == b.selected {
			sb.WriteString(b.style(reverse) + "> " + p.Title + b.style(reset) + "\r\n")
			continue
		}
		sb.WriteString("  " + p.Title + "\r\n")
	}
	b.write(sb.String())
}

func (b *board) style(seq string) string {
	if b.srv.plain {
		return ""
	}
	return seq
}

func (b *board) write(s string) {
	if _, err := io.WriteString(b.rw, s); err != nil {
		slog.Debug("board write error", slog.String("error", err.Error()))
	}
}
