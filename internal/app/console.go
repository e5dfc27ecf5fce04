package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/proto"
)

// Console is a line-oriented participant bound to a reader and a writer.
//
// Input lines:
//
//	text               chat to everybody
//	/w <name> <text>   private message
//	/sys <to> <text>   system message
type Console struct {
	*core.Client

	in   io.Reader
	out  io.Writer
	mu   sync.Mutex
	node Registrar
}

// Registrar is the node a console registers with.
type Registrar interface {
	AddClient(p core.Participant) error
	RenameClient(p core.Participant, name string) error
}

// NewConsole creates a console. An empty name leaves the participant
// unnamed until a WELCOME from the host names it.
func NewConsole(name string, in io.Reader, out io.Writer) *Console {
	return &Console{
		Client: core.NewClient(name, name),
		in:     in,
		out:    out,
	}
}

// Attach registers the console with node. A WELCOME renames it through the
// node afterwards.
func (c *Console) Attach(node Registrar) error {
	c.node = node
	return node.AddClient(c)
}

// Run prints incoming traffic and forwards input lines until ctx is done or
// the participant is disposed.
func (c *Console) Run(ctx context.Context) {
	go c.readInput(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.Incoming:
			if !ok {
				return
			}
			c.handle(m)
		}
	}
}

func (c *Console) handle(m proto.Message) {
	// Own anonymous traffic echoed back by the local fan-out.
	if m.Sender == "" {
		return
	}
	if m.IsSystem && m.Sender == proto.Authority {
		if name, ok := strings.CutPrefix(m.Text, WelcomeReply+" "); ok && c.node != nil {
			if err := c.node.RenameClient(c, name); err != nil {
				c.printf("* cannot take name %s: %v", name, err)
			}
		}
	}
	c.print(m)
}

func (c *Console) print(m proto.Message) {
	var line string
	switch {
	case m.IsSystem:
		line = fmt.Sprintf("* %s -> %s: %s", m.Sender, m.Receiver, m.Text)
	case m.IsPrivate:
		line = fmt.Sprintf("(private) %s: %s", m.Sender, m.Text)
	default:
		line = fmt.Sprintf("%s: %s", m.Sender, m.Text)
	}
	c.printf("%s", line)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	fmt.Fprintf(c.out, format+"\n", args...)
	c.mu.Unlock()
}

func (c *Console) readInput(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		m, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case c.Outgoing <- m:
		case <-ctx.Done():
			return
		}
	}
}

// ParseLine turns an input line into a message with an empty sender.
func ParseLine(line string) (proto.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return proto.Empty, false
	}
	for _, cmd := range []string{"/w", "/sys"} {
		rest, ok := strings.CutPrefix(line, cmd+" ")
		if !ok {
			continue
		}
		to, text, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok || to == "" {
			return proto.Empty, false
		}
		if cmd == "/sys" {
			return proto.NewSystem("", to, text), true
		}
		return proto.Message{Receiver: to, Text: text, IsPrivate: true}, true
	}
	return proto.NewChat("", proto.Everybody, line), true
}
