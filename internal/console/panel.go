package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/loykin/recpanel/internal/loop"
)

type Command struct {
	Name  string
	Usage string
	Run   func(args []string)
}

type question struct {
	choices []string
	answer  func(choice string)
}

// Panel dispatches typed commands and answers to pending questions.
type Panel struct {
	win      *Window
	commands map[string]Command
	aliases  map[string]string
	pending  *question
}

func NewPanel(win *Window) *Panel {
	p := &Panel{win: win, commands: make(map[string]Command), aliases: make(map[string]string)}
	p.Register(Command{Name: "help", Usage: "list commands", Run: func([]string) { p.printHelp() }})
	return p
}

// Register adds a command. Aliases map to the same command.
func (p *Panel) Register(c Command, aliases ...string) {
	p.commands[c.Name] = c
	for _, a := range aliases {
		p.aliases[a] = c.Name
	}
}

// Ask shows a question and routes the next input line to answer. The reply
// must match a choice or its first letter; otherwise the question repeats.
func (p *Panel) Ask(q string, choices []string, answer func(choice string)) {
	p.pending = &question{choices: choices, answer: answer}
	p.win.Ask(fmt.Sprintf("%s [%s]", q, strings.Join(choices, "/")))
}

// Asking reports whether a question is awaiting an answer.
func (p *Panel) Asking() bool { return p.pending != nil }

// CancelQuestion drops the pending question, if any.
func (p *Panel) CancelQuestion() { p.pending = nil }

// HandleLine processes one line of user input.
func (p *Panel) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if q := p.pending; q != nil {
		if choice, ok := matchChoice(line, q.choices); ok {
			p.pending = nil
			q.answer(choice)
			return
		}
		p.win.Ask(fmt.Sprintf("please answer %s:", strings.Join(q.choices, "/")))
		return
	}
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	if real, ok := p.aliases[name]; ok {
		name = real
	}
	c, ok := p.commands[name]
	if !ok {
		p.win.Notice(fmt.Sprintf("unknown command %q, type help", fields[0]))
		return
	}
	c.Run(fields[1:])
}

func matchChoice(in string, choices []string) (string, bool) {
	in = strings.ToLower(in)
	if in == "" {
		return "", false
	}
	for _, c := range choices {
		if in == strings.ToLower(c) {
			return c, true
		}
	}
	for _, c := range choices {
		if len(in) == 1 && c != "" && in == strings.ToLower(c[:1]) {
			return c, true
		}
	}
	return "", false
}

func (p *Panel) printHelp() {
	names := make([]string, 0, len(p.commands))
	for n := range p.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("commands:")
	for _, n := range names {
		fmt.Fprintf(&b, "\n  %-8s %s", n, p.commands[n].Usage)
	}
	p.win.Notice(b.String())
}

// ReadInput reads lines from r and posts each one to the loop until ctx is
// done or r reaches EOF. onEOF, if set, is posted once input ends.
func (p *Panel) ReadInput(ctx context.Context, r io.Reader, l *loop.Loop, onEOF func()) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				if onEOF != nil {
					l.Post(onEOF)
				}
				return
			}
			l.Post(func() { p.HandleLine(line) })
		}
	}
}
