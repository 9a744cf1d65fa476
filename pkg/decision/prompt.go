package decision

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Prompt asks an operator to resolve failures on a text terminal.
// Only one question is open at a time; concurrent callers wait their turn.
type Prompt struct {
	Reader *bufio.Reader
	Writer io.Writer

	ask       sync.Mutex
	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// NewPrompt creates a prompt over r and w (stdin and stdout when nil).
func NewPrompt(r io.Reader, w io.Writer) *Prompt {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &Prompt{
		Reader: bufio.NewReader(r),
		Writer: w,
	}
}

func (p *Prompt) initPump() {
	p.startOnce.Do(func() {
		p.inputChan = make(chan inputResult)
		go p.pump()
	})
}

func (p *Prompt) pump() {
	for {
		text, err := p.Reader.ReadString('\n')
		if text != "" {
			p.inputChan <- inputResult{text: text}
		}
		if err != nil {
			if err != io.EOF {
				p.inputChan <- inputResult{err: err}
			}
			close(p.inputChan)
			return
		}
	}
}

// Decide implements ports.DecisionSource. It re-asks until the answer names an
// offered option. End of input returns io.EOF.
func (p *Prompt) Decide(ctx context.Context, ev *domain.FailureEvent) (domain.Decision, error) {
	p.ask.Lock()
	defer p.ask.Unlock()
	p.initPump()

	fmt.Fprintf(p.Writer, "\n%s %s failed: %s\n", ev.Processor, ev.Op, ev.Message)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
			fmt.Fprintf(p.Writer, "%s > ", labels(ev.Options))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-p.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			d, err := domain.ParseDecision(res.text)
			if err != nil || !domain.Offered(ev.Options, d) {
				fmt.Fprintf(p.Writer, "Please answer one of: %s\n", labels(ev.Options))
				continue
			}
			return d, nil
		}
	}
}

// Command asks for the next operator command while a run is paused. An empty
// answer steps one operation.
func (p *Prompt) Command(ctx context.Context, state domain.State) (domain.Command, error) {
	p.ask.Lock()
	defer p.ask.Unlock()
	p.initPump()

	for {
		fmt.Fprintf(p.Writer, "%s: [enter] step / [r]esume / [a]bort > ", state)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res, ok := <-p.inputChan:
			if !ok {
				return "", io.EOF
			}
			if res.err != nil {
				return "", res.err
			}
			switch text := strings.ToLower(strings.TrimSpace(res.text)); text {
			case "", "n":
				return domain.CommandStep, nil
			case "r":
				return domain.CommandStartOrPause, nil
			case "a":
				return domain.CommandAbort, nil
			default:
				cmd, err := domain.ParseCommand(text)
				if err != nil {
					fmt.Fprintln(p.Writer, "Please answer step, resume or abort")
					continue
				}
				return cmd, nil
			}
		}
	}
}

func labels(options []domain.Decision) string {
	names := make([]string, len(options))
	for i, d := range options {
		switch d {
		case domain.DecisionRetry:
			names[i] = "[r]etry"
		case domain.DecisionSkip:
			names[i] = "[s]kip"
		case domain.DecisionPause:
			names[i] = "[p]ause"
		default:
			names[i] = string(d)
		}
	}
	return strings.Join(names, " / ")
}
