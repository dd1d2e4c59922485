package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"icloudgo/internal/auth"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("prompt aborted")

// LineReader is the subset of *readline.Instance the prompts use.
type LineReader interface {
	SetPrompt(prompt string)
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	Close() error
}

// Prompter asks the user for credentials and second factor input.
type Prompter struct {
	rl  LineReader
	out io.Writer
}

// NewPrompter creates a readline backed prompter that reads from in and
// echoes to out.
func NewPrompter(in io.ReadCloser, out io.Writer) (*Prompter, error) {
	rl, err := readline.NewEx(&readline.Config{
		Stdin:           in,
		Stdout:          out,
		Stderr:          out,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return NewPrompterWithReader(rl, out), nil
}

// NewPrompterWithReader wraps an existing line reader.
func NewPrompterWithReader(rl LineReader, out io.Writer) *Prompter {
	return &Prompter{rl: rl, out: out}
}

// Close releases the terminal.
func (p *Prompter) Close() error {
	return p.rl.Close()
}

func (p *Prompter) line(prompt string) (string, error) {
	p.rl.SetPrompt(prompt)
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", ErrAborted
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Password asks for the account password without echo.
func (p *Prompter) Password(identity string) (string, error) {
	for {
		pw, err := p.rl.ReadPassword(fmt.Sprintf("Password for %s: ", identity))
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		if err != nil {
			return "", err
		}
		if len(pw) > 0 {
			return string(pw), nil
		}
	}
}

// Code asks for a verification code. Blank answers are asked again.
func (p *Prompter) Code(prompt string) (string, error) {
	for {
		code, err := p.line(prompt)
		if err != nil {
			return "", err
		}
		if code != "" {
			return code, nil
		}
	}
}

// Confirm asks a yes/no question. An empty answer takes the default.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		answer, err := p.line(fmt.Sprintf("%s %s ", question, hint))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// ChooseDevice lists the trusted devices and asks for one by number.
func (p *Prompter) ChooseDevice(devices []auth.Device) (auth.Device, error) {
	if len(devices) == 0 {
		return nil, errors.New("no trusted devices available")
	}
	fmt.Fprintln(p.out, "Your trusted devices are:")
	for i, device := range devices {
		fmt.Fprintf(p.out, "  %d: %s\n", i, device.Label())
	}
	for {
		answer, err := p.line("Which device would you like to use? [0] ")
		if err != nil {
			return nil, err
		}
		if answer == "" {
			return devices[0], nil
		}
		idx, err := strconv.Atoi(answer)
		if err == nil && idx >= 0 && idx < len(devices) {
			return devices[idx], nil
		}
		fmt.Fprintln(p.out, FormatWarning(fmt.Sprintf("enter a number between 0 and %d", len(devices)-1)))
	}
}
