package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a secret from an environment variable or by prompting
// the operator. The value is cached after the first successful retrieval.
type Source struct {
	envVar string
	label  string

	lookupEnv func(string) (string, bool)
	prompt    func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting on the
// terminal with label.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar:    strings.TrimSpace(envVar),
		label:     label,
		lookupEnv: os.LookupEnv,
		prompt:    terminalPrompt(os.Stdin, os.Stderr),
	}
}

// WithLookup replaces the environment lookup. Used by tests.
func (s *Source) WithLookup(fn func(string) (string, bool)) *Source {
	s.lookupEnv = fn
	return s
}

// WithPrompt replaces the interactive prompt. Used by tests.
func (s *Source) WithPrompt(fn func(label string) (string, error)) *Source {
	s.prompt = fn
	return s
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		value, err := s.prompt(s.label)
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively: %w", s.label, s.envVar, err)
			} else {
				s.err = err
			}
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = value
	})
	return s.value, s.err
}

var errNoTerminal = errors.New("no terminal available")

func terminalPrompt(in *os.File, out io.Writer) func(string) (string, error) {
	return func(label string) (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", errNoTerminal
		}
		fmt.Fprintf(out, "Enter %s: ", label)
		bytes, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return string(bytes), nil
	}
}
