// ABOUTME: Host access grants checked before hsadmin contacts a homeserver
// ABOUTME: Provides allow lists, interactive prompts and chains of both

package grant

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
)

// ErrDenied is returned when a host has not been granted.
var ErrDenied = errors.New("access denied")

// Granter decides whether hsadmin may contact a host. Grant returns nil to
// allow and an error wrapping ErrDenied to refuse.
type Granter interface {
	Grant(ctx context.Context, host string) error
}

// HostOf returns the lowercased hostname of a URL or bare host[:port].
func HostOf(target string) string {
	host := target
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil {
			host = u.Host
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func denied(host string) error {
	return fmt.Errorf("%w: %s", ErrDenied, host)
}

// AllowList grants hosts matching any pattern. A pattern is an exact
// hostname or "*.suffix", which matches any subdomain of suffix but not
// suffix itself.
type AllowList struct {
	patterns []string
}

// NewAllowList normalizes patterns to lowercase.
func NewAllowList(patterns []string) *AllowList {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &AllowList{patterns: normalized}
}

func (a *AllowList) Grant(_ context.Context, host string) error {
	if a.Allows(host) {
		return nil
	}
	return denied(host)
}

// Allows reports whether host matches a pattern.
func (a *AllowList) Allows(host string) bool {
	host = HostOf(host)
	for _, pattern := range a.patterns {
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}

// Prompt asks the operator on a terminal. Answers apply for the lifetime of
// the Prompt so the same host is asked about at most once.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	answers map[string]bool
}

// NewPrompt creates a Prompt reading answers from in and writing questions
// to out. Pass the caller's *bufio.Reader to share buffered input.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	reader, ok := in.(*bufio.Reader)
	if !ok {
		reader = bufio.NewReader(in)
	}
	return &Prompt{
		in:      reader,
		out:     out,
		answers: make(map[string]bool),
	}
}

func (p *Prompt) Grant(ctx context.Context, host string) error {
	host = HostOf(host)
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if allowed, ok := p.answers[host]; ok {
		if allowed {
			return nil
		}
		return denied(host)
	}

	fmt.Fprintf(p.out, "Allow hsadmin to contact %s? [y/N]: ", host)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		// No terminal input: treat as a refusal without remembering it
		return fmt.Errorf("%w: %s (no answer)", ErrDenied, host)
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	allowed := answer == "y" || answer == "yes"
	p.answers[host] = allowed
	if !allowed {
		return denied(host)
	}
	return nil
}

// Chain tries each Granter in order. The first grant wins; the host is
// denied only when every Granter denies it. Errors other than ErrDenied stop
// the chain.
type Chain []Granter

func (c Chain) Grant(ctx context.Context, host string) error {
	for _, g := range c {
		err := g.Grant(ctx, host)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDenied) {
			return err
		}
	}
	return denied(HostOf(host))
}
