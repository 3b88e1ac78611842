// Package moderation runs user-written text through an ordered chain of
// reviewers before it is stored.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrRejected signals that a reviewer refused the content. Reviewers wrap
// it to say why.
var ErrRejected = errors.New("content rejected")

// Event names the point where content enters the chain.
type Event string

const (
	BeforePost    Event = "before_post"
	BeforeComment Event = "before_comment"
)

// Content is the text under review and who wrote it.
type Content struct {
	AuthorID int64
	Text     string
}

// Fn reviews c and returns it, possibly rewritten. Any error stops the chain.
type Fn func(ctx context.Context, ev Event, c Content) (Content, error)

type entry struct {
	priority int
	name     string
	fn       Fn
}

// Chain holds reviewers per event, lowest priority first.
type Chain struct {
	mu      sync.RWMutex
	entries map[Event][]*entry
}

// NewChain creates an empty Chain.
func NewChain() *Chain {
	return &Chain{entries: make(map[Event][]*entry)}
}

// Register adds fn for ev. Reviewers with equal priority run in
// registration order.
func (ch *Chain) Register(ev Event, priority int, name string, fn Fn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	list := append(ch.entries[ev], &entry{priority: priority, name: name, fn: fn})
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority < list[j].priority })
	ch.entries[ev] = list
}

// Unregister removes every reviewer called name from ev.
func (ch *Chain) Unregister(ev Event, name string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	list := ch.entries[ev]
	n := 0
	for _, e := range list {
		if e.name != name {
			list[n] = e
			n++
		}
	}
	ch.entries[ev] = list[:n]
}

// Names lists the reviewers of ev in run order.
func (ch *Chain) Names(ev Event) []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	names := make([]string, len(ch.entries[ev]))
	for i, e := range ch.entries[ev] {
		names[i] = e.name
	}
	return names
}

// Run passes c through every reviewer of ev in priority order.
func (ch *Chain) Run(ctx context.Context, ev Event, c Content) (Content, error) {
	ch.mu.RLock()
	list := make([]*entry, len(ch.entries[ev]))
	copy(list, ch.entries[ev])
	ch.mu.RUnlock()

	for _, e := range list {
		out, err := e.fn(ctx, ev, c)
		if err != nil {
			return c, fmt.Errorf("%s: %w", e.name, err)
		}
		c = out
	}
	return c, nil
}

// BlockedWords rejects text containing any of words as a whole word,
// ignoring case. An empty list accepts everything.
func BlockedWords(words []string) Fn {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return func(_ context.Context, _ Event, c Content) (Content, error) { return c, nil }
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return func(_ context.Context, _ Event, c Content) (Content, error) {
		if re.MatchString(c.Text) {
			return c, ErrRejected
		}
		return c, nil
	}
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// CollapseBlankLines limits runs of empty lines to one.
func CollapseBlankLines(_ context.Context, _ Event, c Content) (Content, error) {
	c.Text = blankRuns.ReplaceAllString(c.Text, "\n\n")
	return c, nil
}

// Standard builds the chain the server runs for posts and comments.
func Standard(blockedWords []string) *Chain {
	ch := NewChain()
	blocked := BlockedWords(blockedWords)
	for _, ev := range []Event{BeforePost, BeforeComment} {
		ch.Register(ev, 0, "collapse_blank_lines", CollapseBlankLines)
		ch.Register(ev, 10, "blocked_words", blocked)
	}
	return ch
}
