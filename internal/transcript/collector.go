// Package transcript accumulates the ordered message exchange of a run.
package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/triage-agents/internal/domain"
)

// ErrSealed is returned when appending to a transcript whose run has ended.
var ErrSealed = errors.New("transcript is sealed")

// Collector is the append-only message sequence of one run. It has a single
// writer, the poller that owns the run, and is not safe for concurrent use.
type Collector struct {
	entries []domain.Message
	seen    map[string]struct{}
	sealed  bool
}

// New returns an empty collector.
func New() *Collector {
	return &Collector{seen: make(map[string]struct{})}
}

// Append adds messages in order, skipping any already collected by id.
// It returns the number of new entries.
func (c *Collector) Append(msgs ...domain.Message) (int, error) {
	if c.sealed {
		return 0, ErrSealed
	}
	added := 0
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := c.seen[m.ID]; dup {
				continue
			}
			c.seen[m.ID] = struct{}{}
		}
		c.entries = append(c.entries, m)
		added++
	}
	return added, nil
}

// Cursor returns the id of the newest entry with an id, used to fetch only
// newer messages on the next poll.
func (c *Collector) Cursor() string {
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].ID != "" {
			return c.entries[i].ID
		}
	}
	return ""
}

// Seal makes the transcript read-only.
func (c *Collector) Seal() { c.sealed = true }

// Sealed reports whether Seal was called.
func (c *Collector) Sealed() bool { return c.sealed }

// Len returns the number of entries.
func (c *Collector) Len() int { return len(c.entries) }

// Entries returns a copy of the collected messages.
func (c *Collector) Entries() []domain.Message {
	out := make([]domain.Message, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lines renders every entry as "[role] text".
func (c *Collector) Lines() []string {
	return render(c.entries)
}

// AssistantLines renders only agent-authored entries, or the whole transcript
// when the agent said nothing.
func (c *Collector) AssistantLines() []string {
	var agent []domain.Message
	for _, m := range c.entries {
		if m.IsAgent() {
			agent = append(agent, m)
		}
	}
	if len(agent) == 0 {
		return render(c.entries)
	}
	return render(agent)
}

// Text joins the agent-authored entries into one response.
func (c *Collector) Text() string {
	var parts []string
	for _, m := range c.entries {
		if m.IsAgent() {
			parts = append(parts, strings.TrimSpace(m.Text))
		}
	}
	return strings.Join(parts, "\n")
}

func render(msgs []domain.Message) []string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", role, m.Text))
	}
	return lines
}
