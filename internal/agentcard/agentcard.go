// Package agentcard defines the self-describing card each agent serves at
// its well-known path.
package agentcard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// WellKnownPath is where agents publish their card.
const WellKnownPath = "/.well-known/agent.json"

// ErrInvalidCard is returned for cards missing required identity.
var ErrInvalidCard = errors.New("invalid agent card")

// Capability is one callable operation advertised by an agent.
type Capability struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// Card describes an agent. URL is the agent's advertised address and is
// informational only.
type Card struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	URL          string       `json:"url,omitempty"`
	Capabilities []Capability `json:"capabilities"`
}

// Decode reads a card from r and validates it.
func Decode(r io.Reader) (*Card, error) {
	var c Card
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the card carries a name and uniquely named capabilities.
func (c *Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCard)
	}
	seen := make(map[string]bool, len(c.Capabilities))
	for i, cp := range c.Capabilities {
		if cp.Name == "" {
			return fmt.Errorf("%w: capability %d has no name", ErrInvalidCard, i)
		}
		if seen[cp.Name] {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidCard, cp.Name)
		}
		seen[cp.Name] = true
	}
	return nil
}

// Capability returns the named capability.
func (c *Card) Capability(name string) (Capability, bool) {
	for _, cp := range c.Capabilities {
		if cp.Name == name {
			return cp, true
		}
	}
	return Capability{}, false
}

// CapabilityNames lists capability names in card order.
func (c *Card) CapabilityNames() []string {
	names := make([]string, len(c.Capabilities))
	for i, cp := range c.Capabilities {
		names[i] = cp.Name
	}
	return names
}

// URL returns the card location for an agent base address.
func URL(base string) string {
	return strings.TrimRight(base, "/") + WellKnownPath
}

// Endpoint returns the invocation address of capability on base.
func Endpoint(base, capability string) string {
	return strings.TrimRight(base, "/") + "/" + capability
}
