package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/client"
	"github.com/vinayprograms/orchestrator/internal/render"
)

// Run lists registered agents.
func (c *AgentsCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cards, err := client.New(c.URL, 0).Agents(ctx)
	if err != nil {
		return err
	}
	return writeAgents(os.Stdout, cards, c.Format)
}

func writeAgents(w io.Writer, cards map[string]agentcard.Card, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	case "yaml":
		// Schemas are raw JSON; go through a generic value so they render as YAML.
		data, err := json.Marshal(cards)
		if err != nil {
			return err
		}
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		render.Agents(w, cards)
		return nil
	}
}

// Run probes liveness.
func (c *HealthCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	status, err := client.New(c.URL, 0).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}
