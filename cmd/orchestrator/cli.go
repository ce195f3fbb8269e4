// Package main defines the CLI structure using kong.
package main

import (
	"time"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Register agents and serve the orchestrator API"`
	Create  CreateCmd  `cmd:"" help:"Create a course on a running orchestrator"`
	Agents  AgentsCmd  `cmd:"" help:"List agents registered with a running orchestrator"`
	Health  HealthCmd  `cmd:"" help:"Check that a running orchestrator is alive"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// ServeCmd starts the orchestrator server.
type ServeCmd struct {
	Config   string `help:"Config file path (default: ./orchestrator.toml if present)"`
	Addr     string `help:"Listen address (overrides config)"`
	LogLevel string `help:"Log level: debug, info, warn, error (overrides config)"`
}

// ClientFlags are shared by commands that talk to a running orchestrator.
type ClientFlags struct {
	URL     string        `default:"http://localhost:8000" env:"ORCHESTRATOR_URL" help:"Orchestrator base URL"`
	Timeout time.Duration `default:"10m" help:"Request timeout"`
}

// CreateCmd requests a course.
type CreateCmd struct {
	ClientFlags `embed:""`
	Topic       string `short:"t" required:"" help:"Course topic"`
	Questions   int    `short:"n" help:"Number of questions (0 = server default)"`
	Attempts    int    `short:"k" help:"Maximum answer attempts (0 = server default)"`
	JSON        bool   `help:"Print the raw JSON report"`
}

// AgentsCmd lists registered agents.
type AgentsCmd struct {
	ClientFlags `embed:""`
	Format      string `enum:"text,json,yaml" default:"text" help:"Output format: text, json, yaml"`
}

// HealthCmd probes liveness.
type HealthCmd struct {
	ClientFlags `embed:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
