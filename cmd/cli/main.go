// Command cli is an interactive terminal front end for the guiding agent.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	go run ./cmd/cli
//
// Type a how-to instruction and press Enter. The agent turns it into browser
// steps, writes a Playwright script for them and runs it against the browser
// at BROWSER_CDP_ENDPOINT.
//
// Commands:
//
//	/exit - Exit the program
//	Esc   - Cancel the running task
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mariozechner/guiding-agent/pkg/config"
	"github.com/mariozechner/guiding-agent/pkg/guide"
	"github.com/mariozechner/guiding-agent/pkg/logging"
	"github.com/mariozechner/guiding-agent/pkg/pipeline"
)

const defaultLogFile = "agent.log"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs always go to a file.
	if cfg.Logging.File == "" {
		cfg.Logging.File = defaultLogFile
	}
	closer, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan pipeline.Event, 128)
	g, err := guide.New(ctx, cfg, slog.Default(), guide.WithObserver(pipeline.ObserverFunc(func(e pipeline.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("Dropping UI event", "type", e.Type)
		}
	})))
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer g.Close()

	p := tea.NewProgram(newModel(ctx, g, g.Pipeline.Stages(), events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
