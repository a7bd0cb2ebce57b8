// ABOUTME: In-process chat REPL and tool listing subcommands.
// ABOUTME: Runs the agent loop directly against locally mounted packs.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/agent"
	"github.com/halcyard/toolgate/internal/config"
	"github.com/halcyard/toolgate/internal/session"
)

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	defer a.Close()

	adapter, err := newAdapter(cfg.Model)
	if err != nil {
		return err
	}

	loop := agent.New(agent.Config{
		Store:         a.Store,
		Dispatcher:    a.Router,
		Adapter:       adapter,
		MaxToolCycles: cfg.Loop.MaxToolCycles,
		Logger:        logger,
	})

	conversationID := uuid.New().String()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen, color.Bold)

	cyan.Print(banner)
	gray.Printf("    conversation: %s\n", conversationID)
	gray.Printf("    tools: %d mounted\n", len(a.Router.Capabilities()))
	gray.Println("    type 'exit' to quit, 'new' to start a fresh conversation")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	for {
		green.Print("you> ")
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return endConversation(ctx, a.Store, conversationID)
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "exit", "quit":
			return endConversation(ctx, a.Store, conversationID)
		case "new":
			if err := endConversation(ctx, a.Store, conversationID); err != nil {
				logger.Warn("ending conversation", "error", err)
			}
			conversationID = uuid.New().String()
			gray.Printf("    conversation: %s\n", conversationID)
			continue
		}

		reply, err := loop.HandleUserMessage(ctx, conversationID, text)
		if err != nil {
			return fmt.Errorf("handling message: %w", err)
		}

		cyan.Print("toolgate> ")
		fmt.Println(reply)
	}
}

// endConversation tolerates conversations with no recorded turns: the
// store creates conversations lazily on first append.
func endConversation(ctx context.Context, store *session.SQLiteStore, id string) error {
	if err := store.EndConversation(ctx, id); err != nil && !errors.Is(err, session.ErrUnknownConversation) {
		return err
	}
	return nil
}

func runTools(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(config.LoggingConfig{Level: "error", Format: cfg.Logging.Format})

	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	defer a.Close()

	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)

	for _, c := range a.Router.Capabilities() {
		bold.Print(c.QualifiedName)
		if !c.Idempotent {
			yellow.Print("  [not retry-safe]")
		}
		fmt.Println()
		if c.Description != "" {
			fmt.Printf("    %s\n", c.Description)
		}
	}
	return nil
}
