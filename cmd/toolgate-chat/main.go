// ABOUTME: Remote chat client for a running toolgate instance
// ABOUTME: Runs the agent loop locally and dispatches tool calls over HTTP

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/halcyard/toolgate/internal/agent"
	"github.com/halcyard/toolgate/internal/client"
	"github.com/halcyard/toolgate/internal/session"
)

// chatConfig is the client's own configuration, separate from the server's.
type chatConfig struct {
	GatewayURL   string      `toml:"gateway_url"`
	DatabasePath string      `toml:"database_path"`
	Model        modelConfig `toml:"model"`
	Loop         loopConfig  `toml:"loop"`
}

type modelConfig struct {
	Provider     string `toml:"provider"`
	APIKey       string `toml:"api_key"`
	Model        string `toml:"model"`
	BaseURL      string `toml:"base_url"`
	SystemPrompt string `toml:"system_prompt"`
}

type loopConfig struct {
	MaxToolCycles int `toml:"max_tool_cycles"`
}

func defaultChatConfig() chatConfig {
	return chatConfig{
		GatewayURL:   "http://localhost:8787",
		DatabasePath: "toolgate-chat.db",
		Model:        modelConfig{Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
		Loop:         loopConfig{MaxToolCycles: 10},
	}
}

// getConfigPath returns the chat client config path.
// Priority: TOOLGATE_CHAT_CONFIG env var > XDG_CONFIG_HOME/toolgate/chat.toml > ~/.config/toolgate/chat.toml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "chat.toml")
}

func loadConfig(path string) (chatConfig, error) {
	cfg := defaultChatConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	gw := client.New(cfg.GatewayURL, logger)

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if !gw.Healthy(pingCtx) {
		return fmt.Errorf("gateway at %s is not reachable", cfg.GatewayURL)
	}

	store, err := session.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	adapter, err := newAdapter(cfg.Model)
	if err != nil {
		return err
	}

	loop := agent.New(agent.Config{
		Store:         store,
		Dispatcher:    gw,
		Adapter:       adapter,
		MaxToolCycles: cfg.Loop.MaxToolCycles,
		Logger:        logger,
	})

	conversationID := uuid.New().String()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen, color.Bold)

	gray.Printf("connected to %s (%d tools)\n", cfg.GatewayURL, len(gw.Capabilities()))
	gray.Printf("conversation: %s\n\n", conversationID)

	reader := bufio.NewReader(os.Stdin)
	for {
		green.Print("you> ")
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return endConversation(ctx, store, conversationID)
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		text := strings.TrimSpace(line)
		switch text {
		case "":
			continue
		case "exit", "quit":
			return endConversation(ctx, store, conversationID)
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

func newAdapter(cfg modelConfig) (agent.ModelAdapter, error) {
	switch cfg.Provider {
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model.api_key is required for the anthropic provider")
		}
		return agent.NewAnthropicAdapter(cfg.APIKey, cfg.Model, cfg.SystemPrompt), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model.api_key is required for the openai provider")
		}
		return agent.NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.SystemPrompt), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
