// notate-engine - chat request orchestration for local and cloud LLMs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/digo9606/Notate-sub000/chat"
	"github.com/digo9606/Notate-sub000/config"
	"github.com/digo9606/Notate-sub000/engine"
	"github.com/digo9606/Notate-sub000/internal/agent"
	"github.com/digo9606/Notate-sub000/internal/localauth"
	"github.com/digo9606/Notate-sub000/internal/reasoning"
	"github.com/digo9606/Notate-sub000/provider"
	"github.com/digo9606/Notate-sub000/retrieval"
	"github.com/digo9606/Notate-sub000/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.toml (optional)")
		dbPath     = flag.String("db", defaultDBPath(), "path to the sqlite database")
		userName   = flag.String("user", "local", "user account name")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("notate-engine %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*configPath, *dbPath, *userName, logger); err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
}

func run(configPath, dbPath, userName string, logger *logrus.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	issuer, err := localauth.NewIssuer()
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	st, err := store.Open(dbPath, issuer)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	userID, err := st.CreateUser(userName)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	registry := provider.NewDefaultRegistry(cfg, st, logger)
	retriever := retrieval.NewHTTPClient(cfg.Retrieval)
	webAgent := agent.New(agent.NewFetcher(cfg.Web), logger)

	console := &consoleEvents{out: os.Stdout}
	eng := engine.New(cfg, registry, st, retriever, webAgent, console, logger)

	return repl(eng, userID, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "notate.db"
	}
	return filepath.Join(home, ".config", "notate", "notate.db")
}

// repl reads one user turn per line and streams the reply. Ctrl+C cancels
// the in-flight request instead of exiting; a second Ctrl+C at the prompt
// exits.
func repl(eng *engine.Engine, userID int64, logger *logrus.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var (
		history        []chat.Message
		conversationID int64
		title          string
	)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		history = append(history, chat.NewUserMessage(line))
		req := chat.Request{
			RequestID:      uuid.NewString(),
			UserID:         userID,
			ConversationID: conversationID,
			Messages:       history,
			Title:          title,
		}

		done := make(chan struct{})
		go func() {
			select {
			case <-sigCh:
				eng.Cancel(req.RequestID)
			case <-done:
			}
		}()

		resp, err := eng.Submit(context.Background(), req)
		close(done)
		if err != nil {
			logger.WithError(err).Error("request failed")
			history = history[:len(history)-1]
			continue
		}

		fmt.Println()
		if resp.Aborted {
			fmt.Println("[cancelled]")
		}
		conversationID = resp.ConversationID
		title = resp.Title
		history = resp.Messages
	}
}

// consoleEvents writes the stream directly to the terminal. Reasoning
// pre-pass chunks carry their prefix already; native reasoning deltas are
// dimmed behind a marker so they read apart from the answer.
type consoleEvents struct {
	out *os.File
}

func (c *consoleEvents) OnMessageChunk(_, text string) {
	fmt.Fprint(c.out, strings.TrimPrefix(text, reasoning.ChunkPrefix))
}

func (c *consoleEvents) OnReasoningChunk(_, text string) {
	fmt.Fprint(c.out, text)
}

func (c *consoleEvents) OnReasoningEnd(string) {
	fmt.Fprintln(c.out, "\n---")
}

func (c *consoleEvents) OnStreamEnd(string) {
	fmt.Fprintln(c.out)
}