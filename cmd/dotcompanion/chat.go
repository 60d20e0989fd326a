package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/dotcompanion/pkg/companion"
)

// chatSession is one terminal conversation.
type chatSession struct {
	engine *companion.Engine
	userID string
	mode   string
	out    io.Writer
}

func (s *chatSession) send(ctx context.Context, message string) error {
	resp, err := s.engine.Chat(ctx, companion.ChatRequest{
		UserID:          s.userID,
		Message:         message,
		PersonalityMode: s.mode,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "\n%s: %s\n", appName, resp.Reply)
	if resp.StageChanged {
		fmt.Fprintf(s.out, "  (grew into the %s stage)\n", resp.Stage)
	}
	if len(resp.NewWordsThisTurn) > 0 {
		fmt.Fprintf(s.out, "  new words: %s\n", strings.Join(resp.NewWordsThisTurn, ", "))
	}
	return nil
}

// handle runs one input line. done reports that the session should end.
func (s *chatSession) handle(ctx context.Context, input string) (done bool) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return false
	case input == "exit" || input == "quit" || input == "/exit":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case strings.HasPrefix(input, "/"):
		s.command(ctx, input)
		return false
	}
	if err := s.send(ctx, input); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	fmt.Fprintln(s.out)
	return false
}

func (s *chatSession) command(ctx context.Context, input string) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "help":
		fmt.Fprintln(s.out, "/mode <name>   switch personality ("+strings.Join(companion.PersonalityModes(), ", ")+")")
		fmt.Fprintln(s.out, "/stats         vocabulary and stage")
		fmt.Fprintln(s.out, "/facts         what I know about you")
		fmt.Fprintln(s.out, "/summary       my reflection about you")
		fmt.Fprintln(s.out, "/exit          leave")
	case "mode":
		mode, err := companion.ParsePersonalityMode(arg)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		s.mode = string(mode)
		fmt.Fprintf(s.out, "Personality set to %s.\n", mode)
	case "stats":
		st, err := s.engine.Stats(ctx, s.userID)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		printStats(s.out, st)
	case "facts":
		facts, err := s.engine.Facts(ctx, s.userID)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		for _, f := range facts {
			fmt.Fprintln(s.out, "-", f.Text)
		}
	case "summary":
		summary, err := s.engine.WeeklySummary(ctx, s.userID)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintln(s.out, summary)
	default:
		fmt.Fprintf(s.out, "Unknown command /%s (try /help)\n", name)
	}
}

func (s *chatSession) interactive(ctx context.Context) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".dotcompanion_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(s.out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(s.out, "Falling back to simple input mode...")
		s.simpleInteractive(ctx, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			continue
		}
		if s.handle(ctx, line) {
			return
		}
	}
}

func (s *chatSession) simpleInteractive(ctx context.Context, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(s.out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(s.out, "Error reading input: %v\n", err)
			return
		}
		if s.handle(ctx, line) {
			return
		}
	}
}
