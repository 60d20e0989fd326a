package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/companion"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool
	opts := &runtimeOptions{}

	root := &cobra.Command{
		Use:   appName,
		Short: "A companion that grows up by talking with you",
		Long: strings.TrimSpace(`dotcompanion is a conversational companion that learns your words,
remembers what you share and keeps an evolving reflection about you.

Chat locally, serve the HTTP API and Discord gateway, or inspect and reset
what the companion has learned.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default ~/.dotcompanion/config.json)")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", "", "Identity slot to act on (default companion.user_id)")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newOnboardCommand(opts))
	root.AddCommand(newChatCommand(opts))
	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newStatsCommand(opts))
	root.AddCommand(newFactsCommand(opts))
	root.AddCommand(newMemoriesCommand(opts))
	root.AddCommand(newSummaryCommand(opts))
	root.AddCommand(newSwitchUserCommand(opts))
	root.AddCommand(newResetCommand(opts))
	root.AddCommand(newStatusCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand(opts *runtimeOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default config file",
		Example: "  dotcompanion onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = defaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is ready!\n\n", appName)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Add your API key to", path)
			fmt.Fprintln(out, "  2. Chat locally: dotcompanion chat")
			fmt.Fprintln(out, "  3. Serve the API: dotcompanion serve")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func newChatCommand(opts *runtimeOptions) *cobra.Command {
	var (
		message string
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the companion in the terminal",
		Long:  "Run an interactive chat session, or send one message with --message.",
		Example: strings.Join([]string{
			"  dotcompanion chat",
			"  dotcompanion chat --mode playful",
			"  dotcompanion chat -m \"I adopted a cat named Miso\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "" {
				if _, err := companion.ParsePersonalityMode(mode); err != nil {
					return err
				}
			}
			return withEngine(opts, true, func(ctx context.Context, e *companion.Engine) error {
				session := &chatSession{engine: e, userID: opts.user(e), mode: mode, out: cmd.OutOrStdout()}
				if strings.TrimSpace(message) != "" {
					return session.send(ctx, message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s interactive mode (Ctrl+C to exit, /help for commands)\n\n", appName)
				session.interactive(ctx)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVar(&mode, "mode", "", "Personality mode ("+strings.Join(companion.PersonalityModes(), ", ")+")")
	return cmd
}

func newServeCommand(opts *runtimeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API, Discord gateway and reflection digest",
		Long:    "Start the HTTP API. When channels.discord.token is set the Discord gateway starts too, and reflection.digest_enabled schedules the reflection digest.",
		Example: "  dotcompanion serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func newStatsCommand(opts *runtimeOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vocabulary size, stage and counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				st, err := e.Stats(ctx, opts.user(e))
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				printStats(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newFactsCommand(opts *runtimeOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List what the companion knows about you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				facts, err := e.Facts(ctx, opts.user(e))
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), facts)
				}
				out := cmd.OutOrStdout()
				if len(facts) == 0 {
					fmt.Fprintln(out, "No facts yet.")
				}
				for _, f := range facts {
					fmt.Fprintf(out, "%s  %-16s %s\n", f.CreatedAt.Format("2006-01-02"), f.Category, f.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newMemoriesCommand(opts *runtimeOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List stored memories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				recs, err := e.Memories(ctx, opts.user(e))
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No memories yet.")
				}
				for _, m := range recs {
					fmt.Fprintf(out, "%s  [%s/%s] %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.Category, m.Importance, m.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newSummaryCommand(opts *runtimeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "summary",
		Aliases: []string{"weekly-summary"},
		Short:   "Show the companion's reflection about you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				summary, err := e.WeeklySummary(ctx, opts.user(e))
				if err != nil {
					return err
				}
				if summary == "" {
					summary = "Nothing to reflect on yet."
				}
				fmt.Fprintln(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}
}

func newSwitchUserCommand(opts *runtimeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "switch-user <name>",
		Short:   "Forget the current person and start over with a new name",
		Long:    "Clear facts, memories and transcript for the identity slot and seed it with the new name. Vocabulary is kept.",
		Example: "  dotcompanion switch-user Alex",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				if err := e.SwitchUser(ctx, opts.user(e), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Now talking with %s.\n", strings.TrimSpace(name))
				return nil
			})
		},
	}
}

func newResetCommand(opts *runtimeOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase everything the companion has learned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "This erases vocabulary, facts, memories and transcript. Continue? (y/n): ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return withEngine(opts, false, func(ctx context.Context, e *companion.Engine) error {
				if err := e.ResetCompanion(ctx, opts.user(e)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Companion reset. Back to Infant.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newStatusCommand(opts *runtimeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and provider readiness",
		Example: "  dotcompanion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), opts, cfg)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotcompanion version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func printStats(out io.Writer, st companion.Stats) {
	fmt.Fprintf(out, "Stage:       %s\n", st.Stage)
	if st.NextStageThreshold != nil {
		fmt.Fprintf(out, "Vocabulary:  %d (next stage at %d)\n", st.VocabularyCount, *st.NextStageThreshold)
	} else {
		fmt.Fprintf(out, "Vocabulary:  %d\n", st.VocabularyCount)
	}
	fmt.Fprintf(out, "Facts:       %d\n", st.FactCount)
	fmt.Fprintf(out, "Memories:    %d\n", st.MemoryCount)
}

func printStatus(out io.Writer, opts *runtimeOptions, cfg *config.Config) {
	path := opts.configPath
	if path == "" {
		path = defaultConfigPath()
	}
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n\n", formatVersion())
	fmt.Fprintln(out, "Config:", path, mark(exists(path)))
	fmt.Fprintln(out, "Data dir:", cfg.DataPath(), mark(exists(cfg.DataPath())))
	fmt.Fprintln(out, "Database:", cfg.DatabasePath(), mark(exists(cfg.DatabasePath())))

	name, configured, mode, err := providers.ProviderCredentialStatus(cfg)
	if err != nil {
		fmt.Fprintf(out, "Provider: %s (%v)\n", name, err)
	} else {
		fmt.Fprintf(out, "Provider: %s %s (%s)\n", name, mark(configured), mode)
	}
	fmt.Fprintln(out, "Model:", cfg.Companion.Model)
	fmt.Fprintln(out, "Reflection mode:", cfg.Reflection.Mode)
	fmt.Fprintln(out, "Discord token:", mark(strings.TrimSpace(cfg.Channels.Discord.Token) != ""))
	fmt.Fprintf(out, "API: http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
