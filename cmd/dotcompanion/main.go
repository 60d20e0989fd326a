package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/companion"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotcompanion"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("DOTCOMPANION_CONFIG")); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotcompanion", "config.json")
}

// runtimeOptions are the persistent flags shared by every subcommand.
type runtimeOptions struct {
	configPath string
	userID     string
	debug      bool
}

func (o *runtimeOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger.SetOutput(os.Stderr, cfg.Log.JSON)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if o.debug {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

// openEngine builds the engine. With requireProvider unset a missing API key
// is tolerated and replies fall back.
func (o *runtimeOptions) openEngine(requireProvider bool) (*companion.Engine, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var provider providers.LLMProvider
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		if requireProvider {
			return nil, nil, fmt.Errorf("configuration error: %w", err)
		}
		logger.WarnCF("cli", "Completion provider not configured", map[string]interface{}{"error": err.Error()})
	} else {
		provider, err = providers.CreateProvider(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create provider: %w", err)
		}
	}

	engine, err := companion.NewEngine(cfg, provider)
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}

func (o *runtimeOptions) user(e *companion.Engine) string {
	if id := strings.TrimSpace(o.userID); id != "" {
		return id
	}
	return e.DefaultUserID()
}

func withEngine(o *runtimeOptions, requireProvider bool, fn func(ctx context.Context, e *companion.Engine) error) error {
	engine, _, err := o.openEngine(requireProvider)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(context.Background(), engine)
}
