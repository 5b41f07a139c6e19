package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docqa/internal/app"
	"docqa/internal/config"
	"docqa/internal/source"
	"docqa/internal/tui"
)

const usage = `Usage: docqa [--config=config.yaml] [command]

Commands:
  (none)              open the interactive terminal UI
  build [file ...]    build and persist the index from the configured directory or the given files
  ask "question"      answer one question from the persisted index
  stats               describe the persisted index
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/docqa/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "docqa:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, args []string) error {
	cmd := ""
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var opts []app.Option
	switch cmd {
	case "":
		// Log lines would corrupt the terminal UI.
		if cfg.Log.File == "" {
			cfg.Log.File = filepath.Join(filepath.Dir(cfg.Index.Path), "docqa.log")
		}
	case "build":
		if len(args) > 0 {
			opts = append(opts, app.WithSource(source.NewFiles(args...)))
		}
	case "ask":
		if len(args) == 0 {
			return errors.New(`ask needs a question, e.g. docqa ask "what is in the report?"`)
		}
	case "stats":
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Log.Warn("shutdown incomplete", "error", err)
		}
	}()

	if cmd != "build" {
		if err := a.LoadPersisted(ctx); err != nil {
			if cmd != "" {
				return err
			}
			a.Log.Warn("persisted index unusable, rebuild with ctrl+r", "error", err)
		}
	}

	switch cmd {
	case "build":
		stats, err := a.Service.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d document(s), %d chunk(s), dimension %d -> %s (%s)\n",
			stats.Documents, stats.Chunks, stats.Dimension, stats.Path, stats.Duration)
		return nil
	case "ask":
		ans, err := a.Service.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(ans.Text)
		if len(ans.Sources) > 0 {
			fmt.Println("\nSources:")
		}
		for i, r := range ans.Sources {
			fmt.Printf("  %d. %s  score=%.3f\n", i+1, r.Chunk.ID(), r.Score)
		}
		return nil
	case "stats":
		st := a.Service.Stats()
		if !st.Loaded {
			fmt.Printf("no index at %s\n", cfg.Index.Path)
			return nil
		}
		fmt.Printf("%s: %d chunk(s), dimension %d, metric %s\n", cfg.Index.Path, st.Entries, st.Dimension, st.Metric)
		return nil
	default:
		_, err := tea.NewProgram(tui.New(ctx, a.Service), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
}
