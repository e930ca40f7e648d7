package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mahyarmirrashed/assetpipe/internal/build"
	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/mahyarmirrashed/assetpipe/internal/daemon"
	"github.com/mahyarmirrashed/assetpipe/internal/globset"
	"github.com/mahyarmirrashed/assetpipe/internal/notify"
	"github.com/mahyarmirrashed/assetpipe/internal/server"
	"github.com/mahyarmirrashed/assetpipe/internal/style"
	"github.com/mahyarmirrashed/assetpipe/internal/task"
	"github.com/mahyarmirrashed/assetpipe/internal/watch"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// Set at build time: go build -ldflags "-X main.version=1.2.3"
var version = "dev"

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	})
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "assetpipe",
		Usage:   "Front-end asset pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Usage:   "build mode: development or production",
				Sources: cli.EnvVars("ASSETPIPE_MODE"),
				Value:   string(config.ModeDevelopment),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file, relative to the root",
				Sources: cli.EnvVars("ASSETPIPE_CONFIG"),
				Value:   config.DefaultConfigFilename,
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "project root",
				Sources: cli.EnvVars("ASSETPIPE_ROOT"),
				Value:   ".",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "logging level: debug, info, warn, error",
				Sources: cli.EnvVars("ASSETPIPE_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:    "notifications",
				Usage:   "send desktop notifications on build errors",
				Sources: cli.EnvVars("ASSETPIPE_NOTIFICATIONS"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "preview server port",
				Sources: cli.EnvVars("ASSETPIPE_PORT"),
			},
			&cli.BoolFlag{
				Name:    "daemonize",
				Usage:   "run the preview server in the background",
				Sources: cli.EnvVars("ASSETPIPE_DAEMONIZE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return daemon.Run(ctx, cfg, func(ctx context.Context) error {
				return serveAndWatch(ctx, cfg)
			})
		},
		Commands: []*cli.Command{
			taskCommand(build.TaskBuild, "clean, then copy statics, render templates and compile styles"),
			taskCommand(build.TaskClean, "remove the output directory"),
			taskCommand(build.TaskCopy, "copy static files"),
			taskCommand(build.TaskTemplates, "render templates"),
			taskCommand(build.TaskStyles, "compile stylesheets"),
			taskCommand(build.TaskScripts, "bundle scripts"),
			{
				Name:  "serve",
				Usage: "serve the output directory without watching",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := setup(cmd)
					if err != nil {
						return err
					}
					return daemon.Run(ctx, cfg, func(ctx context.Context) error {
						b, closeFn, err := newBuilder(cfg)
						if err != nil {
							return err
						}
						defer closeFn()

						srv := server.New(cfg, b.Templates())
						if _, err := srv.Start(ctx); err != nil {
							return err
						}
						defer srv.Close()
						<-ctx.Done()
						return nil
					})
				},
			},
		},
	}
}

func taskCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			b, closeFn, err := newBuilder(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			return b.Tasks().Run(ctx, name)
		},
	}
}

// setup resolves the configuration: defaults, then the config file when it
// exists, then flags.
func setup(cmd *cli.Command) (*config.Config, error) {
	mode := config.Mode(cmd.String("mode"))
	root := cmd.String("root")

	configPath := cmd.String("config")
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(root, configPath)
	}

	var cfg *config.Config
	// Only load config if the file exists
	if _, err := os.Stat(configPath); err == nil {
		cfg, err = config.LoadConfig(configPath, mode)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(mode)
	}
	cfg.Root = root

	// Override config with flags if set
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("notifications") {
		cfg.Notifications = cmd.Bool("notifications")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("daemonize") {
		cfg.Daemonize = cmd.Bool("daemonize")
	}

	switch cfg.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if !cfg.Mode.Known() {
		log.Debugf("Unrecognized mode %q, using %s behavior", cfg.Mode, config.ModeDevelopment)
	}
	log.Debugf("Mode %s, root %s", cfg.Mode, cfg.Root)
	return cfg, nil
}

func newBuilder(cfg *config.Config) (*build.Builder, func(), error) {
	compiler := style.NewDartSass(cfg.SassBinary)
	closeFn := func() {
		if err := compiler.Close(); err != nil {
			log.Warnf("Error stopping sass: %v", err)
		}
	}

	b, err := build.New(cfg, notify.Desktop{Enabled: cfg.Notifications}, compiler)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return b, closeFn, nil
}

// serveAndWatch starts the preview server and reruns each asset group's task,
// followed by a reload, whenever one of its sources changes.
func serveAndWatch(ctx context.Context, cfg *config.Config) error {
	b, closeFn, err := newBuilder(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := server.New(cfg, b.Templates())
	if _, err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Close()

	rules, err := watchRules(cfg, b.Tasks(), task.New("reload", srv.Reload))
	if err != nil {
		return err
	}
	return watch.New(cfg.Root, watch.DefaultDebounce, rules...).Watch(ctx, cfg.Path(cfg.Base))
}

func watchRules(cfg *config.Config, tasks task.List, reload *task.Task) ([]watch.Rule, error) {
	groups := []struct {
		task  string
		globs []string
	}{
		{build.TaskTemplates, cfg.Templates.Src},
		{build.TaskStyles, cfg.Styles.Src},
		{build.TaskCopy, cfg.Statics.Globs()},
		{build.TaskScripts, cfg.Scripts.Src},
	}

	rules := make([]watch.Rule, 0, len(groups))
	for _, g := range groups {
		set, err := globset.New(g.globs)
		if err != nil {
			return nil, err
		}
		rules = append(rules, watch.Rule{
			Name:  g.task,
			Globs: set,
			Task:  task.Series(g.task+"+reload", tasks[g.task], reload),
		})
	}
	return rules, nil
}
