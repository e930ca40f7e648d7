// Package daemon runs the long-lived preview process, optionally detached
// from the terminal, and stops it on SIGINT or SIGTERM.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mahyarmirrashed/assetpipe/internal/config"
	"github.com/rotisserie/eris"
	"github.com/sevlyar/go-daemon"
	log "github.com/sirupsen/logrus"
)

// Files written next to the project when running detached.
const (
	PidFileName = "assetpipe.pid"
	LogFileName = "assetpipe.log"
)

// Func is the body of the process.
type Func func(ctx context.Context) error

// Context describes the detached process for the project at root.
func Context(root string) *daemon.Context {
	return &daemon.Context{
		PidFileName: filepath.Join(root, PidFileName),
		PidFilePerm: 0644,
		LogFileName: filepath.Join(root, LogFileName),
		LogFilePerm: 0640,
		WorkDir:     "./",
		Umask:       027,
		Args:        append([]string{"[assetpipe-daemon]"}, os.Args[1:]...),
	}
}

// Run runs fn until it returns or a termination signal arrives. With
// cfg.Daemonize the process first forks into the background; the parent then
// returns nil at once.
func Run(ctx context.Context, cfg *config.Config, fn Func) error {
	if cfg.Daemonize {
		dctx := Context(cfg.Root)
		child, err := dctx.Reborn()
		if err != nil {
			return eris.Wrap(err, "unable to run in the background")
		}
		if child != nil {
			log.Infof("Started in the background (pid %d)", child.Pid)
			return nil
		}
		defer dctx.Release()
		log.Info("Daemon started")
	} else {
		log.Debug("Running in foreground (not daemonized)")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		select {
		case sig := <-signals:
			log.Infof("Received signal: %s, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := fn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Cleanup complete. Exiting.")
	return nil
}
