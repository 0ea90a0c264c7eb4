// Command ember runs the execution engine daemon.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/raulk/clock"
	"github.com/spf13/cobra"

	"github.com/emberchain/ember/pkg/api"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/contract"
	"github.com/emberchain/ember/pkg/contract/platform"
	"github.com/emberchain/ember/pkg/contract/wallet"
	"github.com/emberchain/ember/pkg/crypto"
	"github.com/emberchain/ember/pkg/node"
	"github.com/emberchain/ember/pkg/repo"
)

var log = logging.Logger("main")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var repoPath string

	root := &cobra.Command{
		Use:   "ember",
		Short: "actor-style ledger execution engine",
	}
	root.PersistentFlags().StringVar(&repoPath, "repo", "~/.ember", "repo directory")

	root.AddCommand(newInitCmd(&repoPath))
	root.AddCommand(newDaemonCmd(&repoPath))
	return root
}

func resolveRepoPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "cannot resolve home directory")
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func newInitCmd(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create a repo with the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveRepoPath(*repoPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %s", path)
			}
			cfgPath := filepath.Join(path, "config.toml")
			if _, err := os.Stat(cfgPath); err == nil {
				return errors.Errorf("repo already initialized at %s", path)
			}
			cfg := config.NewDefaultConfig()
			cfg.Repo.Path = path
			return cfg.WriteFile(cfgPath)
		},
	}
}

func newDaemonCmd(repoPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "run the engine and serve its JSON-RPC API",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveRepoPath(*repoPath)
			if err != nil {
				return err
			}

			cfg := config.NewDefaultConfig()
			cfgPath := filepath.Join(path, "config.toml")
			if _, err := os.Stat(cfgPath); err == nil {
				if cfg, err = config.ReadFile(cfgPath); err != nil {
					return err
				}
			}

			r, err := repo.OpenFS(path)
			if err != nil {
				return err
			}
			defer func() {
				if err := r.Close(); err != nil {
					log.Errorw("closing repo", "err", err)
				}
			}()

			registry := contract.NewRegistry()
			walletCode := registry.Register([]byte("builtin wallet v1"), wallet.Wallet{})
			platformCode := registry.Register([]byte("builtin platform v1"), platform.Platform{})
			log.Infow("builtin code registered", "wallet", walletCode, "platform", platformCode)

			engine, err := node.New(r, cfg, registry, crypto.NewEd25519Verifier(), clock.New())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine.Start(ctx)
			defer engine.Close()

			handler, err := api.NewHandler(engine)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:    cfg.API.ListenAddress,
				Handler: handler,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Infow("daemon up", "listen", cfg.API.ListenAddress, "repo", path)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
