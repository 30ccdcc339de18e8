// Command hostd is the host-side daemon: it receives GitHub Actions
// workflow_job webhooks (or runs a local simulation), launches one enclave
// per job through the configured backend, and publishes each job's
// attestation to the transparency log.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/linsm/attestable-builds/internal/backend"
	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/config"
	"github.com/linsm/attestable-builds/internal/logging"
	"github.com/linsm/attestable-builds/internal/logpublish"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/webhook"
)

func main() {
	root := &cobra.Command{
		Use:   "hostd",
		Short: "Run the attestable-builds host daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("hostd: exiting")
	}
}

func vsockDial(ctx context.Context, addr common.VsockAddr) (net.Conn, error) {
	return vsock.Dial(addr.CID, addr.Port, nil)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewFromEnv("hostd")
	log.WithField("mode", cfg.Mode).Info("hostd: starting")

	runnerArgs := runnerarg.RunnerArgs{
		GitHubRepository: cfg.GitHubRepository,
		ReadToken:        cfg.GitHubPATToken,
		RunnerVersion:    cfg.RunnerVersion,
		RunnerUser:       cfg.RunnerUser,
		RunnerUID:        cfg.RunnerUID,
		RunnerGID:        cfg.RunnerGID,
	}

	if runnerArgs.GitHubRepository != "" && cfg.GitHubPATToken != "" {
		token, err := runnerarg.FetchRegistrationToken(ctx, http.DefaultClient, runnerArgs.GitHubRepository, cfg.GitHubPATToken)
		if err != nil {
			return err
		}
		runnerArgs.RegistrationToken = token
	}

	commands := make(chan backend.Command, backend.CommandBufferSize)
	publishCh := make(chan logpublish.Entry, logpublish.EntryBufferSize)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return logpublish.Run(gctx, http.DefaultClient, logpublish.Config{
			BaseURL:  cfg.TransparencyLogBaseURL,
			Username: cfg.TransparencyLogUsername,
			Password: cfg.TransparencyLogPassword,
			LogID:    cfg.TransparencyLogID,
			Simulate: cfg.SimulateLogPublishing,
		}, publishCh, log)
	})

	group.Go(func() error {
		return runBackend(gctx, cfg, runnerArgs, commands, publishCh, log)
	})

	if cfg.SimulateWebhookEvent {
		group.Go(func() error {
			webhook.Simulate(gctx, commands, cfg.BigJob, log)
			return nil
		})
	} else {
		server := &webhook.Server{Commands: commands, Secret: []byte(cfg.WebhookSecret), Log: log}
		httpServer := &http.Server{Addr: cfg.WebhookListenAddr, Handler: server.Router()}
		group.Go(func() error {
			<-gctx.Done()
			return httpServer.Close()
		})
		group.Go(func() error {
			log.WithField("addr", cfg.WebhookListenAddr).Info("hostd: listening for webhooks")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	return group.Wait()
}

func runBackend(ctx context.Context, cfg config.HostConfig, runnerArgs runnerarg.RunnerArgs, commands <-chan backend.Command, publishCh chan<- logpublish.Entry, log *logrus.Entry) error {
	startMode, err := runnerarg.ParseStartMode(cfg.RunnerStartMode)
	if err != nil {
		return err
	}

	var svc backend.Service
	switch cfg.Mode {
	case "nitro":
		size := backend.SizeSmall
		if cfg.BigJob {
			size = backend.SizeLarge
		}
		svc = backend.NewNitroService(runnerArgs, startMode, size, vsockDial, publishCh, log)
	default:
		svc = backend.NewLocalService(runnerArgs, "./enclaved", vsockDial, publishCh, log)
	}
	return svc.Run(ctx, commands)
}
