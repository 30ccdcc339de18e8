// Command enclaved is the process that runs inside the enclave: it accepts
// exactly one vsock connection from the host, configures and launches the
// build agent, streams its measurements back, and closes out the session
// with a signed attestation document.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/linsm/attestable-builds/internal/attestation"
	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/enclavefsm"
	"github.com/linsm/attestable-builds/internal/logging"
	"github.com/linsm/attestable-builds/internal/runnerevent"
	"github.com/linsm/attestable-builds/internal/supervisor"
	"github.com/linsm/attestable-builds/internal/wire"
)

func main() {
	var listenPort uint32
	var homeDir string

	root := &cobra.Command{
		Use:   "enclaved",
		Short: "Run the attestable-builds enclave session listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				addr, err := common.ParseVsockAddr(args[0])
				if err != nil {
					return err
				}
				listenPort = addr.Port
			}
			return run(cmd.Context(), listenPort, homeDir)
		},
	}
	root.Flags().Uint32Var(&listenPort, "vsock-port", 11000, "vsock port to listen on for the host connection")
	root.Flags().StringVar(&homeDir, "home-dir", "/home/runner", "build agent home directory")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("enclaved: exiting")
	}
}

func run(ctx context.Context, listenPort uint32, homeDir string) error {
	log := logging.NewFromEnv("enclaved")

	listener, err := vsock.Listen(listenPort, nil)
	if err != nil {
		return fmt.Errorf("enclaved: listen on vsock port %d: %w", listenPort, err)
	}
	defer listener.Close()
	log.WithField("port", listenPort).Info("enclaved: listening for host connection")

	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("enclaved: accept host connection: %w", err)
	}
	defer conn.Close()
	log.Info("enclaved: accepted host connection")

	return handleSession(ctx, conn, homeDir, log)
}

func handleSession(ctx context.Context, conn net.Conn, homeDir string, log *logrus.Entry) error {
	msg, err := wire.ReadHostToEnclave(conn, 0)
	if err != nil {
		return fmt.Errorf("enclaved: read StartRunner: %w", err)
	}
	start, ok := msg.(wire.StartRunner)
	if !ok {
		return fmt.Errorf("enclaved: expected StartRunner, got %T", msg)
	}

	state := enclavefsm.New().OnStartMessage()
	if state.Kind() == enclavefsm.Error {
		return fmt.Errorf("enclaved: %s", state.ErrReason())
	}

	if err := wire.WriteEnclaveToHost(conn, wire.EnclaveOk{}); err != nil {
		return fmt.Errorf("enclaved: ack StartRunner: %w", err)
	}

	outputDir := filepath.Join(homeDir, "output")
	cfg := supervisor.Config{
		Args:           start.Args.RunnerArgs,
		FakeRunnerArgs: start.Args.FakeRunnerArgs,
		HomeDir:        homeDir,
		OutputDir:      outputDir,
		OutputLogPath:  filepath.Join(outputDir, "output.log"),
		InputLogPath:   filepath.Join(outputDir, "input.log"),
		BundlePath:     filepath.Join(homeDir, "bundle"),
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("enclaved: create output dir %s: %w", outputDir, err)
	}
	mgr := supervisor.New(start.Args.RunnerStartMode, cfg)

	events := make(chan runnerevent.Event, 32)
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- mgr.Run(ctx, events) }()

	state, err = drainEvents(conn, state, events, cfg.InputLogPath, log)
	if err != nil {
		return err
	}

	if runErr := <-runErrCh; runErr != nil {
		log.WithError(runErr).Warn("enclaved: build agent exited with error")
	}

	if state.Kind() != enclavefsm.BuildFinished {
		return fmt.Errorf("enclaved: session ended in state %s, expected build_finished", state.Kind())
	}

	env, err := attestation.Compose(start.Args.UseFakeAttestation, state.CommitHash(), state.ArtifactName(), state.ArtifactHash())
	if err != nil {
		return fmt.Errorf("enclaved: compose attestation: %w", err)
	}
	envelope, err := env.MarshalEnvelope()
	if err != nil {
		return fmt.Errorf("enclaved: marshal attestation envelope: %w", err)
	}

	if err := wire.WriteEnclaveToHost(conn, wire.ReportAttestation{AttestationDocument: env.Attestation}); err != nil {
		return fmt.Errorf("enclaved: report attestation: %w", err)
	}

	if err := os.WriteFile(cfg.InputLogPath, envelope, 0o666); err != nil {
		return fmt.Errorf("enclaved: write attestation envelope to input log: %w", err)
	}

	log.Info("enclaved: session complete")
	return nil
}

// drainEvents consumes runner events until the build agent reports it is
// finished, applying each one to the state machine and relaying
// measurements and diagnostics to the host over conn.
func drainEvents(conn net.Conn, state enclavefsm.State, events <-chan runnerevent.Event, inputLogPath string, log *logrus.Entry) (enclavefsm.State, error) {
	for event := range events {
		switch event.Kind {
		case runnerevent.ConfigurationDone:
			state = state.OnConfigured()

		case runnerevent.CommitHash:
			state = state.OnReceivedCommitHash(event.CommitHash)
			if state.Kind() == enclavefsm.Error {
				break
			}
			if err := wire.WriteEnclaveToHost(conn, wire.ReportRepositoryRoot{CommitHash: event.CommitHash}); err != nil {
				return state, fmt.Errorf("enclaved: report commit hash: %w", err)
			}

		case runnerevent.ArtifactNameAndHash:
			state = state.OnReceivedArtifact(event.ArtifactName, event.ArtifactHash, inputLogPath)
			if state.Kind() == enclavefsm.Error {
				break
			}
			if err := wire.WriteEnclaveToHost(conn, wire.ReportArtifact{ArtifactName: event.ArtifactName, ArtifactHash: event.ArtifactHash}); err != nil {
				return state, fmt.Errorf("enclaved: report artifact: %w", err)
			}

		case runnerevent.LogLine:
			if err := wire.WriteEnclaveToHost(conn, wire.Log{Message: event.Message}); err != nil {
				return state, fmt.Errorf("enclaved: report log: %w", err)
			}

		case runnerevent.TimestampMarker:
			if err := wire.WriteEnclaveToHost(conn, wire.Timestamp{Marker: event.Marker, Datetime: event.Datetime}); err != nil {
				return state, fmt.Errorf("enclaved: report timestamp: %w", err)
			}

		case runnerevent.Finished:
			return state, nil
		}

		if state.Kind() == enclavefsm.Error {
			return state, fmt.Errorf("enclaved: %s", state.ErrReason())
		}
	}
	return state, nil
}
