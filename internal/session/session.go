// Package session drives one host<->enclave vsock conversation end to end:
// connect with retry, send the job parameters, then dispatch every message
// the enclave reports until it either finishes or the protocol is violated.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/linsm/attestable-builds/internal/attestation"
	"github.com/linsm/attestable-builds/internal/common"
	"github.com/linsm/attestable-builds/internal/runnerarg"
	"github.com/linsm/attestable-builds/internal/wire"
)

// ConnectTimeout bounds how long the host waits for the enclave's vsock
// listener to come up before giving up on a job.
const ConnectTimeout = 60 * time.Second

const connectRetryInterval = time.Second

// ErrProtocolViolation means the enclave sent a message out of the
// expected sequence, or one that required fields that were never reported.
var ErrProtocolViolation = errors.New("session: protocol violation")

// Dialer opens a connection to addr. Production code passes
// vsock.Dial; tests pass an in-memory stand-in.
type Dialer func(ctx context.Context, addr common.VsockAddr) (net.Conn, error)

// Result is what one completed session learned about the build.
type Result struct {
	CommitHash   string
	ArtifactName string
	ArtifactHash string
	Attestation  attestation.Envelope
}

// Run connects to the enclave at addr, starts the build, and blocks until
// the enclave reports a finished attestation or the session fails. log
// receives every Log/Timestamp message for diagnostics; it may be nil.
func Run(ctx context.Context, dial Dialer, addr common.VsockAddr, args runnerarg.EnclaveClientArgs, log *logrus.Entry) (Result, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	conn, err := connectWithRetry(ctx, dial, addr)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()

	if err := wire.WriteHostToEnclave(conn, wire.StartRunner{Args: args}); err != nil {
		return Result{}, fmt.Errorf("session: send StartRunner: %w", err)
	}

	ack, err := wire.ReadEnclaveToHost(conn, 0)
	if err != nil {
		return Result{}, fmt.Errorf("session: await StartRunner ack: %w", err)
	}
	if _, ok := ack.(wire.EnclaveOk); !ok {
		return Result{}, fmt.Errorf("%w: expected EnclaveOk acknowledgement, got %T", ErrProtocolViolation, ack)
	}

	var result Result
	var haveCommitHash, haveArtifact bool

	for {
		msg, err := wire.ReadEnclaveToHost(conn, 0)
		if err != nil {
			return Result{}, fmt.Errorf("session: read message: %w", err)
		}

		switch m := msg.(type) {
		case wire.ReportRepositoryRoot:
			result.CommitHash = m.CommitHash
			haveCommitHash = true

		case wire.ReportArtifact:
			result.ArtifactName = m.ArtifactName
			result.ArtifactHash = m.ArtifactHash
			haveArtifact = true

		case wire.ReportAttestation:
			if !haveCommitHash || !haveArtifact {
				return Result{}, fmt.Errorf("%w: attestation reported before commit hash and artifact", ErrProtocolViolation)
			}
			result.Attestation = attestation.Envelope{
				CommitHash:   result.CommitHash,
				ArtifactName: result.ArtifactName,
				ArtifactHash: result.ArtifactHash,
				Attestation:  m.AttestationDocument,
			}
			return result, nil

		case wire.Log:
			log.Debug(m.Message)

		case wire.Timestamp:
			log.WithFields(logrus.Fields{"marker": m.Marker, "datetime": m.Datetime}).Debug("enclave timestamp")

		default:
			return Result{}, fmt.Errorf("%w: unexpected message %T", ErrProtocolViolation, msg)
		}
	}
}

func connectWithRetry(ctx context.Context, dial Dialer, addr common.VsockAddr) (net.Conn, error) {
	deadline := time.Now().Add(ConnectTimeout)
	var lastErr error
	for {
		conn, err := dial(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("session: could not reach enclave at %s within %s: %w", addr, ConnectTimeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
}
