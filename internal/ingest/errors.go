package ingest

import (
	"errors"
	"fmt"

	"github.com/mixelka/jobmail-ingest/pkg/models"
)

var (
	// ErrRunInProgress is returned when a run is triggered while another one holds the mailbox
	ErrRunInProgress = errors.New("ingestion run already in progress")

	// ErrBackfillActive is returned when backfill is started while it is already running
	ErrBackfillActive = errors.New("backfill already running")

	// ErrNoActiveRun is returned by Cancel when there is nothing to stop
	ErrNoActiveRun = errors.New("no active run")
)

// ConnectionError is an IMAP failure that ends the run early: connect, login,
// mailbox open or search
type ConnectionError struct {
	Phase models.Phase
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchError is a per-UID fetch failure that survived all retries
type FetchError struct {
	UID      uint32
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch uid %d failed after %d attempts: %v", e.UID, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var (
	// ErrBackfillNotReady is returned when backfill is started before any live sync set a boundary
	ErrBackfillNotReady = errors.New("backfill needs a completed live sync first")

	// ErrBackfillExhausted is returned when there is no older mail left to walk
	ErrBackfillExhausted = errors.New("backfill already reached the oldest message")

	// ErrShuttingDown is returned by Trigger after Shutdown
	ErrShuttingDown = errors.New("ingest service is shutting down")
)
