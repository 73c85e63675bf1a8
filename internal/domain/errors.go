package domain

import "errors"

var (
	// ErrDataUnavailable is returned when no reading or no score exists for a tick.
	ErrDataUnavailable = errors.New("no telemetry data available")

	// ErrCorruptLedger is returned when the ledger fails hash-chain verification.
	ErrCorruptLedger = errors.New("ledger hash chain is corrupt")

	// ErrPersistence is returned when a durable write of a resolution failed.
	ErrPersistence = errors.New("failed to persist resolution")

	// ErrNoActiveAnomaly is returned when a decision arrives with no anomaly awaiting one.
	ErrNoActiveAnomaly = errors.New("no active anomaly awaiting a decision")

	// ErrAlreadyResolved is returned when a decision targets an episode that is already resolved.
	ErrAlreadyResolved = errors.New("anomaly episode already resolved")

	// ErrStaleDecision is returned when a decision names an episode that is not the active one.
	ErrStaleDecision = errors.New("decision does not match the active episode")

	// ErrInvalidDecision is returned when an unknown decision is submitted.
	ErrInvalidDecision = errors.New("invalid decision: must be 'adapt' or 'confirm_theft'")

	// ErrNotResolvedTheft is returned when a reset is requested outside RESOLVED_THEFT.
	ErrNotResolvedTheft = errors.New("circuit is not halted on a confirmed theft")

	// ErrEpisodeNotFound is returned when a journaled episode does not exist.
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrJournalDisabled is returned when reporting is requested without a journal database.
	ErrJournalDisabled = errors.New("episode journal is not configured")
)
