package state

import (
	"time"
)

// Policy holds the timing parameters of the state machine.
type Policy struct {
	// LeaseTimeout bounds how long a claim is honored before it can be reclaimed.
	LeaseTimeout time.Duration
	// RecheckInterval is how long a STEADY record rests before it is processed again.
	RecheckInterval time.Duration
	Backoff         BackoffPolicy
}

// Eligible reports whether the record may be claimed at now.
func Eligible(ws *WorkerState, now time.Time) bool {
	switch ws.State {
	case StatePending:
		return true
	case StateSteady, StateRetrying:
		return ws.NextEligibleAt == nil || !now.Before(*ws.NextEligibleAt)
	case StateSyncing:
		return ws.LeaseExpiresAt == nil || !now.Before(*ws.LeaseExpiresAt)
	default:
		return false
	}
}

func newRecord(key Key, now time.Time) *WorkerState {
	return &WorkerState{
		HardwareID:    key.HardwareID,
		WorkerType:    key.WorkerType,
		State:         StatePending,
		Details:       map[string]any{},
		Generation:    1,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

func advance(ws *WorkerState, now time.Time) *WorkerState {
	next := ws.Clone()
	next.Generation = ws.Generation + 1
	next.LastUpdatedAt = now
	if next.Details == nil {
		next.Details = map[string]any{}
	}
	return next
}

func clearClaim(ws *WorkerState) {
	ws.InProgress = false
	ws.ClaimedBy = ""
	ws.ClaimedFrom = ""
	ws.LeaseExpiresAt = nil
}

func claimed(ws *WorkerState, owner string, now time.Time, lease time.Duration) *WorkerState {
	next := advance(ws, now)
	if ws.State != StateSyncing {
		next.ClaimedFrom = ws.State
	}
	next.State = StateSyncing
	next.InProgress = true
	next.ClaimedBy = owner
	expires := now.Add(lease)
	next.LeaseExpiresAt = &expires
	return next
}

func released(ws *WorkerState, now time.Time) *WorkerState {
	next := advance(ws, now)
	next.State = ws.ClaimedFrom
	if next.State == "" {
		next.State = StatePending
	}
	clearClaim(next)
	return next
}

func completed(ws *WorkerState, c Completion, now time.Time, p Policy) *WorkerState {
	next := advance(ws, now)
	clearClaim(next)
	mergeDetails(next.Details, c.Details)

	switch c.Outcome {
	case OutcomeSuccess, OutcomeSteady:
		next.State = StateSteady
		next.AttemptCount = 0
		next.BackoffDelay = 0
		delete(next.Details, DetailLastError)
		delete(next.Details, DetailDeferReason)
		delete(next.Details, DetailAttemptCount)
		recheck := now.Add(p.RecheckInterval)
		next.NextEligibleAt = &recheck

	case OutcomeRetry:
		next.State = StateRetrying
		next.AttemptCount = ws.AttemptCount + 1
		next.BackoffDelay = p.Backoff.next(next.AttemptCount, ws.BackoffDelay, c.RetryAfter)
		eligible := now.Add(next.BackoffDelay)
		if c.NotBefore.After(eligible) {
			eligible = c.NotBefore
		}
		next.NextEligibleAt = &eligible
		next.Details[DetailAttemptCount] = next.AttemptCount
		setOrDelete(next.Details, DetailDeferReason, c.Reason)
		setOrDelete(next.Details, DetailLastError, errString(c.Err))

	default:
		next.State = StateError
		next.NextEligibleAt = nil
		msg := errString(c.Err)
		if msg == "" {
			msg = c.Reason
		}
		setOrDelete(next.Details, DetailLastError, msg)
		delete(next.Details, DetailDeferReason)
	}
	return next
}

func reset(ws *WorkerState, now time.Time) *WorkerState {
	next := advance(ws, now)
	next.State = StatePending
	next.AttemptCount = 0
	next.BackoffDelay = 0
	next.NextEligibleAt = nil
	delete(next.Details, DetailLastError)
	delete(next.Details, DetailDeferReason)
	delete(next.Details, DetailAttemptCount)
	return next
}

// expedite makes a RETRYING record eligible at now. Attempt count and backoff
// are kept.
func expedite(ws *WorkerState, now time.Time) *WorkerState {
	next := advance(ws, now)
	at := now
	next.NextEligibleAt = &at
	return next
}

func tombstoned(ws *WorkerState, now time.Time) *WorkerState {
	next := advance(ws, now)
	next.State = StateRemoved
	next.NextEligibleAt = nil
	clearClaim(next)
	return next
}

// mergeDetails copies a worker payload into details. A nil value removes the
// key.
func mergeDetails(details, payload map[string]any) {
	for k, v := range payload {
		if v == nil {
			delete(details, k)
			continue
		}
		details[k] = cloneValue(v)
	}
}

func setOrDelete(m map[string]any, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
