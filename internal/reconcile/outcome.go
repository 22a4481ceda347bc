package reconcile

// Kind tags the result of a reconciliation run.
type Kind string

const (
	// KindAlreadyPaid means the order was paid before this run started.
	KindAlreadyPaid Kind = "already_paid"
	// KindReconciled means a complete gateway session was observed and the
	// order transitioned to (processing, paid).
	KindReconciled Kind = "reconciled"
	// KindNewSessionIssued means a fresh checkout session was minted; the
	// caller must redirect the user rather than loop.
	KindNewSessionIssued Kind = "new_session_issued"
	// KindFailed means the run hit an unrecoverable error.
	KindFailed Kind = "failed"
)

// Outcome is the tagged result of one reconciliation run.
type Outcome struct {
	Kind            Kind
	SessionID       string
	PaymentIntentID string
	RetryURL        string
	AttemptNumber   int
	Err             error
}

// Success reports whether the order ended this run in a paid state.
func (o Outcome) Success() bool {
	return o.Kind == KindAlreadyPaid || o.Kind == KindReconciled
}
