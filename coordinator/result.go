package coordinator

// Code classifies how a transfer ended from the caller's point of view.
type Code int

const (
	// OK: ledger CONFIRMED and both wallet branches applied.
	OK Code = iota
	// InsufficientFunds: the sender's liquid balance did not cover the amount.
	InsufficientFunds
	// NotFound: sender or receiver does not exist.
	NotFound
	// CoordinatorError: the transfer was canceled before the ledger decision;
	// no money moved.
	CoordinatorError
	// PartialCommit: the ledger says CONFIRMED but at least one wallet branch
	// could not be applied in time. The recovery sweeper finishes it.
	PartialCommit
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InsufficientFunds:
		return "InsufficientFunds"
	case NotFound:
		return "NotFound"
	case CoordinatorError:
		return "CoordinatorError"
	case PartialCommit:
		return "PartialCommit"
	}
	return "Unknown"
}

// Outcome is the full result of one TransferMoney call.
type Outcome struct {
	Code Code
	TxID string
	Err  error
}

func (o Outcome) Ok() bool { return o.Code == OK }
