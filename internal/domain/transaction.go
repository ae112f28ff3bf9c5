package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ContractTag classifies the contract a transaction was sent to.
type ContractTag string

const (
	TagNone ContractTag = ""
	TagDEX  ContractTag = "dex"
	TagNFT  ContractTag = "nft"
)

func (t ContractTag) String() string {
	if t == TagNone {
		return "none"
	}
	return string(t)
}

// Role selects which address index a lookup goes through.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts "sender"/"from" and "receiver"/"to".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "", "sender", "from":
		return RoleSender, nil
	case "receiver", "to":
		return RoleReceiver, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// TransactionRecord is one ingested on-chain transaction.
// Records are immutable once appended to the store.
type TransactionRecord struct {
	Hash string `json:"hash"`
	From string `json:"from"`
	// To is empty for contract creation.
	To string `json:"to,omitempty"`

	// Value and Fee are denominated in ether.
	Value        float64 `json:"value"`
	Fee          float64 `json:"fee"`
	Gas          uint64  `json:"gas"`
	GasPriceGwei float64 `json:"gasPriceGwei"`

	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"blockNumber"`

	// Method is the 4-byte selector ("0x" + 8 hex chars), empty for plain transfers.
	Method    string      `json:"method,omitempty"`
	InputSize int         `json:"inputSize,omitempty"`
	Tag       ContractTag `json:"tag,omitempty"`

	// Seq is the 1-based position assigned by the store at append time.
	Seq uint64 `json:"seq"`
}

// HasReceiver reports whether the record has a receiver address.
func (r *TransactionRecord) HasReceiver() bool {
	return r.To != ""
}

// Validate checks the fields the store relies on.
func (r *TransactionRecord) Validate() error {
	switch {
	case r.Hash == "":
		return fmt.Errorf("%w: hash is required", ErrMalformedRecord)
	case r.From == "":
		return fmt.Errorf("%w: sender is required", ErrMalformedRecord)
	case !finite(r.Value):
		return fmt.Errorf("%w: value %g is not a finite number", ErrMalformedRecord, r.Value)
	case r.Value < 0:
		return fmt.Errorf("%w: negative value", ErrMalformedRecord)
	case !finite(r.Fee):
		return fmt.Errorf("%w: fee %g is not a finite number", ErrMalformedRecord, r.Fee)
	case r.Fee < 0:
		return fmt.Errorf("%w: negative fee", ErrMalformedRecord)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrMalformedRecord)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Window is the half-open time span [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow returns the window of the given width starting at start.
func NewWindow(start time.Time, width time.Duration) Window {
	return Window{Start: start, End: start.Add(width)}
}

// Contains reports whether t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window width.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Block is the header information a chain provider returns for one block.
type Block struct {
	Number     uint64    `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parentHash"`
	Timestamp  time.Time `json:"timestamp"`
}
