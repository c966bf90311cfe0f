package entity

// BankCode selects the transfer rail for a payment. BankSelf is the
// internal path; every other code is routed to an external rail adapter.
// The code-to-engine mapping is fixed at composition time.
type BankCode string

const (
	BankSelf  BankCode = "SELF"
	BankApex  BankCode = "APEX"
	BankOrbit BankCode = "ORBIT"
)

func (c BankCode) IsInternal() bool {
	return c == BankSelf
}

func (c BankCode) String() string {
	return string(c)
}
