// Package roles implements the BIP174 roles that move a packet from an
// empty transaction to a broadcastable one.
//
// Each role is a small value wrapping the packet it works on:
//   - Creator: starts an empty packet
//   - Constructor: appends inputs and outputs
//   - Updater: attaches spent outputs and scripts to existing inputs
//   - Signer: adds partial signatures, synchronously or through an
//     asynchronous signer
//   - Combiner: merges copies signed by different parties
//   - Validator: re-checks stored signatures
//   - Finalizer: assembles scriptSigs and witnesses
//   - Extractor: produces the final transaction
//
// Roles can run in different processes; the packet's serialized form is
// all they share.
package roles

import (
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Creator initializes a packet with no inputs or outputs.
//
// The Creator fixes the transaction-wide fields every party must agree on.
// Inputs and outputs are added by the Constructor.
type Creator struct {
	version  int32
	lockTime uint32
}

// NewCreator returns a Creator for version 2 transactions with no lock
// time.
func NewCreator() *Creator {
	return &Creator{version: 2}
}

// WithVersion sets the transaction version.
func (c *Creator) WithVersion(version int32) *Creator {
	c.version = version
	return c
}

// WithLockTime sets nLockTime. Values below 500000000 are block heights,
// larger values UNIX timestamps.
func (c *Creator) WithLockTime(lockTime uint32) *Creator {
	c.lockTime = lockTime
	return c
}

// Create returns the empty packet, ready for the Constructor.
func (c *Creator) Create() *psbt.Packet {
	tx := transaction.New()
	tx.Version = c.version
	tx.Locktime = c.lockTime

	return &psbt.Packet{
		UnsignedTx: tx,
		Inputs:     []*psbt.Input{},
		Outputs:    []*psbt.Output{},
	}
}
