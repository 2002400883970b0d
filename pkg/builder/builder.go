// Package builder drives a transaction through its signing lifecycle:
//
//	Empty -> Building -> PartiallySigned -> Finalized -> Extracted
//
// A Builder owns one packet and applies the roles in package roles to it,
// refusing operations the current state does not allow. The state is
// derived from the packet itself, so a builder decoded from another
// party's base64 resumes exactly where that party stopped.
package builder

import (
	"context"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/roles"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// Builder is a transaction in progress.
//
// A Builder is not safe for concurrent use. SignAllInputsAsync is the one
// operation that fans out internally, and it only writes to the packet
// after every outstanding request has returned.
type Builder struct {
	packet    *psbt.Packet
	opts      options
	extracted bool
}

// New returns an empty builder.
func New(opts ...Option) *Builder {
	o := applyOptions(opts)
	packet := roles.NewCreator().
		WithVersion(o.version).
		WithLockTime(o.lockTime).
		Create()

	return &Builder{packet: packet, opts: o}
}

// FromPacket wraps an existing packet. The builder takes ownership of p.
func FromPacket(p *psbt.Packet, opts ...Option) *Builder {
	return &Builder{packet: p, opts: applyOptions(opts)}
}

// FromBase64 decodes a base64 packet into a builder.
func FromBase64(s string, opts ...Option) (*Builder, error) {
	p, err := psbt.NewFromBase64(s)
	if err != nil {
		return nil, err
	}
	return FromPacket(p, opts...), nil
}

// FromBytes decodes a binary packet into a builder.
func FromBytes(b []byte, opts ...Option) (*Builder, error) {
	p, err := psbt.Parse(b)
	if err != nil {
		return nil, err
	}
	return FromPacket(p, opts...), nil
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// State reports the current lifecycle stage.
func (b *Builder) State() State {
	p := b.packet
	switch {
	case b.extracted:
		return Extracted
	case len(p.Inputs) == 0 && len(p.Outputs) == 0:
		return Empty
	case p.IsComplete():
		return Finalized
	case p.HasSignatures():
		return PartiallySigned
	}
	return Building
}

// require fails unless the builder is in one of the given states.
func (b *Builder) require(op string, allowed ...State) error {
	state := b.State()
	for _, s := range allowed {
		if state == s {
			return nil
		}
	}
	return &psbt.StateError{
		Code:    psbt.ErrInvalidState,
		Message: fmt.Sprintf("%s not allowed in state %v", op, state),
	}
}

// transition logs a state change caused by op.
func (b *Builder) transition(op string, before State) {
	if after := b.State(); after != before {
		log.Debugf("%s: %v -> %v", op, before, after)
	}
}

// AddInput appends an input and returns its index.
//
// Inputs can be added while building, and after signing as long as every
// collected signature uses ANYONECANPAY. Otherwise the error has code
// ErrSignaturesWouldBeInvalidated and nothing changes.
func (b *Builder) AddInput(spec *roles.InputSpec) (int, error) {
	before := b.State()
	if err := b.require("AddInput", Empty, Building,
		PartiallySigned); err != nil {

		return 0, err
	}

	index, err := roles.NewConstructor(b.packet, b.opts.net).AddInput(spec)
	if err != nil {
		return 0, err
	}
	b.transition("AddInput", before)
	return index, nil
}

// AddOutput appends an output paying value satoshis to pkScript.
//
// After signing, outputs can only be added while no collected signature
// uses SIGHASH_ALL, and never at the index of an input signed with
// SIGHASH_SINGLE.
func (b *Builder) AddOutput(pkScript []byte, value int64) (int, error) {
	before := b.State()
	if err := b.require("AddOutput", Empty, Building,
		PartiallySigned); err != nil {

		return 0, err
	}

	c := roles.NewConstructor(b.packet, b.opts.net)
	index, err := c.AddOutput(pkScript, value)
	if err != nil {
		return 0, err
	}
	b.transition("AddOutput", before)
	return index, nil
}

// AddOutputAddress is AddOutput with the script derived from an address
// on the builder's network.
func (b *Builder) AddOutputAddress(address string, value int64) (int,
	error) {

	before := b.State()
	if err := b.require("AddOutput", Empty, Building,
		PartiallySigned); err != nil {

		return 0, err
	}

	c := roles.NewConstructor(b.packet, b.opts.net)
	index, err := c.AddOutputAddress(address, value)
	if err != nil {
		return 0, err
	}
	b.transition("AddOutput", before)
	return index, nil
}

// Updater returns an Updater over the builder's packet for attaching spent
// outputs and scripts after the inputs were added.
func (b *Builder) Updater() (*roles.Updater, error) {
	if err := b.require("Update", Building, PartiallySigned); err != nil {
		return nil, err
	}
	return roles.NewUpdater(b.packet, b.opts.net), nil
}

func (b *Builder) signer() *roles.Signer {
	return roles.NewSigner(b.packet, b.opts.net).WithLowR(b.opts.lowR)
}

// Sign signs input index with signer. A zero hashType selects the input's
// declared hash type, or SIGHASH_ALL.
//
// The signature is verified against the signer's public key before it is
// stored; a bad one fails with a *psbt.SignatureError matching
// crypto.ErrSignatureVerificationFailed.
func (b *Builder) Sign(index int, signer crypto.Signer,
	hashType script.SigHashType) error {

	before := b.State()
	if err := b.require("Sign", Building, PartiallySigned); err != nil {
		return err
	}
	if err := b.signer().SignInput(index, signer, hashType); err != nil {
		return err
	}
	b.transition("Sign", before)
	return nil
}

// SignAsync is Sign for a signer that answers asynchronously, such as a
// hardware device. It blocks until the signature arrives or ctx is done.
func (b *Builder) SignAsync(ctx context.Context, index int,
	signer crypto.AsyncSigner, hashType script.SigHashType) error {

	before := b.State()
	if err := b.require("Sign", Building, PartiallySigned); err != nil {
		return err
	}
	err := b.signer().SignInputAsync(ctx, index, signer, hashType)
	if err != nil {
		return err
	}
	b.transition("Sign", before)
	return nil
}

// SignAllInputs signs every input signer's key can spend and returns their
// indexes. A failure on one input does not undo the others; the first
// failure is returned with the indexes that were signed.
func (b *Builder) SignAllInputs(signer crypto.Signer,
	hashType script.SigHashType) ([]int, error) {

	before := b.State()
	if err := b.require("Sign", Building, PartiallySigned); err != nil {
		return nil, err
	}
	signed, err := b.signer().SignAllInputs(signer, hashType)
	b.transition("Sign", before)
	return signed, err
}

// SignAllInputsAsync is SignAllInputs for asynchronous signers. Requests
// for different inputs run concurrently, bounded by
// WithMaxSignConcurrency.
func (b *Builder) SignAllInputsAsync(ctx context.Context,
	signer crypto.AsyncSigner, hashType script.SigHashType) ([]int, error) {

	before := b.State()
	if err := b.require("Sign", Building, PartiallySigned); err != nil {
		return nil, err
	}
	signed, err := b.signer().SignAllInputsAsync(ctx, signer, hashType,
		b.opts.maxSignConcurrency)
	b.transition("Sign", before)
	return signed, err
}

// Combine merges the signatures and metadata collected by other builders
// for the same unsigned transaction into b.
//
// Returns an error with code ErrIncompatibleTransactions if the unsigned
// transactions differ and ErrConflictingData if two copies disagree on a
// record. b is unchanged on failure.
func (b *Builder) Combine(others ...*Builder) error {
	before := b.State()
	if err := b.require("Combine", Empty, Building, PartiallySigned,
		Finalized); err != nil {

		return err
	}

	packets := make([]*psbt.Packet, 0, len(others)+1)
	packets = append(packets, b.packet)
	for _, other := range others {
		packets = append(packets, other.packet)
	}

	combined, err := roles.NewCombiner(packets...).Combine()
	if err != nil {
		return err
	}
	b.packet = combined
	b.transition("Combine", before)
	return nil
}

// ValidateSignaturesOfInput verifies the partial signatures of input
// index, or only pubKey's when pubKey is non-nil. It returns false when
// any signature fails or none is present.
func (b *Builder) ValidateSignaturesOfInput(index int,
	pubKey []byte) (bool, error) {

	return roles.NewValidator(b.packet, b.opts.net).
		ValidateSignaturesOfInput(index, pubKey)
}

// ValidateAllSignatures verifies the partial signatures of every input not
// yet finalized.
func (b *Builder) ValidateAllSignatures() (bool, error) {
	return roles.NewValidator(b.packet, b.opts.net).ValidateAllSignatures()
}

// FinalizeInput assembles the scriptSig and witness of input index.
//
// Returns an error with code ErrCannotFinalize when the collected
// signatures do not satisfy the input's template.
func (b *Builder) FinalizeInput(index int) error {
	before := b.State()
	if err := b.require("Finalize", Building, PartiallySigned,
		Finalized); err != nil {

		return err
	}
	if err := roles.NewFinalizer(b.packet, b.opts.net).
		FinalizeInput(index); err != nil {

		return err
	}
	b.transition("Finalize", before)
	return nil
}

// FinalizeAllInputs finalizes every input. On failure the inputs finalized
// so far stay finalized.
func (b *Builder) FinalizeAllInputs() error {
	before := b.State()
	if err := b.require("Finalize", Building, PartiallySigned,
		Finalized); err != nil {

		return err
	}
	err := roles.NewFinalizer(b.packet, b.opts.net).FinalizeAllInputs()
	b.transition("Finalize", before)
	return err
}

// Extract returns the network transaction and moves the builder to
// Extracted.
//
// Returns an error with code ErrNotFullyFinalized unless every input is
// finalized. With allowIncomplete set, a transaction is returned for
// inspection whatever the state, unfinalized inputs left empty, and the
// builder's state does not change.
func (b *Builder) Extract(allowIncomplete bool) (*transaction.Transaction,
	error) {

	tx, err := roles.NewExtractor(b.packet).Extract(allowIncomplete)
	if err != nil {
		return nil, err
	}

	if b.packet.IsComplete() && !b.extracted {
		b.extracted = true
		log.Debugf("Extract: %v -> %v (txid %v)", Finalized, Extracted,
			tx.TxID())
		log.Tracef("Extracted transaction: %v", newLogClosure(func() string {
			return spew.Sdump(tx)
		}))
	}
	return tx, nil
}

// Fee returns the difference between spent and created value. Every input
// must carry its spent output.
func (b *Builder) Fee() (int64, error) {
	return roles.NewExtractor(b.packet).Fee()
}

// Digest returns the digest a signature for input index would commit to.
// It serves signers that work outside this process.
func (b *Builder) Digest(index int,
	hashType script.SigHashType) ([32]byte, error) {

	if hashType == 0 {
		hashType = script.SigHashAll
		if index >= 0 && index < len(b.packet.Inputs) &&
			b.packet.Inputs[index].SighashType != 0 {

			hashType = b.packet.Inputs[index].SighashType
		}
	}
	return b.signer().Digest(index, hashType)
}

// Clone returns an independent copy of b, including its state.
func (b *Builder) Clone() *Builder {
	return &Builder{
		packet:    b.packet.Clone(),
		opts:      b.opts,
		extracted: b.extracted,
	}
}

// ToBase64 encodes the packet for exchange with other parties.
func (b *Builder) ToBase64() (string, error) {
	return b.packet.B64Encode()
}

// Serialize encodes the packet in binary form.
func (b *Builder) Serialize() ([]byte, error) {
	return b.packet.Serialize()
}

// InputCount returns the number of inputs.
func (b *Builder) InputCount() int {
	return len(b.packet.Inputs)
}

// OutputCount returns the number of outputs.
func (b *Builder) OutputCount() int {
	return len(b.packet.Outputs)
}

// Packet returns the underlying packet. Changes made through it bypass the
// builder's checks.
func (b *Builder) Packet() *psbt.Packet {
	return b.packet
}
