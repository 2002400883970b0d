package roles

import (
	"context"
	"encoding/hex"

	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"golang.org/x/sync/errgroup"
)

// Signer adds partial signatures to a packet.
//
// For each input it resolves the spent output's template, computes the
// legacy or segwit v0 digest, asks the key holder for a signature and
// verifies the result against the holder's public key before storing it.
// Stored signatures are DER encoded with the hash type byte appended, keyed
// by public key.
//
// A failure while signing one input never removes signatures collected for
// other inputs.
type Signer struct {
	packet *psbt.Packet
	net    *network.Params
	lowR   bool
}

// NewSigner returns a Signer for p.
func NewSigner(p *psbt.Packet, net *network.Params) *Signer {
	if net == nil {
		net = network.Bitcoin
	}
	return &Signer{packet: p, net: net}
}

// WithLowR asks signers to grind for signatures with a low R value.
func (s *Signer) WithLowR(lowR bool) *Signer {
	s.lowR = lowR
	return s
}

// signJob is one digest waiting for a signature.
type signJob struct {
	index    int
	pubKey   []byte
	digest   [32]byte
	hashType script.SigHashType

	sig []byte
	err error
}

// prepare checks that pubKey can sign input index and computes the digest.
// A zero hashType selects the input's declared type, or SIGHASH_ALL.
func (s *Signer) prepare(index int, pubKey []byte,
	hashType script.SigHashType) (*signJob, error) {

	p := s.packet
	if err := checkInputIndex(p, index); err != nil {
		return nil, err
	}

	in := p.Inputs[index]
	if in.IsFinalized() {
		return nil, stateErr(psbt.ErrInvalidState, "input %d is finalized",
			index)
	}

	switch {
	case hashType == 0 && in.SighashType != 0:
		hashType = in.SighashType
	case hashType == 0:
		hashType = script.SigHashAll
	case in.SighashType != 0 && hashType != in.SighashType:
		return nil, stateErr(psbt.ErrInvalidInput,
			"input %d requires sighash type %v, not %v", index,
			in.SighashType, hashType)
	}
	if !hashType.IsDefined() {
		return nil, stateErr(psbt.ErrInvalidInput,
			"undefined sighash type 0x%x", uint32(hashType))
	}

	sigIn, pay, err := sigHashInput(p, index, hashType, s.net)
	if err != nil {
		return nil, err
	}
	if !pay.Involves(pubKey) {
		return nil, stateErr(psbt.ErrNoMatchingInput,
			"key %x cannot sign input %d (%s)", pubKey, index, pay.Name())
	}

	digest, err := p.UnsignedTx.SignatureHash(sigIn)
	if err != nil {
		return nil, &psbt.SignatureError{
			InputIndex: index,
			Message:    "computing signature hash",
			Cause:      err,
		}
	}

	return &signJob{
		index:    index,
		pubKey:   pubKey,
		digest:   digest,
		hashType: hashType,
	}, nil
}

// store verifies the job's signature and records it on the input.
func (s *Signer) store(job *signJob) error {
	if job.err != nil {
		return &psbt.SignatureError{
			InputIndex: job.index,
			Message:    "signer failed",
			Cause:      job.err,
		}
	}

	if !crypto.VerifyCompact(job.pubKey, job.digest[:], job.sig) {
		return &psbt.SignatureError{
			InputIndex: job.index,
			Message:    "signature does not verify against the signer's key",
			Cause:      crypto.ErrSignatureVerificationFailed,
		}
	}

	encoded, err := script.EncodeSignature(job.sig, job.hashType)
	if err != nil {
		return &psbt.SignatureError{
			InputIndex: job.index,
			Message:    "encoding signature",
			Cause:      err,
		}
	}

	s.packet.Inputs[job.index].PartialSigs[hex.EncodeToString(job.pubKey)] =
		encoded

	log.Debugf("Stored %v signature by %x for input %d", job.hashType,
		job.pubKey, job.index)

	return nil
}

// SignInput signs input index with signer.
//
// This resolves the template of the spent output, computes the legacy or
// segwit v0 digest for the input, has signer sign it and stores the
// DER signature with the hash type byte appended in the input's partial
// signatures, keyed by signer's public key.
//
// Parameters:
//   - index: Index of the input to sign (0-based)
//   - signer: Holder of the private key
//   - hashType: Hash type to sign with; zero selects the input's declared
//     hash type, or SIGHASH_ALL when none is declared
//
// Returns an error if:
//   - The index is out of range (ErrIndexOutOfRange)
//   - The input is already finalized (ErrInvalidState)
//   - hashType differs from the input's declared type (ErrInvalidInput)
//   - The spent output is unknown (ErrMissingUtxo; witness inputs also
//     match transaction.ErrMissingPrevoutValue)
//   - signer's key is not part of the spending condition
//     (ErrNoMatchingInput)
//   - The signature does not verify (a *psbt.SignatureError matching
//     crypto.ErrSignatureVerificationFailed)
func (s *Signer) SignInput(index int, signer crypto.Signer,
	hashType script.SigHashType) error {

	// Step 1: Check the input and compute the digest to sign
	job, err := s.prepare(index, signer.PublicKey(), hashType)
	if err != nil {
		return err
	}

	// Step 2: Sign the digest with the holder's key
	job.sig, job.err = signer.Sign(job.digest, s.lowR)

	// Step 3: Verify the signature and record it on the input
	return s.store(job)
}

// SignInputAsync is SignInput for signers that answer asynchronously, such
// as hardware wallets or remote services.
//
// Parameters:
//   - ctx: Bounds the wait for the signature
//   - index: Index of the input to sign (0-based)
//   - signer: Asynchronous holder of the private key
//   - hashType: As for SignInput
//
// Returns the errors of SignInput, and a *psbt.SignatureError wrapping
// ctx.Err() when ctx is done before the signature arrives. The packet is
// left untouched in that case.
func (s *Signer) SignInputAsync(ctx context.Context, index int,
	signer crypto.AsyncSigner, hashType script.SigHashType) error {

	// Step 1: Check the input and compute the digest to sign
	job, err := s.prepare(index, signer.PublicKey(), hashType)
	if err != nil {
		return err
	}

	// Step 2: Wait for the signature or for ctx to finish
	job.sig, job.err = crypto.AwaitSignature(ctx, signer, job.digest, s.lowR)

	// Step 3: Verify the signature and record it on the input
	return s.store(job)
}

// prepareAll collects a job for every input pubKey can sign. Inputs that
// belong to other keys, or that lack the data to be signed, are skipped.
func (s *Signer) prepareAll(pubKey []byte,
	hashType script.SigHashType) ([]*signJob, error) {

	var jobs []*signJob
	for i, in := range s.packet.Inputs {
		if in.IsFinalized() {
			continue
		}
		job, err := s.prepare(i, pubKey, hashType)
		if err != nil {
			log.Debugf("Skipping input %d: %v", i, err)
			continue
		}
		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		return nil, stateErr(psbt.ErrNoMatchingInput,
			"no input can be signed by key %x", pubKey)
	}
	return jobs, nil
}

// storeAll stores every successful job and returns the signed indexes with
// the first failure, in input order.
func (s *Signer) storeAll(jobs []*signJob) ([]int, error) {
	var (
		signed   []int
		firstErr error
	)
	for _, job := range jobs {
		if err := s.store(job); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		signed = append(signed, job.index)
	}
	return signed, firstErr
}

// SignAllInputs signs every input signer's key can spend.
//
// Inputs that belong to other keys, are already finalized or lack their
// spent output are skipped. When some inputs fail the others are still
// signed.
//
// Parameters:
//   - signer: Holder of the private key
//   - hashType: As for SignInput, applied to each input
//
// Returns:
//   - Indexes of the signed inputs, in input order
//   - ErrNoMatchingInput if no input can be signed by the key, otherwise
//     the first signing failure in input order
func (s *Signer) SignAllInputs(signer crypto.Signer,
	hashType script.SigHashType) ([]int, error) {

	// Step 1: Compute a digest for every input the key can sign
	jobs, err := s.prepareAll(signer.PublicKey(), hashType)
	if err != nil {
		return nil, err
	}

	// Step 2: Sign each digest in turn
	for _, job := range jobs {
		job.sig, job.err = signer.Sign(job.digest, s.lowR)
	}

	// Step 3: Verify and record the signatures
	return s.storeAll(jobs)
}

// SignAllInputsAsync is SignAllInputs for asynchronous signers.
//
// Each request owns its own result slot and the packet is only written
// after all requests have returned.
//
// Parameters:
//   - ctx: Bounds the wait for every signature
//   - signer: Asynchronous holder of the private key
//   - hashType: As for SignInput, applied to each input
//   - maxConcurrency: Most requests outstanding at once; zero or less
//     means no limit
//
// Returns the signed indexes and the first failure, as SignAllInputs does.
func (s *Signer) SignAllInputsAsync(ctx context.Context,
	signer crypto.AsyncSigner, hashType script.SigHashType,
	maxConcurrency int) ([]int, error) {

	// Step 1: Compute a digest for every input the key can sign
	jobs, err := s.prepareAll(signer.PublicKey(), hashType)
	if err != nil {
		return nil, err
	}

	// Step 2: Request the signatures concurrently
	var g errgroup.Group
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			job.sig, job.err = crypto.AwaitSignature(ctx, signer,
				job.digest, s.lowR)
			return job.err
		})
	}

	// Failures are per input; storeAll reports them in input order.
	if err := g.Wait(); err != nil {
		log.Debugf("Async signing finished with errors: %v", err)
	}

	// Step 3: Verify and record the signatures
	return s.storeAll(jobs)
}

// Finish returns the signed packet.
//
// The packet now carries partial signatures and can be:
//   - Passed to the Combiner if other parties sign copies of it
//   - Passed to the Finalizer once every threshold is met
func (s *Signer) Finish() *psbt.Packet {
	return s.packet
}

// Digest returns the digest a signature for input index would commit to
// under hashType. It is useful to signers that sign out of band.
//
// Parameters:
//   - index: Index of the input (0-based)
//   - hashType: Hash type the signature will carry
//
// Returns an error if the input cannot be resolved, as for SignInput, or
// if hashType is undefined (transaction.ErrInvalidHashType).
func (s *Signer) Digest(index int,
	hashType script.SigHashType) ([32]byte, error) {

	sigIn, _, err := sigHashInput(s.packet, index, hashType, s.net)
	if err != nil {
		return [32]byte{}, err
	}
	return s.packet.UnsignedTx.SignatureHash(sigIn)
}
