package roles

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// wpkhSpec describes an input spending a p2wpkh output of key.
func wpkhSpec(t *testing.T, key *crypto.KeyPair, n byte,
	value int64) *InputSpec {

	t.Helper()
	p2wpkh, err := payments.NewP2WPKH(key.PublicKey(), nil)
	require.NoError(t, err)
	return &InputSpec{
		Hash:        chainhash.Hash{n},
		WitnessUtxo: &transaction.TxOut{Value: value, Script: p2wpkh.Output},
	}
}

// wpkhPacket builds a packet with one p2wpkh input per key, all paying to a
// single output of the first key.
func wpkhPacket(t *testing.T, keys []*crypto.KeyPair,
	outputs int) *psbt.Packet {

	t.Helper()
	c := NewConstructor(NewCreator().Create(), nil)
	for i, key := range keys {
		_, err := c.AddInput(wpkhSpec(t, key, byte(i+1), 10000))
		require.NoError(t, err)
	}
	for i := 0; i < outputs; i++ {
		_, err := c.AddOutput(wpkhSpec(t, keys[0], 0, 0).WitnessUtxo.Script,
			int64(1000*(i+1)))
		require.NoError(t, err)
	}
	return c.Finish()
}

func TestCreator(t *testing.T) {
	p := NewCreator().WithVersion(1).WithLockTime(500000).Create()
	assert.Equal(t, int32(1), p.UnsignedTx.Version)
	assert.Equal(t, uint32(500000), p.UnsignedTx.Locktime)
	assert.Empty(t, p.Inputs)
	assert.Empty(t, p.Outputs)
	assert.False(t, p.IsComplete())

	p = NewCreator().Create()
	assert.Equal(t, int32(2), p.UnsignedTx.Version)
	checkRoundTrip(t, p)
}

func TestConstructorRejects(t *testing.T) {
	key := testKeys(t, 1)[0]
	c := NewConstructor(NewCreator().Create(), nil)

	spec := wpkhSpec(t, key, 1, 5000)
	_, err := c.AddInput(spec)
	require.NoError(t, err)

	_, err = c.AddInput(spec)
	require.ErrorIs(t, err, psbt.ErrInvalidInput, "duplicate outpoint")

	_, err = c.AddOutput(spec.WitnessUtxo.Script, -1)
	require.ErrorIs(t, err, psbt.ErrInvalidOutput)
	_, err = c.AddOutput(spec.WitnessUtxo.Script, 21e14+1)
	require.ErrorIs(t, err, psbt.ErrInvalidOutput)

	_, err = c.AddOutputAddress("not an address", 1000)
	require.ErrorIs(t, err, psbt.ErrInvalidOutput)

	bad := wpkhSpec(t, key, 2, 5000)
	bad.ScriptType = "p2pkh"
	_, err = c.AddInput(bad)
	require.ErrorIs(t, err, psbt.ErrInvalidInput, "declared type mismatch")

	bad = wpkhSpec(t, key, 3, 5000)
	bad.SighashType = 0x04
	_, err = c.AddInput(bad)
	require.ErrorIs(t, err, psbt.ErrInvalidInput, "undefined hash type")

	prevTx := transaction.New()
	prevTx.AddInput(chainhash.Hash{0x09}, 0, transaction.DefaultSequence, nil)
	prevTx.AddOutput(spec.WitnessUtxo.Script, 5000)

	_, err = c.AddInput(&InputSpec{
		Hash:           chainhash.Hash{0x04},
		NonWitnessUtxo: prevTx,
	})
	require.ErrorIs(t, err, psbt.ErrInvalidInput, "txid mismatch")

	_, err = c.AddInput(&InputSpec{
		Hash:           prevTx.TxHash(),
		Index:          1,
		NonWitnessUtxo: prevTx,
	})
	require.ErrorIs(t, err, psbt.ErrInvalidInput, "missing vout")

	_, err = c.AddInput(&InputSpec{
		Hash:           prevTx.TxHash(),
		NonWitnessUtxo: prevTx,
		WitnessUtxo: &transaction.TxOut{
			Value:  4999,
			Script: spec.WitnessUtxo.Script,
		},
	})
	require.ErrorIs(t, err, psbt.ErrConflictingData)

	// Rejected inputs leave no trace.
	p := c.Finish()
	assert.Len(t, p.Inputs, 1)
	assert.Len(t, p.UnsignedTx.Inputs, 1)
	assert.Empty(t, p.Outputs)
}

func TestConstructorSequence(t *testing.T) {
	key := testKeys(t, 1)[0]
	c := NewConstructor(NewCreator().Create(), nil)

	spec := wpkhSpec(t, key, 1, 5000)
	sequence := uint32(0xfffffffd)
	spec.Sequence = &sequence
	_, err := c.AddInput(spec)
	require.NoError(t, err)
	_, err = c.AddInput(wpkhSpec(t, key, 2, 5000))
	require.NoError(t, err)

	tx := c.Finish().UnsignedTx
	assert.Equal(t, sequence, tx.Inputs[0].Sequence)
	assert.Equal(t, transaction.DefaultSequence, tx.Inputs[1].Sequence)
}

// TestMutationPolicy checks which additions each hash type still allows,
// and that the allowed ones keep the signature valid.
func TestMutationPolicy(t *testing.T) {
	tests := []struct {
		name        string
		hashType    script.SigHashType
		addInputOK  bool
		addOutputOK bool
	}{
		{"all", script.SigHashAll, false, false},
		{"all anyonecanpay", script.SigHashAll | script.SigHashAnyoneCanPay,
			true, false},
		{"none", script.SigHashNone, false, true},
		{"none anyonecanpay",
			script.SigHashNone | script.SigHashAnyoneCanPay, true, true},
		{"single", script.SigHashSingle, false, true},
		{"single anyonecanpay",
			script.SigHashSingle | script.SigHashAnyoneCanPay, true, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			keys := testKeys(t, 2)
			p := wpkhPacket(t, keys[:1], 1)
			require.NoError(t, NewSigner(p, nil).SignInput(0, keys[0],
				test.hashType))

			c := NewConstructor(p, nil)
			_, err := c.AddInput(wpkhSpec(t, keys[1], 9, 7000))
			if test.addInputOK {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err,
					psbt.ErrSignaturesWouldBeInvalidated)
			}

			_, err = c.AddOutput(p.UnsignedTx.Outputs[0].Script, 500)
			if test.addOutputOK {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err,
					psbt.ErrSignaturesWouldBeInvalidated)
			}

			valid, err := NewValidator(p, nil).ValidateSignaturesOfInput(0,
				nil)
			require.NoError(t, err)
			assert.True(t, valid)
		})
	}
}

// TestSingleWithoutOutput covers a SIGHASH_SINGLE signature on an input
// with no output at its index. That signature commits to the missing
// output, so an output there can no longer be added.
func TestSingleWithoutOutput(t *testing.T) {
	keys := testKeys(t, 2)
	p := wpkhPacket(t, keys, 1)

	signer := NewSigner(p, nil)
	require.NoError(t, signer.SignInput(1, keys[1], script.SigHashSingle))

	_, err := NewConstructor(p, nil).AddOutput(
		p.UnsignedTx.Outputs[0].Script, 500)
	require.ErrorIs(t, err, psbt.ErrSignaturesWouldBeInvalidated)
	assert.Len(t, p.Outputs, 1)

	require.NoError(t, signer.SignInput(0, keys[0], script.SigHashAll))
	valid, err := NewValidator(p, nil).ValidateAllSignatures()
	require.NoError(t, err)
	assert.True(t, valid)

	require.NoError(t, NewFinalizer(p, nil).FinalizeAllInputs())
	tx, err := NewExtractor(p).Extract(false)
	require.NoError(t, err)
	verifyWithEngine(t, tx, []*transaction.TxOut{
		p.Inputs[0].WitnessUtxo, p.Inputs[1].WitnessUtxo,
	})
}

func TestFinalizedFreezesPacket(t *testing.T) {
	keys := testKeys(t, 2)
	p := wpkhPacket(t, keys[:1], 1)
	require.NoError(t, NewSigner(p, nil).SignInput(0, keys[0],
		script.SigHashNone|script.SigHashAnyoneCanPay))
	require.NoError(t, NewFinalizer(p, nil).FinalizeInput(0))

	// Finalizing again is a no-op.
	require.NoError(t, NewFinalizer(p, nil).FinalizeInput(0))

	c := NewConstructor(p, nil)
	_, err := c.AddInput(wpkhSpec(t, keys[1], 9, 7000))
	require.ErrorIs(t, err, psbt.ErrSignaturesWouldBeInvalidated)
	_, err = c.AddOutput(p.UnsignedTx.Outputs[0].Script, 500)
	require.ErrorIs(t, err, psbt.ErrSignaturesWouldBeInvalidated)

	err = NewSigner(p, nil).SignInput(0, keys[0], 0)
	require.ErrorIs(t, err, psbt.ErrInvalidState)

	err = NewUpdater(p, nil).SetSighashType(0, script.SigHashAll)
	require.ErrorIs(t, err, psbt.ErrInvalidState)
}

func TestSignerErrors(t *testing.T) {
	keys := testKeys(t, 2)
	p := wpkhPacket(t, keys[:1], 1)
	signer := NewSigner(p, nil)

	err := signer.SignInput(1, keys[0], 0)
	require.ErrorIs(t, err, psbt.ErrIndexOutOfRange)

	err = signer.SignInput(0, keys[1], 0)
	require.ErrorIs(t, err, psbt.ErrNoMatchingInput)

	err = signer.SignInput(0, keys[0], 0x04)
	require.ErrorIs(t, err, psbt.ErrInvalidInput)

	_, err = signer.SignAllInputs(keys[1], 0)
	require.ErrorIs(t, err, psbt.ErrNoMatchingInput)

	// A declared hash type binds every signer of the input.
	require.NoError(t, NewUpdater(p, nil).SetSighashType(0,
		script.SigHashNone))
	err = signer.SignInput(0, keys[0], script.SigHashAll)
	require.ErrorIs(t, err, psbt.ErrInvalidInput)
	require.NoError(t, signer.SignInput(0, keys[0], 0))

	sig, ok := p.Inputs[0].PartialSigs.Get(keys[0].PublicKey())
	require.True(t, ok)
	assert.Equal(t, byte(script.SigHashNone), sig[len(sig)-1])
	assert.True(t, script.IsCanonicalScriptSignature(sig))

	// A missing spent output leaves nothing to sign against, and a
	// witness input also lacks the value its digest commits to.
	p.Inputs[0].WitnessUtxo = nil
	err = NewSigner(p, nil).SignInput(0, keys[0], 0)
	require.ErrorIs(t, err, psbt.ErrMissingUtxo)
	require.ErrorIs(t, err, transaction.ErrMissingPrevoutValue)

	_, err = NewSigner(p, nil).Digest(0, 0)
	require.ErrorIs(t, err, transaction.ErrMissingPrevoutValue)
}

// lyingSigner claims one key and signs with another.
type lyingSigner struct {
	claimed *crypto.KeyPair
	actual  *crypto.KeyPair
}

func (s *lyingSigner) PublicKey() []byte {
	return s.claimed.PublicKey()
}

func (s *lyingSigner) Sign(hash [32]byte, lowR bool) ([]byte, error) {
	return s.actual.Sign(hash, lowR)
}

func TestSignerVerifiesOutput(t *testing.T) {
	keys := testKeys(t, 2)
	p := wpkhPacket(t, keys[:1], 1)

	err := NewSigner(p, nil).SignInput(0, &lyingSigner{
		claimed: keys[0],
		actual:  keys[1],
	}, 0)

	var sigErr *psbt.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, 0, sigErr.InputIndex)
	require.ErrorIs(t, err, crypto.ErrSignatureVerificationFailed)
	assert.Empty(t, p.Inputs[0].PartialSigs)
}

func TestSignerLowR(t *testing.T) {
	key := testKeys(t, 1)[0]
	p := wpkhPacket(t, []*crypto.KeyPair{key}, 1)

	require.NoError(t, NewSigner(p, nil).WithLowR(true).SignInput(0, key, 0))
	sig, _ := p.Inputs[0].PartialSigs.Get(key.PublicKey())

	// DER: 0x30 len 0x02 rlen r ... A low r fits in 32 bytes without a
	// padding byte.
	assert.LessOrEqual(t, int(sig[3]), 32)
	assert.Less(t, sig[4], byte(0x80))
}

// flakySigner fails for one digest and answers the rest on its own
// goroutine.
type flakySigner struct {
	crypto.AsyncSigner
	failOn   [32]byte
	inFlight atomic.Int32
	peak     atomic.Int32
}

var errDeviceRefused = errors.New("device refused")

func (s *flakySigner) SignAsync(ctx context.Context, hash [32]byte,
	lowR bool) <-chan crypto.SignResult {

	n := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	results := make(chan crypto.SignResult, 1)
	go func() {
		defer close(results)

		res := crypto.SignResult{Err: errDeviceRefused}
		if hash != s.failOn {
			res = <-s.AsyncSigner.SignAsync(ctx, hash, lowR)
		}
		s.inFlight.Add(-1)
		results <- res
	}()
	return results
}

func TestSignAllInputsAsync(t *testing.T) {
	key := testKeys(t, 1)[0]
	keys := []*crypto.KeyPair{key, key, key, key}
	p := wpkhPacket(t, keys, 1)

	signer := NewSigner(p, nil)
	failOn, err := signer.Digest(2, script.SigHashAll)
	require.NoError(t, err)

	async := &flakySigner{
		AsyncSigner: crypto.NewAsyncSigner(key),
		failOn:      failOn,
	}
	signed, err := signer.SignAllInputsAsync(context.Background(), async, 0,
		2)
	require.ErrorIs(t, err, errDeviceRefused)

	var sigErr *psbt.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, 2, sigErr.InputIndex)

	assert.Equal(t, []int{0, 1, 3}, signed)
	assert.Empty(t, p.Inputs[2].PartialSigs)
	assert.LessOrEqual(t, async.peak.Load(), int32(2))

	for _, i := range signed {
		valid, err := NewValidator(p, nil).ValidateSignaturesOfInput(i, nil)
		require.NoError(t, err)
		assert.True(t, valid, "input %d", i)
	}

	// The synchronous and asynchronous paths store the same signatures.
	serial := wpkhPacket(t, keys, 1)
	_, err = NewSigner(serial, nil).SignAllInputs(key, 0)
	require.NoError(t, err)
	for _, i := range signed {
		assert.Equal(t, serial.Inputs[i].PartialSigs,
			p.Inputs[i].PartialSigs)
	}
}

func TestSignInputAsyncCancelled(t *testing.T) {
	key := testKeys(t, 1)[0]
	p := wpkhPacket(t, []*crypto.KeyPair{key}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSigner(p, nil).SignInputAsync(ctx, 0,
		crypto.NewAsyncSigner(key), 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Inputs[0].PartialSigs)

	require.NoError(t, NewSigner(p, nil).SignInputAsync(context.Background(),
		0, crypto.NewAsyncSigner(key), 0))
	assert.Len(t, p.Inputs[0].PartialSigs, 1)
}

func TestCombine(t *testing.T) {
	keys := testKeys(t, 3)
	multisig, err := payments.NewP2MS(2, pubKeys(keys), nil)
	require.NoError(t, err)
	p2wsh, err := payments.NewP2WSH(multisig, nil)
	require.NoError(t, err)

	base := newPacket(t, &InputSpec{
		Hash:          chainhash.Hash{0x05},
		WitnessUtxo:   &transaction.TxOut{Value: 20000, Script: p2wsh.Output},
		WitnessScript: multisig.Output,
	}, 19000)

	signedBy := func(i int) *psbt.Packet {
		p := base.Clone()
		require.NoError(t, NewSigner(p, nil).SignInput(0, keys[i], 0))
		return p
	}
	a, b, c := signedBy(0), signedBy(1), signedBy(2)
	a.Unknowns = []*psbt.Unknown{{Key: []byte{0xf1}, Value: []byte{1}}}
	b.Unknowns = []*psbt.Unknown{{Key: []byte{0xf0}, Value: []byte{2}}}

	ab, err := NewCombiner(a, b).Combine()
	require.NoError(t, err)
	ba, err := NewCombiner(b, a).Combine()
	require.NoError(t, err)
	assert.Equal(t, mustSerialize(t, ab), mustSerialize(t, ba))
	assert.Len(t, ab.Inputs[0].PartialSigs, 2)
	assert.Equal(t, []byte{0xf0}, ab.Unknowns[0].Key)

	// Inputs are untouched.
	assert.Len(t, a.Inputs[0].PartialSigs, 1)

	again, err := NewCombiner(ab, a, b, ab).Combine()
	require.NoError(t, err)
	assert.Equal(t, mustSerialize(t, ab), mustSerialize(t, again))

	abc, err := NewCombiner(ab, c).Combine()
	require.NoError(t, err)
	aBC, err := NewCombiner(a, b, c).Combine()
	require.NoError(t, err)
	assert.Equal(t, mustSerialize(t, abc), mustSerialize(t, aBC))
	assert.Len(t, abc.Inputs[0].PartialSigs, 3)

	// Three signatures on a 2-of-3: the finalizer uses the first two in key
	// order.
	require.NoError(t, NewFinalizer(abc, nil).FinalizeAllInputs())
	require.Len(t, abc.Inputs[0].FinalScriptWitness, 4)
	tx, err := NewExtractor(abc).Extract(false)
	require.NoError(t, err)
	verifyWithEngine(t, tx, []*transaction.TxOut{base.Inputs[0].WitnessUtxo})

	// A finalized copy absorbs a signed one without regaining signatures.
	merged, err := NewCombiner(abc, c).Combine()
	require.NoError(t, err)
	assert.True(t, merged.Inputs[0].IsFinalized())
	assert.Empty(t, merged.Inputs[0].PartialSigs)
	assert.Nil(t, merged.Inputs[0].WitnessScript)

	_, err = NewCombiner().Combine()
	require.ErrorIs(t, err, psbt.ErrInvalidState)
}

func TestCombineConflicts(t *testing.T) {
	keys := testKeys(t, 1)
	p := wpkhPacket(t, keys, 1)

	// Same key, different hash types: two valid but different signatures.
	all := p.Clone()
	require.NoError(t, NewSigner(all, nil).SignInput(0, keys[0],
		script.SigHashAll))
	none := p.Clone()
	require.NoError(t, NewSigner(none, nil).SignInput(0, keys[0],
		script.SigHashNone))
	_, err := NewCombiner(all, none).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)
	_, err = NewCombiner(none, all).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)

	other := p.Clone()
	other.Inputs[0].WitnessUtxo.Value++
	_, err = NewCombiner(p, other).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)

	unknownA := p.Clone()
	unknownA.Unknowns = []*psbt.Unknown{{Key: []byte{0xf0}, Value: []byte{1}}}
	unknownB := p.Clone()
	unknownB.Unknowns = []*psbt.Unknown{{Key: []byte{0xf0}, Value: []byte{2}}}
	_, err = NewCombiner(unknownA, unknownB).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)

	different := wpkhPacket(t, keys, 2)
	_, err = NewCombiner(p, different).Combine()
	require.ErrorIs(t, err, psbt.ErrIncompatibleTransactions)

	relocked := p.Clone()
	relocked.UnsignedTx.Locktime = 1
	_, err = NewCombiner(p, relocked).Combine()
	require.ErrorIs(t, err, psbt.ErrIncompatibleTransactions)
}

func TestCombineFinalizedCopyInAnyOrder(t *testing.T) {
	keys := testKeys(t, 2)
	multisig, err := payments.NewP2MS(1, pubKeys(keys), nil)
	require.NoError(t, err)
	p2sh, err := payments.NewP2SH(multisig, nil)
	require.NoError(t, err)

	base := newPacket(t, &InputSpec{
		Hash:         chainhash.Hash{0x06},
		WitnessUtxo:  &transaction.TxOut{Value: 20000, Script: p2sh.Output},
		RedeemScript: multisig.Output,
	}, 19000)

	signedBy := func(key *crypto.KeyPair,
		hashType script.SigHashType) *psbt.Packet {

		p := base.Clone()
		require.NoError(t, NewSigner(p, nil).SignInput(0, key, hashType))
		return p
	}

	// a and c hold different signatures by the same key; b is final.
	a := signedBy(keys[0], script.SigHashAll)
	c := signedBy(keys[0], script.SigHashAll|script.SigHashAnyoneCanPay)
	b := signedBy(keys[1], script.SigHashAll)
	require.NoError(t, NewFinalizer(b, nil).FinalizeInput(0))

	orders := [][]*psbt.Packet{
		{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a},
	}
	want := mustSerialize(t, b)
	for i, order := range orders {
		merged, err := NewCombiner(order...).Combine()
		require.NoError(t, err, "order %d", i)
		assert.True(t, merged.Inputs[0].IsFinalized(), "order %d", i)
		assert.Empty(t, merged.Inputs[0].PartialSigs, "order %d", i)
		assert.Equal(t, want, mustSerialize(t, merged), "order %d", i)
	}

	// Without the final copy the two signatures still clash.
	_, err = NewCombiner(a, c).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)
	_, err = NewCombiner(c, a).Combine()
	require.ErrorIs(t, err, psbt.ErrConflictingData)
}

func TestUpdater(t *testing.T) {
	keys := testKeys(t, 2)
	redeem, err := payments.NewP2MS(1, pubKeys(keys), nil)
	require.NoError(t, err)
	p2sh, err := payments.NewP2SH(redeem, nil)
	require.NoError(t, err)

	prevTx := transaction.New()
	prevTx.AddInput(chainhash.Hash{0x07}, 0, transaction.DefaultSequence, nil)
	prevTx.AddOutput([]byte{txscript.OP_RETURN}, 0)
	prevTx.AddOutput(p2sh.Output, 8000)

	// Start from a bare outpoint with a declared type and fill it in.
	p := NewCreator().Create()
	c := NewConstructor(p, nil)
	_, err = c.AddInput(&InputSpec{Hash: prevTx.TxHash(), Index: 1})
	require.NoError(t, err)
	_, err = c.AddOutput(p2sh.Output, 7000)
	require.NoError(t, err)

	signer := NewSigner(p, nil)
	err = signer.SignInput(0, keys[0], 0)
	require.ErrorIs(t, err, psbt.ErrMissingUtxo)
	require.False(t, errors.Is(err, transaction.ErrMissingPrevoutValue))

	u := NewUpdater(p, nil)
	require.NoError(t, u.SetScripts(0, nil, nil, "p2sh"))

	wrongTx := prevTx.Clone()
	wrongTx.Locktime = 9
	require.ErrorIs(t, u.SetUtxo(0, wrongTx, nil), psbt.ErrInvalidInput)
	assert.Nil(t, p.Inputs[0].NonWitnessUtxo)

	require.NoError(t, u.SetUtxo(0, prevTx, nil))
	assert.Equal(t, "p2sh", p.Inputs[0].ScriptType)

	// The redeem script must hash to the spent output.
	require.ErrorIs(t, u.SetScripts(0, p2sh.Output, nil, ""),
		psbt.ErrInvalidInput)
	require.NoError(t, u.SetScripts(0, redeem.Output, nil, ""))
	assert.Equal(t, "p2sh-p2ms", p.Inputs[0].ScriptType)

	require.ErrorIs(t, u.SetSighashType(0, 0x04), psbt.ErrInvalidInput)
	require.ErrorIs(t, u.SetScripts(3, nil, nil, ""),
		psbt.ErrIndexOutOfRange)

	require.NoError(t, u.SetOutputScripts(0, redeem.Output, nil))
	assert.Equal(t, redeem.Output, p.Outputs[0].RedeemScript)
	require.ErrorIs(t, u.SetOutputScripts(0, p2sh.Output, nil),
		psbt.ErrInvalidOutput)
	require.ErrorIs(t, u.SetOutputScripts(1, nil, nil),
		psbt.ErrIndexOutOfRange)
	checkRoundTrip(t, u.Finish())

	require.NoError(t, signer.SignInput(0, keys[1], 0))
	require.ErrorIs(t, u.SetScripts(0, redeem.Output, nil, ""),
		psbt.ErrSignaturesWouldBeInvalidated)

	require.NoError(t, NewFinalizer(p, nil).FinalizeAllInputs())
	tx, err := NewExtractor(p).Extract(false)
	require.NoError(t, err)
	verifyWithEngine(t, tx, []*transaction.TxOut{prevTx.Outputs[1]})

	fee, err := NewExtractor(p).Fee()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), fee)
}

func TestExtractor(t *testing.T) {
	keys := testKeys(t, 2)
	p := wpkhPacket(t, keys, 1)

	_, err := NewExtractor(p).Extract(false)
	require.ErrorIs(t, err, psbt.ErrNotFullyFinalized)

	_, err = NewSigner(p, nil).SignAllInputs(keys[0], 0)
	require.NoError(t, err)
	require.ErrorIs(t, NewFinalizer(p, nil).FinalizeAllInputs(),
		psbt.ErrCannotFinalize)
	assert.True(t, p.Inputs[0].IsFinalized())
	assert.False(t, p.Inputs[1].IsFinalized())

	_, err = NewExtractor(p).Extract(false)
	require.ErrorIs(t, err, psbt.ErrNotFullyFinalized)

	partial, err := NewExtractor(p).Extract(true)
	require.NoError(t, err)
	assert.Len(t, partial.Inputs[0].Witness, 2)
	assert.Empty(t, partial.Inputs[1].Witness)

	// The packet keeps its own copy of the final witness.
	partial.Inputs[0].Witness[0][0] ^= 0xff
	assert.NotEqual(t, partial.Inputs[0].Witness[0],
		p.Inputs[0].FinalScriptWitness[0])

	fee, err := NewExtractor(p).Fee()
	require.NoError(t, err)
	assert.Equal(t, int64(19000), fee)

	_, err = NewExtractor(NewCreator().Create()).Extract(false)
	require.ErrorIs(t, err, psbt.ErrNotFullyFinalized)

	p.Inputs[1].WitnessUtxo = nil
	_, err = NewExtractor(p).Fee()
	require.ErrorIs(t, err, psbt.ErrMissingUtxo)
}

func TestDigestMatchesTransaction(t *testing.T) {
	key := testKeys(t, 1)[0]
	p := wpkhPacket(t, []*crypto.KeyPair{key}, 1)

	digest, err := NewSigner(p, nil).Digest(0, script.SigHashAll)
	require.NoError(t, err)

	p2pkh, err := payments.NewP2PKH(key.PublicKey(), nil)
	require.NoError(t, err)
	expected, err := p.UnsignedTx.HashForWitnessV0(0, p2pkh.Output, 10000,
		script.SigHashAll)
	require.NoError(t, err)
	assert.Equal(t, expected, digest)

	_, err = NewSigner(p, nil).Digest(4, script.SigHashAll)
	require.ErrorIs(t, err, psbt.ErrIndexOutOfRange)
}

func mustSerialize(t *testing.T, p *psbt.Packet) []byte {
	t.Helper()
	b, err := p.Serialize()
	require.NoError(t, err)
	return b
}
