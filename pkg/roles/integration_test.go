package roles

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/script"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

const (
	// Spends 61d520cc...349d:0 (15000 sat) to a single p2pkh output of
	// 12000 sat.
	oneToOneTxHex = "01000000019d344070eac3fe6e394a16d06d7704a7d5c0a10eb2a2" +
		"c16bc98842b7cc20d561000000006b48304502210088828c0bdfcdca68d8ae0c" +
		"aeb6ec62cd3fd5f9b2191848edae33feb533df35d302202e0beadd35e17e7f83" +
		"a733f5277028a9b453d525553e3f5d2d7a7aa8010a81d60121029f50f51d63b3" +
		"45039a290c94bffd3180c99ed659ff6ea6b1242bca47eb93b59fffffffff01e0" +
		"2e0000000000001976a91406afd46bcdfd22ef94ac122aa11f241244a37ecc88" +
		"ac00000000"

	// Alice and Bob each spend one p2pkh output to two p2pkh outputs.
	twoToTwoTxHex = "01000000024c94e48a870b85f41228d33cf25213dfcc8dd796e72" +
		"11ed6b1f9a014809dbbb5060000006a473044022041450c258ce7cac7da97316" +
		"bf2ea1ce66d88967c4df94f3e91f4c2a30f5d08cb02203674d516e6bb2b0afd0" +
		"84c3551614bd9cec3c2945231245e891b145f2d6951f0012103e05ce435e462e" +
		"c503143305feb6c00e06a3ad52fbf939e85c65f3a765bb7baacffffffff3077d" +
		"9de049574c3af9bc9c09a7c9db80f2d94caaf63988c9166249b955e867d00000" +
		"0006b483045022100aeb5f1332c79c446d3f906e4499b2e678500580a3f90329" +
		"edf1ba502eec9402e022072c8b863f8c8d6c26f4c691ac9a6610aa4200edc697" +
		"306648ee844cfbc089d7a012103df7940ee7cddd2f97763f67e1fb13488da3fb" +
		"dd7f9c68ec5ef0864074745a289ffffffff0220bf0200000000001976a9147dd" +
		"65592d0ab2fe0d0257d571abf032cd9db93dc88ac10980200000000001976a91" +
		"4c42e7ef92fdb603af844d064faad95db9bcdfd3d88ac00000000"
)

// TestP2PKHEndToEnd runs every role on a single-input transaction and
// checks the result byte for byte.
func TestP2PKHEndToEnd(t *testing.T) {
	key := keyFromWIF(t, "L1uyy5qTuGrVXrmrsvHWHgVzW9kKdrp27wBC7Vs6nZDTF2BRUVwy")
	spent := p2pkhOutput(t, key, 15000)

	p := NewCreator().WithVersion(1).Create()
	checkRoundTrip(t, p)

	constructor := NewConstructor(p, network.Bitcoin)
	_, err := constructor.AddInput(&InputSpec{
		Hash: mustHash(t, "61d520ccb74288c96bc1a2b20ea1c0d5a704776dd0164a3"+
			"96efec3ea7040349d"),
		Index:       0,
		WitnessUtxo: spent,
	})
	require.NoError(t, err)
	_, err = constructor.AddOutputAddress(
		"1cMh228HTCiwS8ZsaakH8A8wze1JR5ZsP", 12000)
	require.NoError(t, err)
	p = constructor.Finish()

	assert.Equal(t, "p2pkh", p.Inputs[0].ScriptType)
	checkRoundTrip(t, p)

	signer := NewSigner(p, network.Bitcoin)
	require.NoError(t, signer.SignInput(0, key, 0))
	p = signer.Finish()
	checkRoundTrip(t, p)

	valid, err := NewValidator(p, nil).ValidateSignaturesOfInput(0, nil)
	require.NoError(t, err)
	assert.True(t, valid)

	finalizer := NewFinalizer(p, network.Bitcoin)
	require.NoError(t, finalizer.FinalizeAllInputs())
	p = finalizer.Finish()
	checkRoundTrip(t, p)

	assert.Empty(t, p.Inputs[0].PartialSigs)
	assert.True(t, p.IsComplete())

	extractor := NewExtractor(p)
	tx, err := extractor.Extract(false)
	require.NoError(t, err)
	assert.Equal(t, oneToOneTxHex, tx.ToHex())

	fee, err := extractor.Fee()
	require.NoError(t, err)
	assert.Equal(t, int64(3000), fee)

	verifyWithEngine(t, tx, []*transaction.TxOut{spent})
}

// TestTwoPartiesCombine has Alice and Bob sign their own inputs on separate
// copies that only meet through the serialized form.
func TestTwoPartiesCombine(t *testing.T) {
	alice := keyFromWIF(t, "L1Knwj9W3qK3qMKdTvmg3VfzUs3ij2LETTFhxza9LfD5dngnoLG1")
	bob := keyFromWIF(t, "KwcN2pT3wnRAurhy7qMczzbkpY5nXMW2ubh696UBc1bcwctTx26z")
	spent := []*transaction.TxOut{
		p2pkhOutput(t, alice, 200000),
		p2pkhOutput(t, bob, 200000),
	}

	p := NewCreator().WithVersion(1).Create()
	constructor := NewConstructor(p, nil)
	_, err := constructor.AddInput(&InputSpec{
		Hash: mustHash(t, "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd328"+
			"12f4850b878ae4944c"),
		Index:       6,
		WitnessUtxo: spent[0],
	})
	require.NoError(t, err)
	_, err = constructor.AddInput(&InputSpec{
		Hash: mustHash(t, "7d865e959b2466918c9863afca942d0fb89d7c9ac0c99b"+
			"afc3749504ded97730"),
		Index:       0,
		WitnessUtxo: spent[1],
	})
	require.NoError(t, err)
	_, err = constructor.AddOutput(mustHex(t, "76a9147dd65592d0ab2fe0d0257d"+
		"571abf032cd9db93dc88ac"), 180000)
	require.NoError(t, err)
	_, err = constructor.AddOutput(mustHex(t, "76a914c42e7ef92fdb603af844d0"+
		"64faad95db9bcdfd3d88ac"), 170000)
	require.NoError(t, err)

	shared, err := p.B64Encode()
	require.NoError(t, err)

	signed := make([]*psbt.Packet, 2)
	for i, key := range []*crypto.KeyPair{alice, bob} {
		party, err := psbt.NewFromBase64(shared)
		require.NoError(t, err)

		indexes, err := NewSigner(party, nil).SignAllInputs(key, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{i}, indexes)

		signed[i] = roundTrip(t, party)
	}

	combined, err := NewCombiner(signed[1], signed[0]).Combine()
	require.NoError(t, err)
	require.NoError(t, NewFinalizer(combined, nil).FinalizeAllInputs())

	tx, err := NewExtractor(combined).Extract(false)
	require.NoError(t, err)
	assert.Equal(t, twoToTwoTxHex, tx.ToHex())

	fee, err := NewExtractor(combined).Fee()
	require.NoError(t, err)
	assert.Equal(t, int64(50000), fee)

	verifyWithEngine(t, tx, spent)
}

// TestP2SHMultisigAnyOrder signs a 2-of-4 p2sh multisig input with every
// ordered pair of distinct holders.
func TestP2SHMultisigAnyOrder(t *testing.T) {
	keys := testKeys(t, 4)
	redeem, err := payments.NewP2MS(2, pubKeys(keys), nil)
	require.NoError(t, err)
	p2sh, err := payments.NewP2SH(redeem, nil)
	require.NoError(t, err)

	spent := &transaction.TxOut{Value: 100000, Script: p2sh.Output}
	base := newPacket(t, &InputSpec{
		Hash:         chainhash.Hash{0x01},
		WitnessUtxo:  spent,
		RedeemScript: redeem.Output,
	}, 90000)
	assert.Equal(t, "p2sh-p2ms", base.Inputs[0].ScriptType)

	for i := range keys {
		for j := range keys {
			if i == j {
				continue
			}
			t.Run(fmt.Sprintf("%d then %d", i, j), func(t *testing.T) {
				p := base.Clone()
				signer := NewSigner(p, nil)
				require.NoError(t, signer.SignInput(0, keys[i], 0))

				err := NewFinalizer(p, nil).FinalizeInput(0)
				require.ErrorIs(t, err, psbt.ErrCannotFinalize)
				require.ErrorIs(t, err, payments.ErrInsufficientSignatures)
				assert.False(t, p.Inputs[0].IsFinalized())

				require.NoError(t, signer.SignInput(0, keys[j], 0))
				require.NoError(t, NewFinalizer(p, nil).FinalizeInput(0))

				items, err := script.PushedData(p.Inputs[0].FinalScriptSig)
				require.NoError(t, err)
				require.Len(t, items, 4)
				assert.Empty(t, items[0])
				assert.Equal(t, redeem.Output, items[3])

				tx, err := NewExtractor(p).Extract(false)
				require.NoError(t, err)
				verifyWithEngine(t, tx, []*transaction.TxOut{spent})
				verifyLegacySigs(t, tx, redeem, items[1:3])
			})
		}
	}
}

// TestP2WPKH checks the witness layout and that the signature commits to
// the spent value.
func TestP2WPKH(t *testing.T) {
	key := testKeys(t, 1)[0]
	p2wpkh, err := payments.NewP2WPKH(key.PublicKey(), nil)
	require.NoError(t, err)

	spent := &transaction.TxOut{Value: 50000, Script: p2wpkh.Output}
	p := newPacket(t, &InputSpec{
		Hash:        chainhash.Hash{0x02},
		WitnessUtxo: spent,
	}, 49000)
	require.NoError(t, NewSigner(p, nil).SignInput(0, key, 0))

	validator := NewValidator(p, nil)
	valid, err := validator.ValidateSignaturesOfInput(0, key.PublicKey())
	require.NoError(t, err)
	assert.True(t, valid)

	// Changing the declared value without re-signing breaks the signature.
	tampered := p.Clone()
	tampered.Inputs[0].WitnessUtxo.Value++
	valid, err = NewValidator(tampered, nil).ValidateSignaturesOfInput(0, nil)
	require.NoError(t, err)
	assert.False(t, valid)
	require.ErrorIs(t, NewFinalizer(tampered, nil).FinalizeInput(0),
		psbt.ErrCannotFinalize)

	require.NoError(t, NewFinalizer(p, nil).FinalizeAllInputs())
	in := p.Inputs[0]
	assert.Nil(t, in.FinalScriptSig)
	require.Len(t, in.FinalScriptWitness, 2)
	assert.Equal(t, key.PublicKey(), in.FinalScriptWitness[1])

	tx, err := NewExtractor(p).Extract(false)
	require.NoError(t, err)
	assert.True(t, tx.HasWitnesses())
	assert.Empty(t, tx.Inputs[0].Script)
	verifyWithEngine(t, tx, []*transaction.TxOut{spent})
}

// TestNestedWitnessTemplates covers p2sh-p2wpkh and p2sh-p2wsh-p2ms, with
// the full previous transaction as the only source of the spent output.
func TestNestedWitnessTemplates(t *testing.T) {
	keys := testKeys(t, 3)

	p2wpkh, err := payments.NewP2WPKH(keys[0].PublicKey(), nil)
	require.NoError(t, err)
	nestedKey, err := payments.NewP2SH(p2wpkh, nil)
	require.NoError(t, err)

	multisig, err := payments.NewP2MS(2, pubKeys(keys), nil)
	require.NoError(t, err)
	p2wsh, err := payments.NewP2WSH(multisig, nil)
	require.NoError(t, err)
	nestedMultisig, err := payments.NewP2SH(p2wsh, nil)
	require.NoError(t, err)

	prevTx := transaction.New()
	prevTx.AddInput(chainhash.Hash{0x03}, 0, transaction.DefaultSequence, nil)
	prevTx.AddOutput(nestedKey.Output, 30000)
	prevTx.AddOutput(nestedMultisig.Output, 70000)

	p := NewCreator().Create()
	constructor := NewConstructor(p, nil)
	_, err = constructor.AddInput(&InputSpec{
		Hash:           prevTx.TxHash(),
		Index:          0,
		NonWitnessUtxo: prevTx,
		RedeemScript:   p2wpkh.Output,
	})
	require.NoError(t, err)
	_, err = constructor.AddInput(&InputSpec{
		Hash:           prevTx.TxHash(),
		Index:          1,
		NonWitnessUtxo: prevTx,
		RedeemScript:   p2wsh.Output,
		WitnessScript:  multisig.Output,
		ScriptType:     "p2sh-p2wsh-p2ms",
	})
	require.NoError(t, err)
	_, err = constructor.AddOutput(nestedKey.Output, 99000)
	require.NoError(t, err)

	assert.Equal(t, "p2sh-p2wpkh", p.Inputs[0].ScriptType)

	signer := NewSigner(p, nil)
	indexes, err := signer.SignAllInputs(keys[0], 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indexes)
	require.NoError(t, signer.SignInput(1, keys[2], 0))
	checkRoundTrip(t, p)

	require.NoError(t, NewFinalizer(p, nil).FinalizeAllInputs())
	tx, err := NewExtractor(p).Extract(false)
	require.NoError(t, err)

	// The p2sh scriptSig only pushes the witness program.
	items, err := script.PushedData(tx.Inputs[1].Script)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{p2wsh.Output}, items)
	require.Len(t, tx.Inputs[1].Witness, 4)
	assert.Equal(t, multisig.Output, tx.Inputs[1].Witness[3])

	verifyWithEngine(t, tx, prevTx.Outputs)
}

// checkRoundTrip verifies that a packet survives serialization unchanged.
func checkRoundTrip(t *testing.T, p *psbt.Packet) {
	t.Helper()

	bytes1, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := psbt.Parse(bytes1)
	require.NoError(t, err)

	bytes2, err := parsed.Serialize()
	require.NoError(t, err)
	require.Equal(t, bytes1, bytes2, "round-trip serialization mismatch")
}

// roundTrip returns p after a trip through base64.
func roundTrip(t *testing.T, p *psbt.Packet) *psbt.Packet {
	t.Helper()

	b64, err := p.B64Encode()
	require.NoError(t, err)
	decoded, err := psbt.NewFromBase64(b64)
	require.NoError(t, err)
	return decoded
}

// newPacket builds a one-input, one-output packet paying value back to the
// spent script.
func newPacket(t *testing.T, spec *InputSpec, value int64) *psbt.Packet {
	t.Helper()

	p := NewCreator().Create()
	constructor := NewConstructor(p, nil)
	_, err := constructor.AddInput(spec)
	require.NoError(t, err)
	_, err = constructor.AddOutput(spec.WitnessUtxo.Script, value)
	require.NoError(t, err)
	return constructor.Finish()
}

// verifyWithEngine executes every input of tx with btcd's script engine.
func verifyWithEngine(t *testing.T, tx *transaction.Transaction,
	spent []*transaction.TxOut) {

	t.Helper()

	msgTx := wire.NewMsgTx(1)
	require.NoError(t, msgTx.Deserialize(bytes.NewReader(tx.Serialize())))
	require.Len(t, spent, len(msgTx.TxIn))

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(spent))
	for i, txIn := range msgTx.TxIn {
		prevOuts[txIn.PreviousOutPoint] = wire.NewTxOut(spent[i].Value,
			spent[i].Script)
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	for i := range msgTx.TxIn {
		vm, err := txscript.NewEngine(spent[i].Script, msgTx, i,
			txscript.StandardVerifyFlags, nil, sigHashes, spent[i].Value,
			fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

// verifyLegacySigs checks each signature against the recomputed legacy
// digest and the multisig keys, independently of the script engine.
func verifyLegacySigs(t *testing.T, tx *transaction.Transaction,
	redeem *payments.Payment, sigs [][]byte) {

	t.Helper()

	for _, sig := range sigs {
		found := false
		for _, pubKey := range redeem.Pubkeys {
			valid, err := tx.VerifyInputSignature(transaction.SigHashInput{
				Index:      0,
				ScriptCode: redeem.Output,
			}, pubKey, sig)
			require.NoError(t, err)
			found = found || valid
		}
		assert.True(t, found, "signature %x", sig)
	}
}

func keyFromWIF(t *testing.T, wif string) *crypto.KeyPair {
	t.Helper()
	key, err := crypto.FromWIF(wif)
	require.NoError(t, err)
	return key
}

// testKeys derives n keys from the scalars 1..n.
func testKeys(t *testing.T, n int) []*crypto.KeyPair {
	t.Helper()
	keys := make([]*crypto.KeyPair, n)
	for i := range keys {
		scalar := make([]byte, 32)
		scalar[31] = byte(i + 1)
		key, err := crypto.FromPrivateKey(scalar)
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

func pubKeys(keys []*crypto.KeyPair) [][]byte {
	pubs := make([][]byte, len(keys))
	for i, key := range keys {
		pubs[i] = key.PublicKey()
	}
	return pubs
}

func p2pkhOutput(t *testing.T, key *crypto.KeyPair,
	value int64) *transaction.TxOut {

	t.Helper()
	p, err := payments.NewP2PKH(key.PublicKey(), nil)
	require.NoError(t, err)
	return &transaction.TxOut{Value: value, Script: p.Output}
}

func mustHash(t *testing.T, s string) chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHashFromStr(s)
	require.NoError(t, err)
	return *h
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
