package crypto

import "context"

// Signer produces signatures synchronously. KeyPair implements it; hardware
// or remote signers can too.
type Signer interface {
	// PublicKey returns the serialized public key the signatures verify
	// against.
	PublicKey() []byte

	// Sign returns a 64-byte r||s signature over hash.
	Sign(hash [32]byte, lowR bool) ([]byte, error)
}

// SignResult is delivered by an AsyncSigner once signing completes.
type SignResult struct {
	Signature []byte
	Err       error
}

// AsyncSigner produces signatures without blocking the caller. The returned
// channel receives exactly one result and is then closed. Implementations
// should honour ctx cancellation by delivering ctx.Err().
type AsyncSigner interface {
	PublicKey() []byte
	SignAsync(ctx context.Context, hash [32]byte, lowR bool) <-chan SignResult
}

// asyncAdapter runs a synchronous Signer on its own goroutine.
type asyncAdapter struct {
	signer Signer
}

// NewAsyncSigner exposes a synchronous Signer through the asynchronous
// interface.
func NewAsyncSigner(s Signer) AsyncSigner {
	return &asyncAdapter{signer: s}
}

func (a *asyncAdapter) PublicKey() []byte {
	return a.signer.PublicKey()
}

func (a *asyncAdapter) SignAsync(ctx context.Context, hash [32]byte,
	lowR bool) <-chan SignResult {

	results := make(chan SignResult, 1)
	go func() {
		defer close(results)

		if err := ctx.Err(); err != nil {
			results <- SignResult{Err: err}
			return
		}
		sig, err := a.signer.Sign(hash, lowR)
		results <- SignResult{Signature: sig, Err: err}
	}()
	return results
}

// AwaitSignature waits for a single result from signer, returning early if
// ctx is done first.
func AwaitSignature(ctx context.Context, signer AsyncSigner, hash [32]byte,
	lowR bool) ([]byte, error) {

	select {
	case res, ok := <-signer.SignAsync(ctx, hash, lowR):
		if !ok {
			return nil, cryptoErr(ErrInvalidSignature,
				"signer closed without a result")
		}
		return res.Signature, res.Err

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
