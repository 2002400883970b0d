package builder

import "github.com/suffix-labs/btc-psbt/pkg/network"

type options struct {
	net                *network.Params
	version            int32
	lockTime           uint32
	lowR               bool
	maxSignConcurrency int
}

func defaultOptions() options {
	return options{
		net:     network.Bitcoin,
		version: 2,
	}
}

// Option configures a Builder.
type Option func(*options)

// WithNetwork selects the network used to decode addresses and resolve
// scripts. The default is bitcoin mainnet.
func WithNetwork(net *network.Params) Option {
	return func(o *options) {
		if net != nil {
			o.net = net
		}
	}
}

// WithVersion sets the transaction version of a new builder. It has no
// effect on builders decoded from an existing packet.
func WithVersion(version int32) Option {
	return func(o *options) {
		o.version = version
	}
}

// WithLockTime sets nLockTime of a new builder.
func WithLockTime(lockTime uint32) Option {
	return func(o *options) {
		o.lockTime = lockTime
	}
}

// WithLowR makes every signer grind for a low R value.
func WithLowR(lowR bool) Option {
	return func(o *options) {
		o.lowR = lowR
	}
}

// WithMaxSignConcurrency caps the number of outstanding asynchronous
// signing requests in SignAllInputsAsync. Zero, the default, means one
// request per input.
func WithMaxSignConcurrency(n int) Option {
	return func(o *options) {
		o.maxSignConcurrency = n
	}
}
