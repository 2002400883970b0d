package script

import (
	"fmt"
	"strings"
)

// SigHashType selects which parts of a transaction a signature commits to.
// The low five bits hold the base type; 0x80 is the ANYONECANPAY modifier.
type SigHashType uint32

const (
	SigHashAll          SigHashType = 0x01
	SigHashNone         SigHashType = 0x02
	SigHashSingle       SigHashType = 0x03
	SigHashAnyoneCanPay SigHashType = 0x80

	sigHashMask = 0x1f
)

// Base returns the hash type without the ANYONECANPAY modifier.
func (t SigHashType) Base() SigHashType {
	return t & sigHashMask
}

// AnyoneCanPay reports whether only the signed input is committed to.
func (t SigHashType) AnyoneCanPay() bool {
	return t&SigHashAnyoneCanPay != 0
}

// IsDefined reports whether t is one of the six standard hash types.
func (t SigHashType) IsDefined() bool {
	base := t &^ SigHashAnyoneCanPay
	return base >= SigHashAll && base <= SigHashSingle
}

func (t SigHashType) String() string {
	var name string
	switch t.Base() {
	case SigHashAll:
		name = "ALL"
	case SigHashNone:
		name = "NONE"
	case SigHashSingle:
		name = "SINGLE"
	default:
		return fmt.Sprintf("0x%02x", uint32(t))
	}
	if t.AnyoneCanPay() {
		name += "|ANYONECANPAY"
	}
	return name
}

// ParseSigHashType accepts names such as "ALL" or "SINGLE|ANYONECANPAY".
// Exactly one base type must be named; ANYONECANPAY may be added to it.
func ParseSigHashType(s string) (SigHashType, error) {
	var base, modifier SigHashType
	for _, part := range strings.Split(strings.ToUpper(s), "|") {
		var named SigHashType
		switch strings.TrimPrefix(strings.TrimSpace(part), "SIGHASH_") {
		case "ALL":
			named = SigHashAll
		case "NONE":
			named = SigHashNone
		case "SINGLE":
			named = SigHashSingle
		case "ANYONECANPAY":
			modifier = SigHashAnyoneCanPay
			continue
		default:
			return 0, fmt.Errorf("unknown sighash type %q", part)
		}
		if base != 0 {
			return 0, fmt.Errorf("sighash type %q has more than one "+
				"base type", s)
		}
		base = named
	}
	if base == 0 {
		return 0, fmt.Errorf("sighash type %q has no base type", s)
	}
	return base | modifier, nil
}
