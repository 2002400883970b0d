// Package bip21 implements the BIP 21 payment request URI format.
//
// A payment request names one recipient address and, optionally, an amount
// and text for the payer:
//
//	bitcoin:<address>?amount=<BTC>&label=<label>&message=<message>
//
// Parameters prefixed with "req-" are mandatory for the payer to
// understand; a request carrying one this package does not know is
// rejected. Other unknown parameters are kept in Extra.
//
// See: https://github.com/bitcoin/bips/blob/master/bip-0021.mediawiki
package bip21

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/suffix-labs/btc-psbt/pkg/network"
	"github.com/suffix-labs/btc-psbt/pkg/payments"
)

// Scheme is the URI scheme of payment requests.
const Scheme = "bitcoin"

// ErrInvalidURI is matched by every error Parse returns.
var ErrInvalidURI = errors.New("invalid payment URI")

// PaymentRequest is a parsed BIP 21 URI.
type PaymentRequest struct {
	Address string          // Recipient address
	Amount  *btcutil.Amount // Requested amount, nil if the payer chooses
	Label   string          // Label for the recipient
	Message string          // Message describing the payment
	Extra   url.Values      // Optional parameters not interpreted here
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidURI, fmt.Sprintf(format, args...))
}

// Parse parses a payment request URI and checks that the address belongs
// to net. The scheme is matched case-insensitively and may be omitted.
//
// Example:
//
//	req, err := bip21.Parse("bitcoin:1cMh228HTCiwS8ZsaakH8A8wze1JR5ZsP"+
//		"?amount=0.00012", network.Bitcoin)
func Parse(uri string, net *network.Params) (*PaymentRequest, error) {
	if len(uri) > len(Scheme) && strings.EqualFold(uri[:len(Scheme)+1],
		Scheme+":") {

		uri = uri[len(Scheme)+1:]
	}

	address, query, _ := strings.Cut(uri, "?")
	if address == "" {
		return nil, invalid("missing address")
	}
	if _, err := payments.FromAddress(address, net); err != nil {
		return nil, fmt.Errorf("%w: address %q: %w", ErrInvalidURI, address,
			err)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, invalid("query: %v", err)
	}

	req := &PaymentRequest{Address: address, Extra: url.Values{}}
	for key, values := range params {
		if len(values) != 1 {
			return nil, invalid("parameter %q given %d times", key,
				len(values))
		}
		value := values[0]

		switch key {
		case "amount":
			amount, err := parseAmount(value)
			if err != nil {
				return nil, err
			}
			req.Amount = &amount

		case "label":
			req.Label = value

		case "message":
			req.Message = value

		default:
			if strings.HasPrefix(key, "req-") {
				return nil, invalid("unsupported required parameter %q",
					key)
			}
			req.Extra.Set(key, value)
		}
	}

	return req, nil
}

// parseAmount parses a decimal BTC amount with at most eight fractional
// digits. Exponents and signs are rejected.
func parseAmount(s string) (btcutil.Amount, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, invalid("empty amount")
	}
	if len(frac) > 8 {
		return 0, invalid("amount %q has more than 8 decimals", s)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, invalid("amount %q is not a decimal number", s)
		}
	}

	btc, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalid("amount %q: %v", s, err)
	}
	amount, err := btcutil.NewAmount(btc)
	if err != nil {
		return 0, invalid("amount %q: %v", s, err)
	}
	if amount > btcutil.MaxSatoshi {
		return 0, invalid("amount %q exceeds the money supply", s)
	}
	return amount, nil
}

// OutputScript returns the scriptPubKey paying the request's address.
func (req *PaymentRequest) OutputScript(net *network.Params) ([]byte,
	error) {

	return payments.ToOutputScript(req.Address, net)
}

// Encode formats req as a URI. Parse(req.Encode()) returns an equal
// request.
func (req *PaymentRequest) Encode() string {
	uri := Scheme + ":" + req.Address

	params := url.Values{}
	if req.Amount != nil {
		params.Set("amount", formatAmount(*req.Amount))
	}
	if req.Label != "" {
		params.Set("label", req.Label)
	}
	if req.Message != "" {
		params.Set("message", req.Message)
	}
	for key, values := range req.Extra {
		for _, v := range values {
			params.Add(key, v)
		}
	}

	if len(params) > 0 {
		uri += "?" + encodeQuery(params)
	}
	return uri
}

// encodeQuery is url.Values.Encode with spaces written as %20, which
// wallets read more reliably than '+'.
func encodeQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range params[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(strings.ReplaceAll(url.QueryEscape(v), "+",
				"%20"))
		}
	}
	return sb.String()
}

// formatAmount writes an amount in BTC without trailing zeros.
func formatAmount(amount btcutil.Amount) string {
	s := strconv.FormatFloat(amount.ToBTC(), 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
