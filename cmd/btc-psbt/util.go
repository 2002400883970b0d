package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// readPacket returns value, or the trimmed contents of stdin when value is
// empty.
func readPacket(value string) (string, error) {
	if value != "" {
		return value, nil
	}

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("error reading PSBT from stdin: %v", err)
	}
	packet := strings.TrimSpace(string(content))
	if packet == "" {
		return "", fmt.Errorf("no PSBT given")
	}
	return packet, nil
}

// txidOf returns the display txid of a raw transaction.
func txidOf(raw string) (string, error) {
	tx, err := transaction.FromHex(raw)
	if err != nil {
		return "", fmt.Errorf("invalid previous transaction: %v", err)
	}
	return tx.TxID(), nil
}
