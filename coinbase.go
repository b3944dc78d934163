package main

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// CoinbaseInfo summarizes the fields derived from decoding a pool's
// assembled coinbase transaction: the block height it claims via BIP34,
// the operator tag pulled out of the scriptSig, and the sum of all output
// values (in satoshis).
type CoinbaseInfo struct {
	Height   uint32
	Tag      string
	ValueSum int64
}

// placeholderCoinbaseInfo degrades a job whose coinbase bytes did not parse
// as a valid transaction, without dropping the update itself.
func placeholderCoinbaseInfo() CoinbaseInfo {
	return CoinbaseInfo{Height: 0, Tag: "<decode error>", ValueSum: 0}
}

// assembleCoinbase concatenates the four pieces a notify job describes a
// pool's coinbase transaction with: coinb1, extranonce1, a zero-filled
// extranonce2 of the negotiated size, and coinb2.
func assembleCoinbase(coinb1, extranonce1 []byte, extranonce2Size int, coinb2 []byte) []byte {
	out := make([]byte, 0, len(coinb1)+len(extranonce1)+extranonce2Size+len(coinb2))
	out = append(out, coinb1...)
	out = append(out, extranonce1...)
	out = append(out, make([]byte, extranonce2Size)...)
	out = append(out, coinb2...)
	return out
}

// decodeCoinbase parses raw assembled coinbase bytes into a wire.MsgTx and
// derives CoinbaseInfo from its first input's scriptSig and its outputs.
// Malformed bytes never propagate an error to the caller; they yield
// placeholderCoinbaseInfo so the surrounding JobUpdate is still usable.
func decodeCoinbase(raw []byte) CoinbaseInfo {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return placeholderCoinbaseInfo()
	}
	if len(tx.TxIn) == 0 {
		return placeholderCoinbaseInfo()
	}

	script := tx.TxIn[0].SignatureScript
	height, ok := bip34CoinbaseBlockHeight(script)
	if !ok {
		height = 0
	}
	tag := extractCoinbaseTag(script)

	var sum int64
	for _, out := range tx.TxOut {
		sum += out.Value
	}

	return CoinbaseInfo{Height: height, Tag: tag, ValueSum: sum}
}
