package main

import (
	"encoding/json"
	"errors"
)

var (
	errShortSubscribeResult    = errors.New("subscribe result has fewer than 2 elements")
	errNegativeExtranonce2Size = errors.New("negative extranonce2_size")
	errShortNotifyParams       = errors.New("notify params has fewer than 9 elements")
	errPrevHashLength          = errors.New("prev_hash is not 32 bytes")
	errHexUint32Length         = errors.New("hex value does not fit in 4 bytes")
)

// StratumRequest is an outbound (or inbound, for notifications) JSON-RPC
// request: {"id": ..., "method": ..., "params": [...]}. ID is nil for
// server-initiated notifications.
type StratumRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// StratumEnvelope is decoded first to distinguish a response (has "result"
// or non-null "error" and no "method") from a server-initiated request
// (has "method").
type StratumEnvelope struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// isRequest reports whether this envelope carries a method, i.e. is a
// request or notification rather than a response to one of ours.
func (e StratumEnvelope) isRequest() bool {
	return e.Method != ""
}

// subscribeResult captures the two shapes seen in the wild for a
// mining.subscribe response result array: either
//
//	[[[subscription-tuples...]], extranonce1, extranonce2_size]
//
// or a flatter
//
//	[extranonce1, extranonce2_size]
//
// when the subscription-details element is omitted. Both are accepted;
// only the trailing extranonce1/extranonce2_size pair is load-bearing.
func parseSubscribeResult(raw json.RawMessage) (extranonce1 []byte, extranonce2Size int, err error) {
	var arr []json.RawMessage
	if err := fastJSONUnmarshal(raw, &arr); err != nil {
		return nil, 0, &ParseError{Context: "subscribe_result", Err: err}
	}
	if len(arr) < 2 {
		return nil, 0, &ParseError{Context: "subscribe_result", Err: errShortSubscribeResult}
	}

	var e1Hex string
	if err := fastJSONUnmarshal(arr[len(arr)-2], &e1Hex); err != nil {
		return nil, 0, &ParseError{Context: "subscribe_result.extranonce1", Err: err}
	}
	e1, err := decodeHex(e1Hex)
	if err != nil {
		return nil, 0, err
	}

	var e2Size int
	if err := fastJSONUnmarshal(arr[len(arr)-1], &e2Size); err != nil {
		return nil, 0, &ParseError{Context: "subscribe_result.extranonce2_size", Err: err}
	}
	if e2Size < 0 {
		return nil, 0, &ParseError{Context: "subscribe_result.extranonce2_size", Err: errNegativeExtranonce2Size}
	}

	return e1, e2Size, nil
}

// parseNotifyParams unpacks a mining.notify positional params array into a
// NotifyPayload. The params order is fixed by the Stratum V1 grammar:
// job_id, prev_hash, coinb1, coinb2, merkle_branch, version, nbits, ntime,
// clean_jobs.
func parseNotifyParams(raw json.RawMessage) (NotifyPayload, error) {
	var p [9]json.RawMessage
	var arr []json.RawMessage
	if err := fastJSONUnmarshal(raw, &arr); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify_params", Err: err}
	}
	if len(arr) < 9 {
		return NotifyPayload{}, &ParseError{Context: "notify_params", Err: errShortNotifyParams}
	}
	copy(p[:], arr)

	var jobID, prevHashHex, cb1Hex, cb2Hex, versionHex, bitsHex, timeHex string
	var merkleHex []string
	var cleanJobs bool

	if err := fastJSONUnmarshal(p[0], &jobID); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.job_id", Err: err}
	}
	if err := fastJSONUnmarshal(p[1], &prevHashHex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.prev_hash", Err: err}
	}
	if err := fastJSONUnmarshal(p[2], &cb1Hex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.coin_base1", Err: err}
	}
	if err := fastJSONUnmarshal(p[3], &cb2Hex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.coin_base2", Err: err}
	}
	if err := fastJSONUnmarshal(p[4], &merkleHex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.merkle_branch", Err: err}
	}
	if err := fastJSONUnmarshal(p[5], &versionHex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.version", Err: err}
	}
	if err := fastJSONUnmarshal(p[6], &bitsHex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.bits", Err: err}
	}
	if err := fastJSONUnmarshal(p[7], &timeHex); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.time", Err: err}
	}
	if err := fastJSONUnmarshal(p[8], &cleanJobs); err != nil {
		return NotifyPayload{}, &ParseError{Context: "notify.clean_jobs", Err: err}
	}

	prevHash, err := decodeHex(prevHashHex)
	if err != nil {
		return NotifyPayload{}, err
	}
	if len(prevHash) != 32 {
		return NotifyPayload{}, &ParseError{Context: "notify.prev_hash", Err: errPrevHashLength}
	}
	cb1, err := decodeHex(cb1Hex)
	if err != nil {
		return NotifyPayload{}, err
	}
	cb2, err := decodeHex(cb2Hex)
	if err != nil {
		return NotifyPayload{}, err
	}
	merkle := make([][]byte, len(merkleHex))
	for i, h := range merkleHex {
		b, err := decodeHex(h)
		if err != nil {
			return NotifyPayload{}, err
		}
		merkle[i] = b
	}
	version, err := hexToUint32(versionHex)
	if err != nil {
		return NotifyPayload{}, err
	}
	bits, err := hexToUint32(bitsHex)
	if err != nil {
		return NotifyPayload{}, err
	}
	ntime, err := hexToUint32(timeHex)
	if err != nil {
		return NotifyPayload{}, err
	}

	return NotifyPayload{
		JobID:        jobID,
		PrevHash:     prevHash,
		CoinBase1:    cb1,
		CoinBase2:    cb2,
		MerkleBranch: merkle,
		Version:      version,
		Bits:         bits,
		Time:         ntime,
		CleanJobs:    cleanJobs,
	}, nil
}

func hexToUint32(s string) (uint32, error) {
	b, err := decodeHex(s)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 || len(b) > 4 {
		return 0, &ParseError{Context: "hex_uint32", Err: errHexUint32Length}
	}
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v, nil
}
