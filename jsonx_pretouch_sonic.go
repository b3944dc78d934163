//go:build !nojsonsimd

package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

func init() {
	// Sonic uses runtime codegen for best performance. Pretouching key types at
	// startup avoids first-hit latency spikes on the hot paths (stratum line
	// decode and WS broadcast encode).
	_ = sonic.Pretouch(reflect.TypeFor[StratumRequest]())
	_ = sonic.Pretouch(reflect.TypeFor[StratumEnvelope]())
	_ = sonic.Pretouch(reflect.TypeFor[wsMessage]())
	_ = sonic.Pretouch(reflect.TypeFor[dbRow]())
}
