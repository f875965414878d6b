package btc

import "fmt"

// Script opcodes used for null-data outputs.
const (
	opReturn    = 0x6a
	opPushData1 = 0x4c
)

// MaxNullDataLen is the standardness limit for OP_RETURN payloads.
const MaxNullDataLen = 80

// NullDataScript builds an OP_RETURN script embedding the given payload.
// Payloads up to 75 bytes use a direct push; longer ones (up to 80) use
// OP_PUSHDATA1, matching Bitcoin standardness rules.
func NullDataScript(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("null-data script: empty payload")
	}
	if len(data) > MaxNullDataLen {
		return nil, fmt.Errorf("null-data script: payload %d bytes exceeds %d", len(data), MaxNullDataLen)
	}

	var script []byte
	if len(data) <= 75 {
		script = make([]byte, 0, 2+len(data))
		script = append(script, opReturn, byte(len(data)))
	} else {
		script = make([]byte, 0, 3+len(data))
		script = append(script, opReturn, opPushData1, byte(len(data)))
	}
	return append(script, data...), nil
}
