// Package codec encodes small structured payloads stored alongside order
// history rows.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: the same detail map always
// produces identical bytes, so history rows compare byte-for-byte.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeDetail encodes a transition detail map. A nil or empty map encodes
// to nil so it can be stored as NULL.
func EncodeDetail(detail map[string]string) ([]byte, error) {
	if len(detail) == 0 {
		return nil, nil
	}
	return Marshal(detail)
}

// DecodeDetail is the inverse of EncodeDetail.
func DecodeDetail(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var detail map[string]string
	if err := Unmarshal(data, &detail); err != nil {
		return nil, err
	}
	return detail, nil
}
