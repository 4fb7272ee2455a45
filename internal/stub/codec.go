package stub

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("stub: CBOR encoder initialization failed: " + err.Error())
	}
	// Documents are JSON-like: maps decoded into any must have string keys.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("stub: CBOR decoder initialization failed: " + err.Error())
	}
}

const (
	kindCall  uint8 = 1
	kindReply uint8 = 2
	kindEvent uint8 = 3
)

// message is the single wire envelope.
type message struct {
	Kind  uint8  `cbor:"k"`
	ID    uint64 `cbor:"i,omitempty"`
	API   string `cbor:"a,omitempty"`
	Verb  string `cbor:"v,omitempty"`
	Data  any    `cbor:"d,omitempty"`
	Error string `cbor:"e,omitempty"`
	Info  string `cbor:"n,omitempty"`
}
