package stub

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Initiator record layout.
const (
	InterfaceSize = 50
	ExtraSize     = 30
	InitiatorSize = InterfaceSize + ExtraSize
)

// InterfaceV1 is the only supervision interface spoken so far.
const InterfaceV1 = "AFB-SUPERVISOR-1"

var knownInterfaces = map[string]bool{
	InterfaceV1: true,
}

var (
	ErrShortInitiator   = errors.New("stub: incomplete initiator")
	ErrUnknownInterface = errors.New("stub: unknown supervision interface")
)

// Initiator is the record sent once by the supervisor on each accepted
// connection.
type Initiator struct {
	Interface string
	Extra     string
}

// MarshalBinary encodes the record, zero padded. Extra is truncated so that
// it always keeps a terminating zero.
func (i Initiator) MarshalBinary() ([]byte, error) {
	if len(i.Interface) >= InterfaceSize {
		return nil, fmt.Errorf("stub: interface tag %q too long", i.Interface)
	}
	buf := make([]byte, InitiatorSize)
	copy(buf[:InterfaceSize], i.Interface)
	extra := i.Extra
	if len(extra) > ExtraSize-1 {
		extra = extra[:ExtraSize-1]
	}
	copy(buf[InterfaceSize:], extra)
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (i *Initiator) UnmarshalBinary(data []byte) error {
	if len(data) != InitiatorSize {
		return ErrShortInitiator
	}
	i.Interface = cstring(data[:InterfaceSize])
	i.Extra = cstring(data[InterfaceSize:])
	return nil
}

func cstring(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}

// WriteInitiator sends the V1 initiator with an optional extra command.
func WriteInitiator(w io.Writer, extra string) error {
	buf, err := Initiator{Interface: InterfaceV1, Extra: extra}.MarshalBinary()
	if err != nil {
		return err
	}
	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("stub: send initiator: %w", err)
	}
	if n < len(buf) {
		return ErrShortInitiator
	}
	return nil
}

// ReadInitiator is the peer side of WriteInitiator. It fails on unknown
// interface tags.
func ReadInitiator(r io.Reader) (Initiator, error) {
	buf := make([]byte, InitiatorSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Initiator{}, ErrShortInitiator
		}
		return Initiator{}, err
	}
	var ini Initiator
	if err := ini.UnmarshalBinary(buf); err != nil {
		return Initiator{}, err
	}
	if !knownInterfaces[ini.Interface] {
		return ini, fmt.Errorf("%w: %q", ErrUnknownInterface, ini.Interface)
	}
	return ini, nil
}
