package peerprotocol

import "encoding/binary"

// maxMessageLength bounds a single frame's payload to guard against a
// peer sending an absurd length prefix and exhausting memory. 2MiB is
// comfortably above any legitimate BEP-3 message (a 16KiB block plus a
// few header bytes).
const maxMessageLength = 2 << 20

// Decoder is the resumable peer-message frame parser described in
// spec.md §4.4 and §9: it remembers how many bytes it still wants and
// what it has already buffered, so Feed is pure given that state and a
// message's bytes may be split across any number of Feed calls at any
// byte boundary (P7).
type Decoder struct {
	lenBuf    [4]byte
	lenGot    int  // bytes of lenBuf filled so far
	haveLen   bool // lenBuf is fully read, frameLen is known
	frameLen  uint32
	body      []byte // accumulated frame body bytes
}

// Feed appends data to the decoder's internal buffer and returns every
// message that became fully framed as a result. Partial frames persist
// in the Decoder for the next call.
func (d *Decoder) Feed(data []byte) ([]Message, error) {
	var out []Message
	for len(data) > 0 {
		if !d.haveLen {
			n := copy(d.lenBuf[d.lenGot:], data)
			d.lenGot += n
			data = data[n:]
			if d.lenGot < 4 {
				continue
			}
			d.frameLen = binary.BigEndian.Uint32(d.lenBuf[:])
			if d.frameLen > maxMessageLength {
				return out, ErrInvalidLength
			}
			d.haveLen = true
			d.body = make([]byte, 0, d.frameLen)
		}
		remaining := int(d.frameLen) - len(d.body)
		n := remaining
		if n > len(data) {
			n = len(data)
		}
		d.body = append(d.body, data[:n]...)
		data = data[n:]
		if len(d.body) == int(d.frameLen) {
			msg, err := Decode(d.body)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
			d.reset()
		}
	}
	return out, nil
}

func (d *Decoder) reset() {
	d.lenGot = 0
	d.haveLen = false
	d.frameLen = 0
	d.body = nil
}
