// Package wire implements the framing codec for the socket protocol:
// one JSON envelope per frame, each frame terminated by a single 0x03 byte.
// There is no length prefix.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	rpcprobe "github.com/rpcprobe/rpcprobe"
)

// Terminator delimits frames on the wire. 0x03 cannot appear inside JSON
// text, so scanning for it is unambiguous.
const Terminator byte = 0x03

// MaxFrameSize caps a single frame. Anything larger is treated as a
// malformed frame and discarded up to the next terminator.
const MaxFrameSize = 20 * 1024 * 1024

// decodeFailureBudget is how many consecutive malformed frames the decoder
// tolerates before declaring the stream unrecoverable. Occasional garbage is
// skipped; a runaway garbage stream is not.
const decodeFailureBudget = 10

// ErrTooManyBadFrames is returned by Decoder.Next once the consecutive
// decode-failure budget is exhausted. The connection must be closed.
var ErrTooManyBadFrames = errors.New("wire: too many consecutive malformed frames")

// Encode serializes an envelope and appends the frame terminator.
func Encode(env *rpcprobe.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, Terminator), nil
}

// Decoder splits a byte stream into terminator-delimited frames and decodes
// each into an envelope. It is a lazy, non-restartable view over the reader.
type Decoder struct {
	r         *bufio.Reader
	remaining int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:         bufio.NewReader(r),
		remaining: decodeFailureBudget,
	}
}

// Next returns the next decoded envelope. Malformed frames are skipped and
// counted; after decodeFailureBudget consecutive failures Next returns
// ErrTooManyBadFrames. A successfully decoded frame resets the count.
// Stream errors (including EOF mid-frame) are returned as-is.
func (d *Decoder) Next() (*rpcprobe.Envelope, error) {
	for {
		frame, oversize, err := d.readFrame()
		if err != nil {
			return nil, err
		}
		env, ok := decodeFrame(frame, oversize)
		if !ok {
			d.remaining--
			if d.remaining <= 0 {
				return nil, ErrTooManyBadFrames
			}
			continue
		}
		d.remaining = decodeFailureBudget
		return env, nil
	}
}

// readFrame reads up to and including the next terminator, returning the
// frame without it. Frames beyond MaxFrameSize are consumed but not
// retained; oversize reports that condition so the caller can count it as a
// decode failure.
func (d *Decoder) readFrame() (frame []byte, oversize bool, err error) {
	var buf []byte
	for {
		chunk, err := d.r.ReadSlice(Terminator)
		if len(buf)+len(chunk) > MaxFrameSize {
			oversize = true
			buf = nil
		}
		if !oversize {
			// ReadSlice returns a view into the bufio buffer; copy out.
			buf = append(buf, chunk...)
		}
		switch {
		case err == nil:
			if !oversize {
				buf = buf[:len(buf)-1] // strip terminator
			}
			return buf, oversize, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, false, err
		}
	}
}

// decodeFrame parses one frame into an envelope. The frame must be a JSON
// object; bare values such as "null" decode without error but carry no
// message, so they count as malformed too.
func decodeFrame(frame []byte, oversize bool) (*rpcprobe.Envelope, bool) {
	if oversize {
		return nil, false
	}
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	env := &rpcprobe.Envelope{}
	if err := json.Unmarshal(trimmed, env); err != nil {
		return nil, false
	}
	env.Raw = trimmed
	return env, true
}
