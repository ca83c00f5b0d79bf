package mesh

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PacketMDU is the largest payload sent as a single packet frame. Larger
// responses are streamed as a resource.
const PacketMDU = 464

// ResourceChunkSize is the payload size of each resource chunk frame.
const ResourceChunkSize = 32 * 1024

type frameType byte

const (
	framePacket frameType = iota + 1
	frameAdvert
	frameChunk
	frameEnd
	frameError
)

const frameHeaderLen = 5

var (
	// ErrFrameTooLarge is returned when a frame or resource exceeds its limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrResourceCorrupt is returned when an assembled resource fails its
	// size or digest check.
	ErrResourceCorrupt = errors.New("resource corrupt")
)

// RemoteError carries an error frame sent by the serving side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// writeFrame writes [type:1][len:4 BE][payload].
func writeFrame(w io.Writer, t frameType, payload []byte) error {
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one frame whose payload must not exceed limit bytes.
func readFrame(r io.Reader, limit int) (frameType, []byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if int64(n) > int64(limit) {
		return 0, nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, limit)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return frameType(hdr[0]), payload, nil
}

// writeRequest sends a request as a single packet frame.
func writeRequest(w io.Writer, req []byte) error {
	if len(req) > PacketMDU {
		return fmt.Errorf("%w: request of %d bytes exceeds packet MDU %d", ErrFrameTooLarge, len(req), PacketMDU)
	}
	return writeFrame(w, framePacket, req)
}

// readRequest reads a request packet frame.
func readRequest(r io.Reader) ([]byte, error) {
	t, payload, err := readFrame(r, PacketMDU)
	if err != nil {
		return nil, err
	}
	if t != framePacket {
		return nil, fmt.Errorf("unexpected frame type %d for request", t)
	}
	return payload, nil
}

// writeResponse sends resp as one packet frame when it fits in PacketMDU and
// as an advertised, chunked, digest-terminated resource otherwise.
func writeResponse(w io.Writer, resp []byte) error {
	if len(resp) <= PacketMDU {
		return writeFrame(w, framePacket, resp)
	}

	var advert [8]byte
	binary.BigEndian.PutUint64(advert[:], uint64(len(resp)))
	if err := writeFrame(w, frameAdvert, advert[:]); err != nil {
		return err
	}
	for off := 0; off < len(resp); off += ResourceChunkSize {
		end := min(off+ResourceChunkSize, len(resp))
		if err := writeFrame(w, frameChunk, resp[off:end]); err != nil {
			return err
		}
	}
	sum := sha256.Sum256(resp)
	return writeFrame(w, frameEnd, sum[:])
}

// writeError sends an error frame.
func writeError(w io.Writer, msg string) error {
	if len(msg) > PacketMDU {
		msg = msg[:PacketMDU]
	}
	return writeFrame(w, frameError, []byte(msg))
}

// readResponse reads either delivery mode and returns the complete payload.
// Resources larger than maxResource are rejected before they are buffered.
func readResponse(r io.Reader, maxResource int64) ([]byte, error) {
	t, payload, err := readFrame(r, PacketMDU)
	if err != nil {
		return nil, err
	}

	switch t {
	case framePacket:
		return payload, nil
	case frameError:
		return nil, &RemoteError{Message: string(payload)}
	case frameAdvert:
	default:
		return nil, fmt.Errorf("unexpected frame type %d for response", t)
	}

	if len(payload) != 8 {
		return nil, fmt.Errorf("%w: malformed advert", ErrResourceCorrupt)
	}
	total := binary.BigEndian.Uint64(payload)
	if total > uint64(maxResource) {
		return nil, fmt.Errorf("%w: resource of %d bytes exceeds limit %d", ErrFrameTooLarge, total, maxResource)
	}

	var buf bytes.Buffer
	buf.Grow(int(total))
	for {
		t, chunk, err := readFrame(r, ResourceChunkSize)
		if err != nil {
			return nil, fmt.Errorf("read resource: %w", err)
		}
		switch t {
		case frameChunk:
			if uint64(buf.Len()+len(chunk)) > total {
				return nil, fmt.Errorf("%w: more data than advertised", ErrResourceCorrupt)
			}
			buf.Write(chunk)
		case frameEnd:
			if uint64(buf.Len()) != total {
				return nil, fmt.Errorf("%w: got %d of %d bytes", ErrResourceCorrupt, buf.Len(), total)
			}
			sum := sha256.Sum256(buf.Bytes())
			if !bytes.Equal(sum[:], chunk) {
				return nil, fmt.Errorf("%w: digest mismatch", ErrResourceCorrupt)
			}
			return buf.Bytes(), nil
		case frameError:
			return nil, &RemoteError{Message: string(chunk)}
		default:
			return nil, fmt.Errorf("unexpected frame type %d in resource", t)
		}
	}
}
