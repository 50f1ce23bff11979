package metadataio

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const metadataRootSignature = 0x424A5342 // "BSJB"

// streamHeader locates one metadata stream within the metadata root,
// by offset and size relative to the root's own start.
type streamHeader struct {
	Offset uint32
	Size   uint32
}

// parseMetadataRoot reads the ECMA-335 §II.24.2.1 metadata root: the
// "BSJB" signature, version string, and the stream directory (#~ or
// #-, #Strings, #US, #GUID, #Blob).
func (r *Reader) parseMetadataRoot() error {
	sig, err := r.readUint32(r.metaOffset)
	if err != nil {
		return err
	}
	if sig != metadataRootSignature {
		return ErrInvalidMetadataRoot
	}

	lengthOffset := r.metaOffset + 12
	versionLen, err := r.readUint32(lengthOffset)
	if err != nil {
		return err
	}
	streamsCountOffset := lengthOffset + 4 + versionLen + 2 // skip the reserved Flags field
	streamCount, err := r.readUint16(streamsCountOffset)
	if err != nil {
		return err
	}

	r.streams = make(map[string]streamHeader, streamCount)
	cursor := streamsCountOffset + 2
	for i := uint16(0); i < streamCount; i++ {
		var hdr streamHeader
		if err := r.structUnpack(&hdr, cursor, 8); err != nil {
			return err
		}
		hdr.Offset += r.metaOffset
		cursor += 8

		name, nameLen, err := r.readCStringPadded(cursor)
		if err != nil {
			return err
		}
		cursor += nameLen
		r.streams[name] = hdr
	}
	return nil
}

// readCStringPadded reads a NUL-terminated ASCII string starting at
// offset, and returns how many bytes it and its 4-byte alignment
// padding occupied, per the stream header name encoding ECMA-335
// §II.24.2.2 specifies.
func (r *Reader) readCStringPadded(offset uint32) (string, uint32, error) {
	var b strings.Builder
	n := uint32(0)
	for {
		c, err := r.readUint8(offset + n)
		if err != nil {
			return "", 0, err
		}
		n++
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	padded := (n + 3) &^ 3
	return b.String(), padded, nil
}

func (r *Reader) stream(name string) (streamHeader, bool) {
	h, ok := r.streams[name]
	return h, ok
}

// stringAt reads a NUL-terminated UTF-8 string from the #Strings
// heap at the given heap-relative index.
func (r *Reader) stringAt(index uint32) (string, error) {
	h, ok := r.stream("#Strings")
	if !ok {
		return "", ErrStreamNotFound
	}
	s, _, err := r.readCStringPadded(h.Offset + index)
	return s, err
}

// blobAt reads a length-prefixed blob from the #Blob heap, decoding
// the ECMA-335 §II.24.2.4 compressed-length prefix (1, 2, or 4 bytes).
func (r *Reader) blobAt(index uint32) ([]byte, error) {
	h, ok := r.stream("#Blob")
	if !ok {
		return nil, ErrStreamNotFound
	}
	base := h.Offset + index
	first, err := r.readUint8(base)
	if err != nil {
		return nil, err
	}

	var length uint32
	var headerLen uint32
	switch {
	case first&0x80 == 0:
		length = uint32(first)
		headerLen = 1
	case first&0xC0 == 0x80:
		b1, err := r.readUint8(base + 1)
		if err != nil {
			return nil, err
		}
		length = (uint32(first&0x3F) << 8) | uint32(b1)
		headerLen = 2
	default:
		buf, err := r.readAt(base, 4)
		if err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint32(buf) &^ (0xE0 << 24)
		headerLen = 4
	}
	return r.readAt(base+headerLen, length)
}

// userStringAt reads a UTF-16LE user string from the #US heap,
// mirroring the teacher's helper.go readUnicodeStringAtRVA use of
// golang.org/x/text/encoding/unicode for UTF-16 decoding.
func (r *Reader) userStringAt(index uint32) (string, error) {
	h, ok := r.stream("#US")
	if !ok {
		return "", ErrStreamNotFound
	}
	blob, err := r.blobAtOffset(h.Offset + index)
	if err != nil {
		return "", err
	}
	if len(blob) == 0 {
		return "", nil
	}
	// the trailing byte is a "has special chars" flag, not payload.
	payload := blob
	if len(payload)%2 == 1 {
		payload = payload[:len(payload)-1]
	}
	decoder := textUTF16LE()
	out, err := decoder.Bytes(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// textUTF16LE returns a fresh decoder for the UTF-16LE strings the
// #US heap and Constant table's string values both encode.
func textUTF16LE() *encoding.Decoder {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
}

func (r *Reader) blobAtOffset(base uint32) ([]byte, error) {
	first, err := r.readUint8(base)
	if err != nil {
		return nil, err
	}
	var length, headerLen uint32
	switch {
	case first&0x80 == 0:
		length, headerLen = uint32(first), 1
	case first&0xC0 == 0x80:
		b1, err := r.readUint8(base + 1)
		if err != nil {
			return nil, err
		}
		length, headerLen = (uint32(first&0x3F)<<8)|uint32(b1), 2
	default:
		buf, err := r.readAt(base, 4)
		if err != nil {
			return nil, err
		}
		length, headerLen = binary.BigEndian.Uint32(buf)&^(0xE0<<24), 4
	}
	return r.readAt(base+headerLen, length)
}

// guidAt reads the n'th (1-based, per ECMA-335's GUID heap indexing)
// 16-byte GUID from the #GUID heap.
func (r *Reader) guidAt(index uint32) ([16]byte, error) {
	var out [16]byte
	if index == 0 {
		return out, nil
	}
	h, ok := r.stream("#GUID")
	if !ok {
		return out, ErrStreamNotFound
	}
	buf, err := r.readAt(h.Offset+(index-1)*16, 16)
	if err != nil {
		return out, err
	}
	copy(out[:], buf)
	return out, nil
}
