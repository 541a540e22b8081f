package fit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	minHeaderSize = 12
	crcHeaderSize = 14
	crcSize       = 2

	msgFileID  = 0
	msgSession = 18
	msgRecord  = 20

	fieldTimestamp = 253
)

// FIT positions are semicircles: 2^31 semicircles make 180 degrees.
const semicircleToDegrees = 180.0 / (1 << 31)

var signature = []byte(".FIT")

var (
	errShort     = errors.New("shorter than a FIT header")
	errSignature = errors.New("missing .FIT signature")
)

type header struct {
	size     int
	protocol byte
	profile  uint16
	dataSize uint32
	crc      uint16 // zero when absent or not computed
}

func parseHeader(b []byte) (header, error) {
	if len(b) < minHeaderSize {
		return header{}, errShort
	}
	h := header{
		size:     int(b[0]),
		protocol: b[1],
		profile:  binary.LittleEndian.Uint16(b[2:4]),
		dataSize: binary.LittleEndian.Uint32(b[4:8]),
	}
	if h.size != minHeaderSize && h.size != crcHeaderSize {
		return h, fmt.Errorf("unexpected header size %d", h.size)
	}
	if !bytes.Equal(b[8:12], signature) {
		return h, errSignature
	}
	if h.size == crcHeaderSize {
		if len(b) < crcHeaderSize {
			return h, errShort
		}
		h.crc = binary.LittleEndian.Uint16(b[12:14])
	}
	return h, nil
}

// end is the offset of the file CRC, just past the data records.
func (h header) end() int { return h.size + int(h.dataSize) }

func (h header) headerCRCOK(b []byte) bool {
	return h.size == minHeaderSize || h.crc == 0 || h.crc == crc16(b[:minHeaderSize])
}

// fileCRC reports whether the trailing CRC is present and whether it matches.
func (h header) fileCRC(b []byte) (present, ok bool) {
	end := h.end()
	if len(b) < end+crcSize {
		return false, false
	}
	return true, binary.LittleEndian.Uint16(b[end:end+crcSize]) == crc16(b[:end])
}

var crcTable = [16]uint16{
	0x0000, 0xCC01, 0xD801, 0x1400, 0xF001, 0x3C00, 0x2800, 0xE401,
	0xA001, 0x6C00, 0x7800, 0xB401, 0x5000, 0x9C01, 0x8801, 0x4400,
}

func crc16(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		tmp := crcTable[crc&0xF]
		crc = (crc >> 4) & 0x0FFF
		crc = crc ^ tmp ^ crcTable[c&0xF]

		tmp = crcTable[crc&0xF]
		crc = (crc >> 4) & 0x0FFF
		crc = crc ^ tmp ^ crcTable[(c>>4)&0xF]
	}
	return crc
}

type fieldDef struct {
	num  byte
	size byte
}

type definition struct {
	global    uint16
	bigEndian bool
	fields    []fieldDef
	devSize   int
}

func (d *definition) size() int {
	n := d.devSize
	for _, f := range d.fields {
		n += int(f.size)
	}
	return n
}

// activity is what the decoder keeps from the messages it understands.
type activity struct {
	manufacturer, product uint16
	serial                uint32
	hasFileID             bool

	power    []float64
	lat, lng *float64

	firstTS, lastTS uint32
	hasTS           bool

	elapsed    float64
	hasElapsed bool
	work       float64
	hasWork    bool

	definitions int
	messages    int
}

func (a *activity) timestamp(ts uint32) {
	if !a.hasTS {
		a.firstTS = ts
		a.hasTS = true
	}
	a.lastTS = ts
}

type decodeError struct {
	offset int
	msg    string
}

func (e *decodeError) Error() string { return fmt.Sprintf("offset %d: %s", e.offset, e.msg) }

func decode(b []byte) (*activity, header, error) {
	h, err := parseHeader(b)
	if err != nil {
		return nil, h, err
	}
	end := h.end()
	if end > len(b) {
		return nil, h, fmt.Errorf("data size %d exceeds payload (%d bytes)", h.dataSize, len(b))
	}

	act := &activity{}
	defs := make(map[byte]*definition)
	pos := h.size
	for pos < end {
		rh := b[pos]
		pos++
		switch {
		case rh&0x80 != 0:
			// compressed timestamp header: local type in bits 5-6, offset in bits 0-4
			local := (rh >> 5) & 0x03
			def := defs[local]
			if def == nil {
				return nil, h, &decodeError{pos - 1, fmt.Sprintf("data for undefined local message %d", local)}
			}
			if pos+def.size() > end {
				return nil, h, &decodeError{pos, "truncated data message"}
			}
			offset := uint32(rh & 0x1f)
			ts := act.lastTS&^0x1f + offset
			if offset < act.lastTS&0x1f {
				ts += 0x20
			}
			act.timestamp(ts)
			act.apply(def, b[pos:pos+def.size()])
			pos += def.size()

		case rh&0x40 != 0:
			local := rh & 0x0f
			if pos+5 > end {
				return nil, h, &decodeError{pos, "truncated definition"}
			}
			def := &definition{bigEndian: b[pos+1] == 1}
			if def.bigEndian {
				def.global = binary.BigEndian.Uint16(b[pos+2 : pos+4])
			} else {
				def.global = binary.LittleEndian.Uint16(b[pos+2 : pos+4])
			}
			n := int(b[pos+4])
			pos += 5
			if pos+3*n > end {
				return nil, h, &decodeError{pos, "truncated field definitions"}
			}
			for i := 0; i < n; i++ {
				def.fields = append(def.fields, fieldDef{num: b[pos], size: b[pos+1]})
				pos += 3
			}
			if rh&0x20 != 0 {
				if pos >= end {
					return nil, h, &decodeError{pos, "truncated developer field definitions"}
				}
				nd := int(b[pos])
				pos++
				if pos+3*nd > end {
					return nil, h, &decodeError{pos, "truncated developer field definitions"}
				}
				for i := 0; i < nd; i++ {
					def.devSize += int(b[pos+1])
					pos += 3
				}
			}
			defs[local] = def
			act.definitions++

		default:
			local := rh & 0x0f
			def := defs[local]
			if def == nil {
				return nil, h, &decodeError{pos - 1, fmt.Sprintf("data for undefined local message %d", local)}
			}
			if pos+def.size() > end {
				return nil, h, &decodeError{pos, "truncated data message"}
			}
			act.apply(def, b[pos:pos+def.size()])
			pos += def.size()
		}
	}
	return act, h, nil
}

// apply reads the fields of one data message.
func (a *activity) apply(def *definition, msg []byte) {
	a.messages++
	order := binary.ByteOrder(binary.LittleEndian)
	if def.bigEndian {
		order = binary.BigEndian
	}
	off := 0
	for _, f := range def.fields {
		raw := msg[off : off+int(f.size)]
		off += int(f.size)

		switch def.global {
		case msgFileID:
			switch f.num {
			case 1:
				if v, ok := readUint(raw, order); ok {
					a.manufacturer = uint16(v)
					a.hasFileID = true
				}
			case 2:
				if v, ok := readUint(raw, order); ok {
					a.product = uint16(v)
				}
			case 3:
				if v, ok := readUint(raw, order); ok && v != 0 {
					a.serial = uint32(v)
				}
			}
		case msgRecord:
			switch f.num {
			case fieldTimestamp:
				if v, ok := readUint(raw, order); ok {
					a.timestamp(uint32(v))
				}
			case 7:
				if v, ok := readUint(raw, order); ok {
					a.power = append(a.power, float64(v))
				}
			case 0, 1:
				v, ok := readSint32(raw, order)
				if !ok {
					continue
				}
				deg := float64(v) * semicircleToDegrees
				if f.num == 0 && a.lat == nil {
					a.lat = &deg
				} else if f.num == 1 && a.lng == nil {
					a.lng = &deg
				}
			}
		case msgSession:
			switch f.num {
			case fieldTimestamp:
				if v, ok := readUint(raw, order); ok {
					a.timestamp(uint32(v))
				}
			case 7:
				if v, ok := readUint(raw, order); ok {
					a.elapsed += float64(v) / 1000
					a.hasElapsed = true
				}
			case 48:
				if v, ok := readUint(raw, order); ok {
					a.work += float64(v)
					a.hasWork = true
				}
			}
		}
	}
}

// readUint decodes an unsigned field. All-ones is the FIT invalid value.
func readUint(b []byte, order binary.ByteOrder) (uint64, bool) {
	switch len(b) {
	case 1:
		return uint64(b[0]), b[0] != 0xFF
	case 2:
		v := order.Uint16(b)
		return uint64(v), v != 0xFFFF
	case 4:
		v := order.Uint32(b)
		return uint64(v), v != 0xFFFFFFFF
	}
	return 0, false
}

func readSint32(b []byte, order binary.ByteOrder) (int32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	v := int32(order.Uint32(b))
	return v, v != 0x7FFFFFFF
}
