package smartglass

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Wire constants.
const (
	// DefaultPort is the console's UDP port.
	DefaultPort = 5050

	// connectVersion is carried by connect packets and message flags.
	connectVersion = 2

	// simpleVersion is carried by discovery and power-on requests.
	simpleVersion = 0

	// simpleHeaderSize is type(2) + payload length(2) + version(2).
	simpleHeaderSize = 6

	// connectHeaderSize is type(2) + unprotected length(2) + protected length(2) + version(2).
	connectHeaderSize = 8

	// messageHeaderSize is type(2) + protected length(2) + seq(4) +
	// target(4) + source(4) + flags(2) + channel(8).
	messageHeaderSize = 26

	// maxPacketSize bounds a single datagram.
	maxPacketSize = 4096
)

// packetType identifies the outer frame.
type packetType uint16

const (
	packetConnectRequest    packetType = 0xCC00
	packetConnectResponse   packetType = 0xCC01
	packetDiscoveryRequest  packetType = 0xDD00
	packetDiscoveryResponse packetType = 0xDD01
	packetPowerOn           packetType = 0xDD02
	packetMessage           packetType = 0xD00D
)

// MessageType identifies the body of an encrypted message frame.
type MessageType uint16

// Message types used by the session. The console sends others, which are
// logged and ignored.
const (
	MsgAck                  MessageType = 0x0001
	MsgGroup                MessageType = 0x0002
	MsgLocalJoin            MessageType = 0x0003
	MsgStopActivity         MessageType = 0x0005
	MsgAuxiliaryStream      MessageType = 0x0019
	MsgActiveSurfaceChange  MessageType = 0x001A
	MsgNavigate             MessageType = 0x001B
	MsgJSON                 MessageType = 0x001C
	MsgTunnel               MessageType = 0x001D
	MsgConsoleStatus        MessageType = 0x001E
	MsgTitleTextConfig      MessageType = 0x001F
	MsgTitleTextInput       MessageType = 0x0020
	MsgTitleTextSelection   MessageType = 0x0021
	MsgMirroringRequest     MessageType = 0x0022
	MsgTitleLaunch          MessageType = 0x0023
	MsgStartChannelRequest  MessageType = 0x0026
	MsgStartChannelResponse MessageType = 0x0027
	MsgStopChannel          MessageType = 0x0028
	MsgSystem               MessageType = 0x0029
	MsgDisconnect           MessageType = 0x002A
	MsgTitleTouch           MessageType = 0x002E
	MsgAccelerometer        MessageType = 0x002F
	MsgGyrometer            MessageType = 0x0030
	MsgInclinometer         MessageType = 0x0031
	MsgCompass              MessageType = 0x0032
	MsgOrientation          MessageType = 0x0033
	MsgPairedIdentityState  MessageType = 0x0036
	MsgUnsnap               MessageType = 0x0037
	MsgGameDVRRecord        MessageType = 0x0038
	MsgPowerOff             MessageType = 0x0039
	MsgMediaControlRemoved  MessageType = 0x0F00
	MsgMediaCommand         MessageType = 0x0F01
	MsgMediaCommandResult   MessageType = 0x0F02
	MsgMediaState           MessageType = 0x0F03
	MsgGamepad              MessageType = 0x0F0A
	MsgSystemTextConfig     MessageType = 0x0F2B
	MsgSystemTextInput      MessageType = 0x0F2C
	MsgSystemTouch          MessageType = 0x0F2E
	MsgSystemTextAck        MessageType = 0x0F34
	MsgSystemTextDone       MessageType = 0x0F3A
)

var messageTypeNames = map[MessageType]string{
	MsgAck:                  "ack",
	MsgGroup:                "group",
	MsgLocalJoin:            "local_join",
	MsgStopActivity:         "stop_activity",
	MsgAuxiliaryStream:      "auxiliary_stream",
	MsgActiveSurfaceChange:  "active_surface_change",
	MsgNavigate:             "navigate",
	MsgJSON:                 "json",
	MsgTunnel:               "tunnel",
	MsgConsoleStatus:        "console_status",
	MsgTitleTextConfig:      "title_text_configuration",
	MsgTitleTextInput:       "title_text_input",
	MsgTitleTextSelection:   "title_text_selection",
	MsgMirroringRequest:     "mirroring_request",
	MsgTitleLaunch:          "title_launch",
	MsgStartChannelRequest:  "start_channel_request",
	MsgStartChannelResponse: "start_channel_response",
	MsgStopChannel:          "stop_channel",
	MsgSystem:               "system",
	MsgDisconnect:           "disconnect",
	MsgTitleTouch:           "title_touch",
	MsgAccelerometer:        "accelerometer",
	MsgGyrometer:            "gyrometer",
	MsgInclinometer:         "inclinometer",
	MsgCompass:              "compass",
	MsgOrientation:          "orientation",
	MsgPairedIdentityState:  "paired_identity_state_changed",
	MsgUnsnap:               "unsnap",
	MsgGameDVRRecord:        "game_dvr_record",
	MsgPowerOff:             "power_off",
	MsgMediaControlRemoved:  "media_controller_removed",
	MsgMediaCommand:         "media_command",
	MsgMediaCommandResult:   "media_command_result",
	MsgMediaState:           "media_state",
	MsgGamepad:              "gamepad",
	MsgSystemTextConfig:     "system_text_configuration",
	MsgSystemTextInput:      "system_text_input",
	MsgSystemTouch:          "system_touch",
	MsgSystemTextAck:        "system_text_ack",
	MsgSystemTextDone:       "system_text_done",
}

// String returns a short name for logs and raw telemetry topics.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(t))
}

// Message flags: version(2 bits) | need_ack | is_fragment | type(12 bits).
const (
	flagNeedAck  uint16 = 0x2000
	flagFragment uint16 = 0x1000
	msgTypeMask  uint16 = 0x0FFF
)

const flagVersionShift = 14

// Message is one decrypted message frame.
type Message struct {
	Type     MessageType
	Channel  uint64 // 0 is the core channel
	Seq      uint32
	Target   uint32 // receiving participant
	Source   uint32 // sending participant
	NeedAck  bool
	Fragment bool
	Payload  []byte
}

// encodeSimple frames an unencrypted packet.
func encodeSimple(t packetType, version uint16, payload []byte) []byte {
	buf := make([]byte, simpleHeaderSize, simpleHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(t))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint16(buf[4:6], version)
	return append(buf, payload...)
}

// decodeSimple parses an unencrypted packet.
func decodeSimple(b []byte) (packetType, []byte, error) {
	if len(b) < simpleHeaderSize {
		return 0, nil, fmt.Errorf("%w: short packet (%d bytes)", ErrInvalidPacket, len(b))
	}
	t := packetType(binary.BigEndian.Uint16(b[0:2]))
	n := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < simpleHeaderSize+n {
		return 0, nil, fmt.Errorf("%w: payload length %d exceeds packet", ErrInvalidPacket, n)
	}
	return t, b[simpleHeaderSize : simpleHeaderSize+n], nil
}

// peekType returns the outer packet type without validating the rest.
func peekType(b []byte) packetType {
	if len(b) < 2 {
		return 0
	}
	return packetType(binary.BigEndian.Uint16(b[0:2]))
}

// messageFlags packs the version, flag bits and type of m.
func messageFlags(m *Message) uint16 {
	flags := uint16(connectVersion)<<flagVersionShift | uint16(m.Type)&msgTypeMask
	if m.NeedAck {
		flags |= flagNeedAck
	}
	if m.Fragment {
		flags |= flagFragment
	}
	return flags
}

// encodeMessageHeader writes the 26-byte message header.
func encodeMessageHeader(m *Message, plainLen int) []byte {
	h := make([]byte, messageHeaderSize)
	binary.BigEndian.PutUint16(h[0:2], uint16(packetMessage))
	binary.BigEndian.PutUint16(h[2:4], uint16(plainLen))
	binary.BigEndian.PutUint32(h[4:8], m.Seq)
	binary.BigEndian.PutUint32(h[8:12], m.Target)
	binary.BigEndian.PutUint32(h[12:16], m.Source)
	binary.BigEndian.PutUint16(h[16:18], messageFlags(m))
	binary.BigEndian.PutUint64(h[18:26], m.Channel)
	return h
}

// decodeMessageHeader parses the message header, returning the plaintext length.
func decodeMessageHeader(b []byte) (*Message, int, error) {
	if len(b) < messageHeaderSize {
		return nil, 0, fmt.Errorf("%w: short message header", ErrInvalidPacket)
	}
	if packetType(binary.BigEndian.Uint16(b[0:2])) != packetMessage {
		return nil, 0, fmt.Errorf("%w: not a message frame", ErrInvalidPacket)
	}
	flags := binary.BigEndian.Uint16(b[16:18])
	m := &Message{
		Type:     MessageType(flags & msgTypeMask),
		Seq:      binary.BigEndian.Uint32(b[4:8]),
		Target:   binary.BigEndian.Uint32(b[8:12]),
		Source:   binary.BigEndian.Uint32(b[12:16]),
		NeedAck:  flags&flagNeedAck != 0,
		Fragment: flags&flagFragment != 0,
		Channel:  binary.BigEndian.Uint64(b[18:26]),
	}
	return m, int(binary.BigEndian.Uint16(b[2:4])), nil
}

// writer builds big-endian payloads.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

// bytes writes a u16 length-prefixed blob.
func (w *writer) bytes(b []byte) {
	w.u16(uint16(len(b)))
	w.raw(b)
}

// str writes a u16 length-prefixed, NUL-terminated string.
func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.raw([]byte(s))
	w.u8(0)
}

// reader consumes big-endian payloads. The first short read latches err and
// every later read returns zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrInvalidPacket, r.off)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) uuid() uuid.UUID {
	var id uuid.UUID
	copy(id[:], r.take(16))
	return id
}

func (r *reader) bytes() []byte {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n + 1)
	if b == nil {
		return ""
	}
	return string(b[:n])
}

// putConnectHeader writes the connect packet header.
func putConnectHeader(h []byte, t packetType, unprotLen, protLen int) {
	binary.BigEndian.PutUint16(h[0:2], uint16(t))
	binary.BigEndian.PutUint16(h[2:4], uint16(unprotLen))
	binary.BigEndian.PutUint16(h[4:6], uint16(protLen))
	binary.BigEndian.PutUint16(h[6:8], connectVersion)
}

// connectLengths reads the unprotected and protected lengths of a connect packet.
func connectLengths(h []byte) (unprotLen, protLen int) {
	return int(binary.BigEndian.Uint16(h[2:4])), int(binary.BigEndian.Uint16(h[4:6]))
}
