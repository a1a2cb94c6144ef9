package smartglass

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/google/uuid"
)

// ConsoleInfo is what a console advertises in its discovery response.
type ConsoleInfo struct {
	Name        string `json:"name"`
	UUID        string `json:"uuid"`
	LiveID      string `json:"live_id"`
	ConsoleType uint16 `json:"console_type"`
	Flags       uint32 `json:"flags"`

	// PublicKey is taken from the console certificate.
	PublicKey *ecdh.PublicKey `json:"-"`
}

// DeviceInfo identifies the connected console.
type DeviceInfo struct {
	Manufacturer     string `json:"manufacturer"`
	Model            string `json:"model"`
	SerialNumber     string `json:"serial_number"`
	FirmwareRevision string `json:"firmware_revision"`
	Name             string `json:"name,omitempty"`
	Locale           string `json:"locale,omitempty"`
}

// Client types advertised in discovery and local join.
const (
	clientTypeXboxOne = 1
	clientTypeAndroid = 8
)

const (
	discoveryMinVersion = 0
	discoveryMaxVersion = 2
)

func encodeDiscoveryRequest() []byte {
	w := &writer{}
	w.u32(0) // flags
	w.u16(clientTypeAndroid)
	w.u16(discoveryMinVersion)
	w.u16(discoveryMaxVersion)
	return encodeSimple(packetDiscoveryRequest, simpleVersion, w.buf)
}

func decodeDiscoveryResponse(payload []byte) (*ConsoleInfo, error) {
	r := &reader{b: payload}
	info := &ConsoleInfo{
		Flags:       r.u32(),
		ConsoleType: r.u16(),
		Name:        r.str(),
		UUID:        r.str(),
	}
	_ = r.u32() // last error
	der := r.bytes()
	if r.err != nil {
		return nil, fmt.Errorf("discovery response: %w", r.err)
	}
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: discovery response without certificate", ErrInvalidPacket)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: console certificate: %w", ErrInvalidPacket, err)
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: console certificate key is %T", ErrInvalidPacket, cert.PublicKey)
	}
	info.PublicKey, err = pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: console certificate key: %w", ErrInvalidPacket, err)
	}
	info.LiveID = cert.Subject.CommonName
	return info, nil
}

func encodePowerOn(liveID string) []byte {
	w := &writer{}
	w.str(liveID)
	return encodeSimple(packetPowerOn, simpleVersion, w.buf)
}

// connectResult is the console's answer to a connect request.
type connectResult uint16

const (
	connectSuccess             connectResult = 0
	connectPending             connectResult = 1
	connectFailureUnknown      connectResult = 2
	connectAnonymousDisabled   connectResult = 3
	connectDeviceLimitExceeded connectResult = 4
	connectSmartGlassDisabled  connectResult = 5
	connectUserAuthFailed      connectResult = 6
	connectUserSignInFailed    connectResult = 7
	connectUserSignInTimeout   connectResult = 8
	connectUserSignInRequired  connectResult = 9
)

var connectResultNames = []string{
	"success",
	"pending",
	"unknown failure",
	"anonymous connections disabled",
	"device limit exceeded",
	"smartglass disabled",
	"user authentication failed",
	"user sign-in failed",
	"user sign-in timed out",
	"user sign-in required",
}

func (r connectResult) String() string {
	if int(r) < len(connectResultNames) {
		return connectResultNames[r]
	}
	return fmt.Sprintf("result %d", uint16(r))
}

// err maps a final connect result to the session error taxonomy. Results
// that blame the account are authentication failures; the rest leave the
// console unreachable for this attempt.
func (r connectResult) err() error {
	switch r {
	case connectSuccess:
		return nil
	case connectAnonymousDisabled, connectUserAuthFailed, connectUserSignInFailed, connectUserSignInRequired:
		return fmt.Errorf("%w: %s", ErrAuthenticationRejected, r)
	default:
		return fmt.Errorf("%w: connect refused: %s", ErrTransportUnreachable, r)
	}
}

// publicKeyTypeP256 marks a raw P-256 point.
const publicKeyTypeP256 uint16 = 0

// maxConnectRequestSize bounds the payload of one connect request. Longer
// tokens are split across a group of requests.
const maxConnectRequestSize = 1024

// connectRequest is one credential-bearing handshake request.
type connectRequest struct {
	ClientID   uuid.UUID
	PublicKey  []byte
	IV         []byte
	UserHash   string
	Token      string
	RequestNum uint32
	GroupStart uint32
	GroupEnd   uint32
}

func (c *connectRequest) unprotected() []byte {
	w := &writer{}
	w.raw(c.ClientID[:])
	w.u16(publicKeyTypeP256)
	w.raw(c.PublicKey)
	w.raw(c.IV)
	return w.buf
}

func (c *connectRequest) protected() []byte {
	w := &writer{}
	w.str(c.UserHash)
	w.str(c.Token)
	w.u32(c.RequestNum)
	w.u32(c.GroupStart)
	w.u32(c.GroupEnd)
	return w.buf
}

// connectRequestOverhead is the payload of a request with empty credentials.
func connectRequestOverhead() int {
	empty := connectRequest{PublicKey: make([]byte, publicKeySize), IV: make([]byte, 16)}
	return len(empty.unprotected()) + len(empty.protected())
}

// splitConnectRequest fragments base so that no request exceeds
// maxConnectRequestSize. The user hash travels in the first request only;
// the token is spread over as many as needed. Every request carries the
// same group bounds.
func splitConnectRequest(base connectRequest) []connectRequest {
	overhead := connectRequestOverhead()
	if overhead+len(base.UserHash)+len(base.Token) <= maxConnectRequestSize {
		base.RequestNum, base.GroupStart, base.GroupEnd = 0, 0, 1
		return []connectRequest{base}
	}

	var chunks []string
	token := base.Token
	room := maxConnectRequestSize - overhead - len(base.UserHash)
	for len(token) > 0 || len(chunks) == 0 {
		n := max(0, min(room, len(token)))
		chunks = append(chunks, token[:n])
		token = token[n:]
		room = maxConnectRequestSize - overhead
	}

	out := make([]connectRequest, len(chunks))
	for i, chunk := range chunks {
		req := base
		req.Token = chunk
		if i > 0 {
			req.UserHash = ""
		}
		req.RequestNum = uint32(i)
		req.GroupStart = 0
		req.GroupEnd = uint32(len(chunks))
		out[i] = req
	}
	return out
}

// connectResponse carries the handshake result.
type connectResponse struct {
	Result        connectResult
	PairingState  uint16
	ParticipantID uint32
}

func (c connectResponse) encode() []byte {
	w := &writer{}
	w.u16(uint16(c.Result))
	w.u16(c.PairingState)
	w.u32(c.ParticipantID)
	return w.buf
}

func decodeConnectResponse(plain []byte) (*connectResponse, error) {
	r := &reader{b: plain}
	resp := &connectResponse{
		Result:        connectResult(r.u16()),
		PairingState:  r.u16(),
		ParticipantID: r.u32(),
	}
	if r.err != nil {
		return nil, fmt.Errorf("connect response: %w", r.err)
	}
	return resp, nil
}

// ackBody acknowledges processed sequence numbers.
type ackBody struct {
	LowWatermark uint32
	Processed    []uint32
	Rejected     []uint32
}

func (a ackBody) encode() []byte {
	w := &writer{}
	w.u32(a.LowWatermark)
	w.u32(uint32(len(a.Processed)))
	for _, s := range a.Processed {
		w.u32(s)
	}
	w.u32(uint32(len(a.Rejected)))
	for _, s := range a.Rejected {
		w.u32(s)
	}
	return w.buf
}

func decodeAck(b []byte) (ackBody, error) {
	r := &reader{b: b}
	a := ackBody{LowWatermark: r.u32()}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		a.Processed = append(a.Processed, r.u32())
	}
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		a.Rejected = append(a.Rejected, r.u32())
	}
	if r.err != nil {
		return ackBody{}, fmt.Errorf("ack: %w", r.err)
	}
	return a, nil
}

// Local join announces the client after the handshake. The console starts
// sending status reports once it has seen one.
const (
	joinNativeWidth  = 1080
	joinNativeHeight = 1920
	joinDPI          = 96
	joinCapabilities = 0xFFFFFFFFFFFFFFFF
	joinClientVer    = 15
	joinOSMajor      = 6
	joinOSMinor      = 2
	joinDisplayName  = "Gray Logic"
)

func encodeLocalJoin() []byte {
	w := &writer{}
	w.u16(clientTypeAndroid)
	w.u16(joinNativeWidth)
	w.u16(joinNativeHeight)
	w.u16(joinDPI)
	w.u16(joinDPI)
	w.u64(joinCapabilities)
	w.u32(joinClientVer)
	w.u32(joinOSMajor)
	w.u32(joinOSMinor)
	w.str(joinDisplayName)
	return w.buf
}

// startChannelRequest asks the console to open a service channel.
type startChannelRequest struct {
	RequestID  uint32
	TitleID    uint32
	Service    uuid.UUID
	ActivityID uint32
}

func (s startChannelRequest) encode() []byte {
	w := &writer{}
	w.u32(s.RequestID)
	w.u32(s.TitleID)
	w.raw(s.Service[:])
	w.u32(s.ActivityID)
	return w.buf
}

// startChannelResponse assigns the wire id for a requested channel.
type startChannelResponse struct {
	RequestID uint32
	ChannelID uint64
	Result    uint32
}

func (s startChannelResponse) encode() []byte {
	w := &writer{}
	w.u32(s.RequestID)
	w.u64(s.ChannelID)
	w.u32(s.Result)
	return w.buf
}

func decodeStartChannelResponse(b []byte) (startChannelResponse, error) {
	r := &reader{b: b}
	s := startChannelResponse{
		RequestID: r.u32(),
		ChannelID: r.u64(),
		Result:    r.u32(),
	}
	if r.err != nil {
		return startChannelResponse{}, fmt.Errorf("start channel response: %w", r.err)
	}
	return s, nil
}

// ActiveTitle is one running app or title in a status report.
type ActiveTitle struct {
	TitleID   uint32    `json:"title_id"`
	HasFocus  bool      `json:"has_focus"`
	Location  uint16    `json:"title_location"`
	ProductID uuid.UUID `json:"product_id"`
	SandboxID uuid.UUID `json:"sandbox_id"`
	AUMID     string    `json:"aum_id"`
}

// ConsoleStatus is the periodic presence report on the core channel.
type ConsoleStatus struct {
	LiveTVProvider uint32        `json:"live_tv_provider"`
	Major          uint32        `json:"major_version"`
	Minor          uint32        `json:"minor_version"`
	Build          uint32        `json:"build_number"`
	Locale         string        `json:"locale"`
	Titles         []ActiveTitle `json:"active_titles"`
}

// Title disposition: focus flag over a 15-bit location.
const (
	titleFlagFocus   uint16 = 0x8000
	titleLocationMax uint16 = 0x7FFF
)

func (c ConsoleStatus) encode() []byte {
	w := &writer{}
	w.u32(c.LiveTVProvider)
	w.u32(c.Major)
	w.u32(c.Minor)
	w.u32(c.Build)
	w.str(c.Locale)
	w.u16(uint16(len(c.Titles)))
	for _, t := range c.Titles {
		w.u32(t.TitleID)
		disposition := t.Location & titleLocationMax
		if t.HasFocus {
			disposition |= titleFlagFocus
		}
		w.u16(disposition)
		w.raw(t.ProductID[:])
		w.raw(t.SandboxID[:])
		w.str(t.AUMID)
	}
	return w.buf
}

func decodeConsoleStatus(b []byte) (ConsoleStatus, error) {
	r := &reader{b: b}
	c := ConsoleStatus{
		LiveTVProvider: r.u32(),
		Major:          r.u32(),
		Minor:          r.u32(),
		Build:          r.u32(),
		Locale:         r.str(),
	}
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		t := ActiveTitle{TitleID: r.u32()}
		disposition := r.u16()
		t.HasFocus = disposition&titleFlagFocus != 0
		t.Location = disposition & titleLocationMax
		t.ProductID = r.uuid()
		t.SandboxID = r.uuid()
		t.AUMID = r.str()
		c.Titles = append(c.Titles, t)
	}
	if r.err != nil {
		return ConsoleStatus{}, fmt.Errorf("console status: %w", r.err)
	}
	return c, nil
}

// focused returns the title holding focus, falling back to the first one.
func (c ConsoleStatus) focused() (ActiveTitle, bool) {
	for _, t := range c.Titles {
		if t.HasFocus {
			return t, true
		}
	}
	if len(c.Titles) > 0 {
		return c.Titles[0], true
	}
	return ActiveTitle{}, false
}

// consoleModels maps advertised client types to model names.
var consoleModels = map[uint16]string{
	clientTypeXboxOne: "Xbox One",
}

// deviceInfo builds the DeviceInfo for the console that sent c.
// The firmware revision is the system version of the status report.
func (c ConsoleStatus) deviceInfo(info *ConsoleInfo, liveID string) DeviceInfo {
	d := DeviceInfo{
		Manufacturer:     "Microsoft",
		Model:            "Xbox",
		SerialNumber:     liveID,
		FirmwareRevision: fmt.Sprintf("%d.%d.%d", c.Major, c.Minor, c.Build),
		Locale:           c.Locale,
	}
	if info != nil {
		if model, ok := consoleModels[info.ConsoleType]; ok {
			d.Model = model
		}
		if info.LiveID != "" {
			d.SerialNumber = info.LiveID
		}
		d.Name = info.Name
	}
	return d
}

// Media playback status as reported on the media channel.
const (
	playbackClosed   uint16 = 0
	playbackChanging uint16 = 1
	playbackStopped  uint16 = 2
	playbackPlaying  uint16 = 3
	playbackPaused   uint16 = 4
)

// Media sound levels.
const (
	soundMuted uint16 = 0
	soundLow   uint16 = 1
	soundFull  uint16 = 2
)

// MediaMetadata is one name/value pair of the playing asset.
type MediaMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MediaStatus is the media-channel playback report.
type MediaStatus struct {
	TitleID         uint32          `json:"title_id"`
	AUMID           string          `json:"aum_id"`
	AssetID         string          `json:"asset_id"`
	MediaType       uint16          `json:"media_type"`
	SoundLevel      uint16          `json:"sound_level"`
	EnabledCommands uint32          `json:"enabled_commands"`
	PlaybackStatus  uint16          `json:"playback_status"`
	Rate            float32         `json:"rate"`
	Position        uint64          `json:"position"`
	MediaStart      uint64          `json:"media_start"`
	MediaEnd        uint64          `json:"media_end"`
	MinSeek         uint64          `json:"min_seek"`
	MaxSeek         uint64          `json:"max_seek"`
	Metadata        []MediaMetadata `json:"metadata"`
}

// playback maps the wire status onto the snapshot media state.
func (m MediaStatus) playback() MediaState {
	switch m.PlaybackStatus {
	case playbackClosed, playbackStopped:
		return MediaStopped
	case playbackPlaying:
		return MediaPlaying
	case playbackPaused:
		return MediaPaused
	default:
		return MediaUnknown
	}
}

func (m MediaStatus) encode() []byte {
	w := &writer{}
	w.u32(m.TitleID)
	w.str(m.AUMID)
	w.str(m.AssetID)
	w.u16(m.MediaType)
	w.u16(m.SoundLevel)
	w.u32(m.EnabledCommands)
	w.u16(m.PlaybackStatus)
	w.f32(m.Rate)
	w.u64(m.Position)
	w.u64(m.MediaStart)
	w.u64(m.MediaEnd)
	w.u64(m.MinSeek)
	w.u64(m.MaxSeek)
	w.u16(uint16(len(m.Metadata)))
	for _, md := range m.Metadata {
		w.str(md.Name)
		w.str(md.Value)
	}
	return w.buf
}

func decodeMediaStatus(b []byte) (MediaStatus, error) {
	r := &reader{b: b}
	m := MediaStatus{
		TitleID:         r.u32(),
		AUMID:           r.str(),
		AssetID:         r.str(),
		MediaType:       r.u16(),
		SoundLevel:      r.u16(),
		EnabledCommands: r.u32(),
		PlaybackStatus:  r.u16(),
		Rate:            r.f32(),
		Position:        r.u64(),
		MediaStart:      r.u64(),
		MediaEnd:        r.u64(),
		MinSeek:         r.u64(),
		MaxSeek:         r.u64(),
	}
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		m.Metadata = append(m.Metadata, MediaMetadata{Name: r.str(), Value: r.str()})
	}
	if r.err != nil {
		return MediaStatus{}, fmt.Errorf("media state: %w", r.err)
	}
	return m, nil
}

// mediaCommand is a transport command for the focused title.
type mediaCommand struct {
	RequestID    uint64
	TitleID      uint32
	Command      uint32
	SeekPosition uint64
}

func (m mediaCommand) encode() []byte {
	w := &writer{}
	w.u64(m.RequestID)
	w.u32(m.TitleID)
	w.u32(m.Command)
	if m.Command == vocabulary[ChannelMedia]["seek"].code {
		w.u64(m.SeekPosition)
	}
	return w.buf
}

// gamepadInput is one controller report. A zero Buttons mask releases
// every button.
type gamepadInput struct {
	Timestamp    uint64
	Buttons      uint16
	LeftTrigger  float32
	RightTrigger float32
	LeftThumbX   float32
	LeftThumbY   float32
	RightThumbX  float32
	RightThumbY  float32
}

func (g gamepadInput) encode() []byte {
	w := &writer{}
	w.u64(g.Timestamp)
	w.u16(g.Buttons)
	w.f32(g.LeftTrigger)
	w.f32(g.RightTrigger)
	w.f32(g.LeftThumbX)
	w.f32(g.LeftThumbY)
	w.f32(g.RightThumbX)
	w.f32(g.RightThumbY)
	return w.buf
}

func decodeGamepad(b []byte) (gamepadInput, error) {
	r := &reader{b: b}
	g := gamepadInput{
		Timestamp:    r.u64(),
		Buttons:      r.u16(),
		LeftTrigger:  r.f32(),
		RightTrigger: r.f32(),
		LeftThumbX:   r.f32(),
		LeftThumbY:   r.f32(),
		RightThumbX:  r.f32(),
		RightThumbY:  r.f32(),
	}
	if r.err != nil {
		return gamepadInput{}, fmt.Errorf("gamepad: %w", r.err)
	}
	return g, nil
}

func encodeJSONBody(text string) []byte {
	w := &writer{}
	w.str(text)
	return w.buf
}

func decodeJSONBody(b []byte) (string, error) {
	r := &reader{b: b}
	s := r.str()
	if r.err != nil {
		return "", fmt.Errorf("json body: %w", r.err)
	}
	return s, nil
}

func encodePowerOffBody(liveID string) []byte {
	w := &writer{}
	w.str(liveID)
	return w.buf
}

func encodeGameDVRRecord(startDelta, endDelta int32) []byte {
	w := &writer{}
	w.u32(uint32(startDelta))
	w.u32(uint32(endDelta))
	return w.buf
}

// disconnectReason says why a peer ended the session.
type disconnectReason uint32

const (
	disconnectUnspecified disconnectReason = 0
	disconnectError       disconnectReason = 1
	disconnectPowerOff    disconnectReason = 2
	disconnectMaintenance disconnectReason = 3
	disconnectAppClose    disconnectReason = 4
	disconnectSignOut     disconnectReason = 5
	disconnectReboot      disconnectReason = 6
	disconnectDisabled    disconnectReason = 7
	disconnectLowPower    disconnectReason = 8
)

// power returns the power state a console announces by leaving for
// reason r. ok is false when the reason says nothing about power.
func (r disconnectReason) power() (p PowerState, ok bool) {
	switch r {
	case disconnectPowerOff:
		return PowerOff, true
	case disconnectLowPower:
		return PowerConnectedStandby, true
	case disconnectMaintenance:
		return PowerSystemUpdate, true
	default:
		return PowerUnknown, false
	}
}

// disconnectBody tells the peer the session is over.
type disconnectBody struct {
	Reason    disconnectReason
	ErrorCode uint32
}

func (d disconnectBody) encode() []byte {
	w := &writer{}
	w.u32(uint32(d.Reason))
	w.u32(d.ErrorCode)
	return w.buf
}

func decodeDisconnect(b []byte) (disconnectBody, error) {
	r := &reader{b: b}
	d := disconnectBody{Reason: disconnectReason(r.u32()), ErrorCode: r.u32()}
	if r.err != nil {
		return disconnectBody{}, fmt.Errorf("disconnect: %w", r.err)
	}
	return d, nil
}
