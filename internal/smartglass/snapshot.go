package smartglass

import "strconv"

// PowerState is the power state as reported by the console.
type PowerState uint16

// Console power states, in wire order.
const (
	PowerOff              PowerState = 0
	PowerOn               PowerState = 1
	PowerConnectedStandby PowerState = 2
	PowerSystemUpdate     PowerState = 3
	PowerUnknown          PowerState = 4
)

// String returns the power state name.
func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	case PowerConnectedStandby:
		return "standby"
	case PowerSystemUpdate:
		return "updating"
	default:
		return "unknown"
	}
}

// IsOn projects the rich power state onto the snapshot boolean. Only a fully
// running console counts as on; standby and system update report false.
func (p PowerState) IsOn() bool {
	return p == PowerOn
}

// MediaState is the playback state of the focused media title.
type MediaState uint16

// Playback states.
const (
	MediaStopped MediaState = 0
	MediaPlaying MediaState = 1
	MediaPaused  MediaState = 2
	MediaUnknown MediaState = 3
)

// String returns the media state name.
func (m MediaState) String() string {
	switch m {
	case MediaStopped:
		return "stopped"
	case MediaPlaying:
		return "playing"
	case MediaPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Snapshot is the normalised, comparable view of console state.
// Snapshots are values; a Session never mutates one it has handed out.
type Snapshot struct {
	// Power is true only while the console reports itself fully on.
	Power bool `json:"power"`

	// Content identifies the foreground app or title. It is the
	// application reference (AUM id) when the console reports one,
	// otherwise the decimal title id.
	Content string `json:"content"`

	// TitleID is the numeric id of the foreground title, 0 if unknown.
	TitleID uint32 `json:"title_id"`

	// Volume is 0-100.
	Volume int `json:"volume"`

	// Muted reports whether audio output is muted.
	Muted bool `json:"muted"`

	// Media is the playback state of the focused title.
	Media MediaState `json:"media_state"`
}

// Equal reports whether two snapshots describe the same observable state.
func (s Snapshot) Equal(o Snapshot) bool {
	return s == o
}

// contentFor returns the content identifier for a title: the reference when
// present, else the decimal title id, else "" (caller keeps previous value).
func contentFor(reference string, titleID uint32) string {
	if reference != "" {
		return reference
	}
	if titleID != 0 {
		return strconv.FormatUint(uint64(titleID), 10)
	}
	return ""
}
