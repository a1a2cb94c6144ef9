package smartglass

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Channel names a logical command stream on the session.
type Channel string

// Command channels. Each has its own closed command vocabulary.
const (
	// ChannelMedia carries media transport commands for the focused title.
	ChannelMedia Channel = "media-transport"

	// ChannelInput carries controller button taps for menu navigation.
	ChannelInput Channel = "input-navigation"

	// ChannelRemote carries TV remote key passthrough (volume, mute).
	ChannelRemote Channel = "remote-passthrough"

	// channelCore is the always-open system channel used for acks,
	// telemetry, power off and special actions.
	channelCore Channel = "core"
)

// channelAliases maps the console's own service names onto channels.
var channelAliases = map[string]Channel{
	"systemMedia": ChannelMedia,
	"systemInput": ChannelInput,
	"tvRemote":    ChannelRemote,
}

// channelServices are the service ids requested when opening a channel.
var channelServices = map[Channel]uuid.UUID{
	ChannelMedia:  uuid.MustParse("48a9ca24-eb6d-4e12-8c43-d57469edd3cd"),
	ChannelInput:  uuid.MustParse("fa20b8ca-66fb-46e0-adb6-0b978a59d35f"),
	ChannelRemote: uuid.MustParse("d451e3b3-60bb-4c71-b3db-f994b1aca3a7"),
}

// Channels returns the user-addressable channels.
func Channels() []Channel {
	return []Channel{ChannelMedia, ChannelInput, ChannelRemote}
}

// ParseChannel resolves a channel name or one of its aliases.
func ParseChannel(name string) (Channel, error) {
	ch := Channel(name)
	if _, ok := vocabulary[ch]; ok {
		return ch, nil
	}
	if ch, ok := channelAliases[name]; ok {
		return ch, nil
	}
	return "", fmt.Errorf("%w: no channel %q", ErrUnknownCommand, name)
}

// commandSpec describes how one vocabulary entry is put on the wire.
type commandSpec struct {
	code     uint32 // media command or gamepad button mask
	key      string // remote key name
	takesArg bool
}

// vocabulary is the closed set of commands per channel.
var vocabulary = map[Channel]map[string]commandSpec{
	ChannelMedia: {
		"play":        {code: 2},
		"pause":       {code: 4},
		"playpause":   {code: 8},
		"stop":        {code: 16},
		"record":      {code: 32},
		"nextTrack":   {code: 64},
		"prevTrack":   {code: 128},
		"fastForward": {code: 256},
		"rewind":      {code: 512},
		"channelUp":   {code: 1024},
		"channelDown": {code: 2048},
		"back":        {code: 4096},
		"view":        {code: 8192},
		"menu":        {code: 16384},
		"seek":        {code: 32768, takesArg: true},
	},
	ChannelInput: {
		"nexus": {code: 2},
		"view1": {code: 4},
		"menu1": {code: 8},
		"a":     {code: 16},
		"b":     {code: 32},
		"x":     {code: 64},
		"y":     {code: 128},
		"up":    {code: 256},
		"down":  {code: 512},
		"left":  {code: 1024},
		"right": {code: 2048},
	},
	ChannelRemote: {
		"volUp":   {key: "btn.vol_up"},
		"volDown": {key: "btn.vol_down"},
		"volMute": {key: "btn.vol_mute"},
	},
}

// Vocabulary returns the sorted command codes accepted on a channel.
func Vocabulary(ch Channel) []string {
	cmds := vocabulary[ch]
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupCommand validates a command against the channel vocabulary.
func lookupCommand(ch Channel, code string, args []uint64) (commandSpec, error) {
	cmds, ok := vocabulary[ch]
	if !ok {
		return commandSpec{}, fmt.Errorf("%w: no channel %q", ErrUnknownCommand, ch)
	}
	def, ok := cmds[code]
	if !ok {
		return commandSpec{}, fmt.Errorf("%w: %q on %s", ErrUnknownCommand, code, ch)
	}
	switch {
	case len(args) > 1:
		return commandSpec{}, fmt.Errorf("%w: %q takes at most one argument", ErrInvalidArgument, code)
	case def.takesArg && len(args) == 0:
		return commandSpec{}, fmt.Errorf("%w: %q requires an argument", ErrInvalidArgument, code)
	case !def.takesArg && len(args) == 1:
		return commandSpec{}, fmt.Errorf("%w: %q takes no argument", ErrInvalidArgument, code)
	}
	return def, nil
}

// SpecialAction is a one-off system request outside the channel vocabularies.
type SpecialAction string

// Special actions.
const (
	// ActionRecordGameDVR captures a clip of the last minute of gameplay.
	ActionRecordGameDVR SpecialAction = "record_game_dvr"
)

// recordGameDVRWindow is the clip window requested by ActionRecordGameDVR.
const recordGameDVRWindow = 60 // seconds before now

// ParseSpecialAction resolves a special action name.
func ParseSpecialAction(name string) (SpecialAction, error) {
	switch SpecialAction(name) {
	case ActionRecordGameDVR:
		return ActionRecordGameDVR, nil
	case "recordGameDvr":
		return ActionRecordGameDVR, nil
	}
	return "", fmt.Errorf("%w: special action %q", ErrUnknownCommand, name)
}
