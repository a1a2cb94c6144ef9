package smartglass

import (
	"errors"
	"testing"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"media-transport", ChannelMedia, false},
		{"input-navigation", ChannelInput, false},
		{"remote-passthrough", ChannelRemote, false},
		{"systemMedia", ChannelMedia, false},
		{"systemInput", ChannelInput, false},
		{"tvRemote", ChannelRemote, false},
		{"core", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseChannel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLookupCommand(t *testing.T) {
	tests := []struct {
		name     string
		channel  Channel
		code     string
		args     []uint64
		wantCode uint32
		wantKey  string
		wantErr  error
	}{
		{"media play", ChannelMedia, "play", nil, 2, "", nil},
		{"media seek", ChannelMedia, "seek", []uint64{1200}, 32768, "", nil},
		{"input nexus", ChannelInput, "nexus", nil, 2, "", nil},
		{"input right", ChannelInput, "right", nil, 2048, "", nil},
		{"remote volume up", ChannelRemote, "volUp", nil, 0, "btn.vol_up", nil},
		{"case sensitive", ChannelMedia, "Play", nil, 0, "", ErrUnknownCommand},
		{"two args", ChannelMedia, "seek", []uint64{1, 2}, 0, "", ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := lookupCommand(tt.channel, tt.code, tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def.code != tt.wantCode || def.key != tt.wantKey {
				t.Errorf("def = %+v, want code %d key %q", def, tt.wantCode, tt.wantKey)
			}
		})
	}
}

func TestVocabularyIsClosedPerChannel(t *testing.T) {
	if got := len(Vocabulary(ChannelMedia)); got != 15 {
		t.Errorf("media vocabulary size = %d, want 15", got)
	}
	if got := len(Vocabulary(ChannelInput)); got != 11 {
		t.Errorf("input vocabulary size = %d, want 11", got)
	}
	if got := Vocabulary(ChannelRemote); len(got) != 3 || got[0] != "volDown" {
		t.Errorf("remote vocabulary = %v, want sorted 3 entries", got)
	}
	if got := Vocabulary(channelCore); len(got) != 0 {
		t.Errorf("core vocabulary = %v, want empty", got)
	}
	for _, ch := range Channels() {
		if _, ok := channelServices[ch]; !ok {
			t.Errorf("channel %s has no service id", ch)
		}
	}
}

func TestParseSpecialAction(t *testing.T) {
	for _, in := range []string{"record_game_dvr", "recordGameDvr"} {
		if got, err := ParseSpecialAction(in); err != nil || got != ActionRecordGameDVR {
			t.Errorf("ParseSpecialAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseSpecialAction("reboot"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("ParseSpecialAction(reboot) error = %v, want ErrUnknownCommand", err)
	}
}
