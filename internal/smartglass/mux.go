package smartglass

import (
	"fmt"
	"time"
)

// Wire ids of the always-open channels. Acknowledgements travel on their
// own id and are routed like core frames.
const (
	coreChannelID uint64 = 0
	ackChannelID  uint64 = 0x1000000000000000
)

// channelState is one logical channel. Owned by the session worker.
type channelState struct {
	name      Channel
	id        uint64
	open      bool
	opening   bool
	requestID uint32
	openTimer *time.Timer
	waiters   []chan error

	queue    []*command
	inflight *command
}

// multiplexer tracks the channel table of one connection. A new one is
// created for every connection, so channels never survive a disconnect.
type multiplexer struct {
	byName      map[Channel]*channelState
	byID        map[uint64]*channelState
	byRequest   map[uint32]*channelState
	bySeq       map[uint32]*command
	nextRequest uint32
}

func newMultiplexer() *multiplexer {
	core := &channelState{name: channelCore, id: coreChannelID, open: true}
	return &multiplexer{
		byName:    map[Channel]*channelState{channelCore: core},
		byID:      map[uint64]*channelState{coreChannelID: core, ackChannelID: core},
		byRequest: make(map[uint32]*channelState),
		bySeq:     make(map[uint32]*command),
	}
}

// channel returns the named channel, creating a closed entry on first use.
func (m *multiplexer) channel(name Channel) *channelState {
	ch, ok := m.byName[name]
	if !ok {
		ch = &channelState{name: name}
		m.byName[name] = ch
	}
	return ch
}

// beginOpen marks ch as opening and returns the request to send. It returns
// false if ch is already open or an open is in flight.
func (m *multiplexer) beginOpen(ch *channelState) (startChannelRequest, bool) {
	if ch.open || ch.opening {
		return startChannelRequest{}, false
	}
	m.nextRequest++
	ch.opening = true
	ch.requestID = m.nextRequest
	m.byRequest[ch.requestID] = ch
	return startChannelRequest{
		RequestID: ch.requestID,
		Service:   channelServices[ch.name],
	}, true
}

// completeOpen applies a start channel response.
func (m *multiplexer) completeOpen(resp startChannelResponse) (*channelState, error) {
	ch, ok := m.byRequest[resp.RequestID]
	if !ok {
		return nil, fmt.Errorf("no pending open for request %d", resp.RequestID)
	}
	delete(m.byRequest, resp.RequestID)
	ch.opening = false
	if resp.Result != 0 {
		return ch, fmt.Errorf("%w: console refused %s (result %d)", ErrChannelNotOpen, ch.name, resp.Result)
	}
	ch.open = true
	ch.id = resp.ChannelID
	m.byID[ch.id] = ch
	return ch, nil
}

// abortOpen forgets an open that will never complete.
func (m *multiplexer) abortOpen(ch *channelState) {
	delete(m.byRequest, ch.requestID)
	ch.opening = false
}

// route returns the open channel carrying wire id.
func (m *multiplexer) route(id uint64) (*channelState, bool) {
	ch, ok := m.byID[id]
	if !ok || !ch.open {
		return nil, false
	}
	return ch, true
}

// openChannels returns the names of open user channels.
func (m *multiplexer) openChannels() []Channel {
	var out []Channel
	for _, name := range Channels() {
		if ch, ok := m.byName[name]; ok && ch.open {
			out = append(out, name)
		}
	}
	return out
}

// teardown stops every timer and returns every pending command, in-flight
// first then queued, per channel.
func (m *multiplexer) teardown() (pending []*command, waiters []chan error) {
	for _, ch := range m.byName {
		if ch.openTimer != nil {
			ch.openTimer.Stop()
			ch.openTimer = nil
		}
		if ch.inflight != nil {
			pending = append(pending, ch.inflight)
			ch.inflight = nil
		}
		pending = append(pending, ch.queue...)
		ch.queue = nil
		waiters = append(waiters, ch.waiters...)
		ch.waiters = nil
		ch.open = false
		ch.opening = false
	}
	clear(m.bySeq)
	clear(m.byRequest)
	return pending, waiters
}
