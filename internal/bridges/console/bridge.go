package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/audit"
	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

// Bridge operation constants.
const (
	// topicParts is the number of levels in a command or request topic.
	topicParts = 4

	// commandTimeout bounds a channel command or special action.
	commandTimeout = 15 * time.Second

	// powerTimeout bounds power on/off, which includes the wake sequence.
	powerTimeout = 60 * time.Second

	// auditTimeout bounds writing one audit entry.
	auditTimeout = 5 * time.Second
)

// Logger is the structured logger used by the bridge.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// AuditRecorder stores audited commands. *audit.SQLiteRepository satisfies it.
type AuditRecorder interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Bridge connects the console manager to the MQTT bus.
// It handles:
//   - Commands from Core, acknowledged on the ack topic and audited
//   - Read requests (state, all states, session diagnostics)
//   - Publishing state, device info, raw telemetry and session events
//   - Health reporting and graceful shutdown
//
// Bridge implements consoles.Sink; register it with the manager before Start.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	ctl      consoles.Controller
	mqtt     MQTTClient
	audit    AuditRecorder
	health   *HealthReporter
	prefixes map[string]string
	now      func() time.Time

	commandsReceived  atomic.Uint64
	commandsFailed    atomic.Uint64
	messagesPublished atomic.Uint64
	errorsTotal       atomic.Uint64

	// Shutdown coordination
	mu        sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// Ensure Bridge implements consoles.Sink.
var _ consoles.Sink = (*Bridge)(nil)

// Options holds what is needed to create a bridge.
type Options struct {
	// Controller drives the consoles.
	Controller consoles.Controller

	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Consoles supplies per-console telemetry prefixes.
	Consoles []config.ConsoleConfig

	// Audit is optional; commands are not audited without it.
	Audit AuditRecorder

	// BridgeID and Version identify the bridge in health reports.
	BridgeID string
	Version  string

	// HealthInterval defaults to 30 seconds.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger

	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("console controller is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		ctl:       opts.Controller,
		mqtt:      opts.MQTTClient,
		audit:     opts.Audit,
		prefixes:  make(map[string]string, len(opts.Consoles)),
		now:       now,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	for _, c := range opts.Consoles {
		if c.MQTTPrefix != "" {
			b.prefixes[c.ID] = strings.TrimSuffix(c.MQTTPrefix, "/")
		}
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Consoles:  opts.Controller,
		Stats:     b.Statistics,
		Logger:    opts.Logger,
		Now:       now,
	})
	return b, nil
}

// Start subscribes to command and request topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topics := mqtt.Topics{}
	if err := b.mqtt.Subscribe(topics.AllConsoleCommands(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topics.AllConsoleCommands())

	if err := b.mqtt.Subscribe(topics.AllRequests(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", topics.AllRequests())

	b.health.Start(ctx)
	b.logInfo("console bridge started")
	return nil
}

// Stop cancels in-flight commands, waits for their handlers and publishes
// a final health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("console bridge stopped")
	})
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() BridgeStatistics {
	return BridgeStatistics{
		CommandsReceived:  b.commandsReceived.Load(),
		CommandsFailed:    b.commandsFailed.Load(),
		MessagesPublished: b.messagesPublished.Load(),
		Errors:            b.errorsTotal.Load(),
	}
}

// handleMQTTMessage routes incoming messages. Work runs on the bridge's own
// goroutines because commands block until the console answers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[3] == "" {
		b.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var work func()
	switch parts[1] {
	case "command":
		work = func() { b.handleCommand(parts[3], payload) }
	case "request":
		work = func() { b.handleRequest(payload) }
	default:
		b.errorsTotal.Add(1)
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		work()
	}()
	return nil
}

// handleCommand executes one command and acknowledges it.
// The topic's console id is authoritative.
func (b *Bridge) handleCommand(consoleID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to parse command", err)
		return
	}
	cmd.ConsoleID = consoleID
	b.commandsReceived.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"console_id", consoleID,
		"command", cmd.Command)

	timeout := commandTimeout
	switch cmd.Command {
	case CommandPowerOn, CommandPowerOff:
		timeout = powerTimeout
	case CommandSend, CommandSpecialAction:
	default:
		b.finishCommand(cmd, fmt.Errorf("%w: command %q", smartglass.ErrUnknownCommand, cmd.Command))
		return
	}

	if _, err := b.ctl.Status(consoleID); err != nil {
		b.finishCommand(cmd, err)
		return
	}

	b.publishAck(NewAckMessage(cmd, AckAccepted, b.now()))

	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CommandPowerOn:
		err = b.ctl.PowerOn(ctx, consoleID)
	case CommandPowerOff:
		err = b.ctl.PowerOff(ctx, consoleID)
	case CommandSend:
		err = b.ctl.SendCommand(ctx, consoleID, cmd.Channel, cmd.Code, cmd.Args...)
	case CommandSpecialAction:
		err = b.ctl.SpecialAction(ctx, consoleID, cmd.Action)
	}
	b.finishCommand(cmd, err)
}

// finishCommand publishes the final ack and records the audit entry.
func (b *Bridge) finishCommand(cmd CommandMessage, err error) {
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(NewAckError(cmd, err, b.now()))
		b.logWarn("command failed",
			"command_id", cmd.ID,
			"console_id", cmd.ConsoleID,
			"code", consoles.ErrorCode(err),
			"error", err)
	} else {
		b.publishAck(NewAckMessage(cmd, AckCompleted, b.now()))
	}
	b.recordAudit(cmd, err)
}

func (b *Bridge) recordAudit(cmd CommandMessage, err error) {
	if b.audit == nil {
		return
	}

	details := map[string]any{"command_id": cmd.ID}
	var action string
	switch cmd.Command {
	case CommandPowerOn:
		action = audit.ActionPowerOn
	case CommandPowerOff:
		action = audit.ActionPowerOff
	case CommandSpecialAction:
		action = audit.ActionSpecial
		details["action"] = cmd.Action
	default:
		action = audit.ActionCommand
		details["channel"] = cmd.Channel
		details["code"] = cmd.Code
		if len(cmd.Args) > 0 {
			details["args"] = cmd.Args
		}
	}
	result := audit.ResultOK
	if err != nil {
		result = audit.ResultFailed
		details["error"] = consoles.ErrorCode(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	entry := &audit.Entry{
		Action:    action,
		ConsoleID: cmd.ConsoleID,
		Actor:     cmd.UserID,
		Source:    audit.SourceMQTT,
		Details:   details,
		Result:    result,
		CreatedAt: b.now(),
	}
	if aerr := b.audit.Create(ctx, entry); aerr != nil {
		b.logError("failed to record audit entry", aerr)
	}
}

// handleRequest answers one read request.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		b.errorsTotal.Add(1)
		b.logError("request without id", ErrInvalidMessage)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case RequestReadState:
		resp = b.readState(req)
	case RequestReadAll:
		resp = ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: b.now().UTC(),
			Success:   true,
			Data:      map[string]any{"consoles": b.ctl.List()},
		}
	case RequestDiagnostics:
		resp = b.diagnostics(req)
	default:
		resp = errorResponse(req, consoles.CodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action), b.now())
	}

	b.publishJSON(mqtt.Topics{}.Response(req.RequestID), resp, false)
}

func (b *Bridge) readState(req RequestMessage) ResponseMessage {
	if req.ConsoleID == "" {
		return errorResponse(req, consoles.CodeInvalidArgument, "console_id is required", b.now())
	}
	st, err := b.ctl.Status(req.ConsoleID)
	if err != nil {
		return errorResponse(req, consoles.ErrorCode(err), err.Error(), b.now())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: b.now().UTC(),
		Success:   true,
		Data:      map[string]any{"console": st},
	}
}

func (b *Bridge) diagnostics(req RequestMessage) ResponseMessage {
	if req.ConsoleID == "" {
		return errorResponse(req, consoles.CodeInvalidArgument, "console_id is required", b.now())
	}
	d, err := b.ctl.Diagnostics(req.ConsoleID)
	if err != nil {
		return errorResponse(req, consoles.ErrorCode(err), err.Error(), b.now())
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: b.now().UTC(),
		Success:   true,
		Data: map[string]any{
			"state":             d.State.String(),
			"power_state":       d.PowerState.String(),
			"terminal":          d.Terminal,
			"reconnect_attempt": d.ReconnectAttempt,
			"open_channels":     d.OpenChannels,
			"frames_tx":         d.FramesTx,
			"frames_rx":         d.FramesRx,
			"frames_dropped":    d.FramesDropped,
			"commands_ok":       d.CommandsOK,
			"commands_failed":   d.CommandsFailed,
			"reconnects":        d.Reconnects,
		},
	}
}

// HandleEvent publishes one session event. State and device info are
// retained; telemetry and notifications are not.
func (b *Bridge) HandleEvent(consoleID string, ev smartglass.Event) {
	topics := mqtt.Topics{}
	switch ev.Type {
	case smartglass.EventStateChanged:
		b.publishJSON(topics.ConsoleState(consoleID), NewStateMessage(consoleID, ev.Snapshot, ev.Time), true)
	case smartglass.EventDeviceInfo:
		b.publishJSON(topics.ConsoleInfo(consoleID), NewInfoMessage(consoleID, ev.DeviceInfo, ev.Time), true)
	case smartglass.EventTelemetryRaw:
		topic := topics.Telemetry(b.prefixes[consoleID], consoleID, ev.Topic)
		b.publish(topic, ev.Payload, false)
	default:
		b.publishJSON(topics.ConsoleEvent(consoleID), consoles.NewEventPayload(consoleID, ev), false)
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	b.publishJSON(mqtt.Topics{}.ConsoleAck(ack.ConsoleID), ack, false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.errorsTotal.Add(1)
		b.logError("failed to marshal message", err)
		return
	}
	b.publish(topic, payload, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.errorsTotal.Add(1)
		b.logDebug("publish failed", "topic", topic, "error", err)
		return
	}
	b.messagesPublished.Add(1)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
