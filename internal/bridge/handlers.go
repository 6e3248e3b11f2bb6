package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-pdu/internal/accessory"
	"github.com/nerrad567/gray-logic-pdu/internal/audit"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/mqtt"
)

// handleCommandMessage processes a command from graylogic/command/pdu/+.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: command: %w", ErrInvalidMessage, err)
	}
	if id, ok := mqtt.LastSegment(topic); ok {
		cmd.DeviceID = id
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	a, err := b.resolve(cmd.DeviceID)
	if err != nil {
		b.publishAckError(cmd, ErrCodeNotConfigured, err.Error())
		return nil
	}

	var on bool
	switch cmd.Command {
	case CommandOn:
		on = true
	case CommandOff:
		on = false
	case CommandCycle:
		on = !a.State().On
	default:
		b.publishAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command: %s", cmd.Command))
		return nil
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := a.Write(ctx, on); err != nil {
		code := ErrCodeDeviceUnreachable
		if errors.Is(err, accessory.ErrNotBound) {
			code = ErrCodeNotReady
		}
		b.publishAckError(cmd, code, err.Error())
		return nil
	}

	b.publishAck(cmd, AckAccepted)
	return nil
}

// resolve looks up an accessory by its identity string.
func (b *Bridge) resolve(deviceID string) (*accessory.Accessory, error) {
	dir := b.directory()
	if dir == nil {
		return nil, fmt.Errorf("accessories not loaded")
	}
	id, err := accessory.ParseIdentity(deviceID)
	if err != nil {
		return nil, err
	}
	return dir.Lookup(id)
}

func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus) {
	b.publishJSON(b.topics.Ack(cmd.DeviceID), NewAckMessage(cmd, status), false)
	b.recordCommand(cmd, audit.OutcomeAccepted, nil)
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	b.publishJSON(b.topics.Ack(cmd.DeviceID), NewAckError(cmd, code, message), false)
	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message), "device_id", cmd.DeviceID)
	b.recordCommand(cmd, audit.OutcomeFailed, map[string]any{"code": code, "message": message})
}

// recordCommand writes an audit entry for an MQTT command. Failures to
// record are logged and never fail the command.
func (b *Bridge) recordCommand(cmd CommandMessage, outcome string, details map[string]any) {
	if b.opts.Audit == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["command"] = cmd.Command
	if cmd.ID != "" {
		details["command_id"] = cmd.ID
	}

	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()

	err := b.opts.Audit.Create(ctx, &audit.Entry{
		Action:     audit.ActionSwitch,
		EntityType: audit.EntityOutlet,
		EntityID:   cmd.DeviceID,
		Actor:      cmd.Source,
		Source:     audit.SourceMQTT,
		Outcome:    outcome,
		Details:    details,
	})
	if err != nil {
		b.logError("failed to record audit entry", err, "device_id", cmd.DeviceID)
	}
}

// handleRequestMessage processes a request from graylogic/request/pdu/+.
func (b *Bridge) handleRequestMessage(topic string, payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: request: %w", ErrInvalidMessage, err)
	}
	if req.RequestID == "" {
		id, ok := mqtt.LastSegment(topic)
		if !ok {
			return fmt.Errorf("%w: request without id", ErrInvalidMessage)
		}
		req.RequestID = id
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	case ActionDiscover:
		resp = b.handleDiscover(req)
	default:
		resp = NewResponseError(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	b.publishJSON(b.topics.Response(req.RequestID), resp, false)
	return nil
}

// handleReadState reads one outlet from the controller.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return NewResponseError(req, ErrCodeInvalidParameters, "device_id is required")
	}
	a, err := b.resolve(req.DeviceID)
	if err != nil {
		return NewResponseError(req, ErrCodeNotConfigured, err.Error())
	}

	// Derive timeout from bridge context so reads are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	st, err := a.Read(ctx)
	switch {
	case errors.Is(err, accessory.ErrNotBound):
		return NewResponseError(req, ErrCodeNotReady, err.Error())
	case err != nil:
		return NewResponseError(req, ErrCodeDeviceUnreachable, err.Error())
	}
	return NewResponse(req, map[string]any{
		"device_id": a.ID().String(),
		"state":     st,
	})
}

// handleReadAll returns the cached snapshot of every accessory.
func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	dir := b.directory()
	if dir == nil {
		return NewResponseError(req, ErrCodeNotReady, "accessories not loaded")
	}
	accessories := dir.Accessories()
	snapshots := make([]accessory.Snapshot, len(accessories))
	for i, a := range accessories {
		snapshots[i] = a.Snapshot()
	}
	return NewResponse(req, map[string]any{
		"count":       len(snapshots),
		"accessories": snapshots,
	})
}

// handleDiscover runs one discovery pass.
func (b *Bridge) handleDiscover(req RequestMessage) ResponseMessage {
	b.dirMu.RLock()
	rediscover := b.rediscover
	b.dirMu.RUnlock()

	if rediscover == nil {
		return NewResponseError(req, ErrCodeNotReady, "discovery not available")
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := rediscover(ctx); err != nil {
		return NewResponseError(req, ErrCodeBridgeError, err.Error())
	}
	return NewResponse(req, map[string]any{"message": "discovery complete"})
}
