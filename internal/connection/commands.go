package connection

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/realtime/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/realtime/internal/shared/id"
)

// SendCommand sends a raw_command to agentName over the open connection
// for key and tracks it until its raw_command_result arrives, it is
// cancelled, or the socket goes away.
func (m *Manager) SendCommand(ctx context.Context, key protocol.ConnectionKey, agentName, command string) (string, error) {
	commandID := id.NewCommandID().String()

	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok || rec.state != StateOpen || rec.socket == nil {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	sock := rec.socket
	commands := rec.commands
	commands[commandID] = PendingCommand{
		CommandID: commandID,
		AgentName: agentName,
		Command:   command,
		IssuedAt:  m.clock.Now(),
	}
	m.mu.Unlock()

	f, err := protocol.NewFrame(protocol.TypeRawCommand, m.settings.ClientName, protocol.RawCommand{
		CommandID: commandID,
		AgentName: agentName,
		Command:   command,
	})
	if err == nil {
		err = m.write(ctx, sock, f)
	}
	if err != nil {
		m.mu.Lock()
		delete(commands, commandID)
		m.mu.Unlock()
		return "", err
	}

	m.logger.Debug("command sent",
		zap.String("key", key.String()),
		zap.String("command_id", commandID),
		zap.String("agent", agentName),
	)
	return commandID, nil
}

// CancelCommand stops tracking commandID and asks the remote end to
// cancel it.
func (m *Manager) CancelCommand(ctx context.Context, key protocol.ConnectionKey, commandID string) error {
	m.mu.Lock()
	rec, ok := m.records[key]
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if _, pending := rec.commands[commandID]; !pending {
		m.mu.Unlock()
		return ErrUnknownCommand
	}
	delete(rec.commands, commandID)
	m.mu.Unlock()

	f, err := protocol.NewFrame(protocol.TypeRawCommandCancel, m.settings.ClientName, protocol.RawCommandCancel{CommandID: commandID})
	if err != nil {
		return err
	}
	return m.Send(ctx, key, f)
}

// PendingCommands returns the commands of key awaiting a result, oldest
// first.
func (m *Manager) PendingCommands(key protocol.ConnectionKey) []PendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	out := make([]PendingCommand, 0, len(rec.commands))
	for _, c := range rec.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].CommandID < out[j].CommandID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}
