// Package alert fans a handful of operator-facing events (kill-switch
// engagement, AUTH-kind exchange errors, invariant violations) out to one or
// more delivery channels. Grounded on the teacher's internal/alert package
// (AlertManager/AlertChannel/AlertPayload). Every send, whatever its level,
// waits for all channels to finish; a channel failure is logged and is not
// retried or reported back to the caller.
package alert

import (
	"context"
	"sync"
	"time"

	"market_maker/pkg/logging"
)

// Level mirrors the teacher's AlertLevel enum.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Payload is the teacher's AlertPayload, unchanged in shape.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel is the teacher's AlertChannel contract.
type Channel interface {
	Send(ctx context.Context, payload Payload) error
	Name() string
}

// Manager fans a Payload out to every registered channel concurrently, the
// same pattern the teacher's AlertManager uses, with a per-channel timeout
// so one unreachable channel can't block the others.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	logger   logging.Logger
}

func NewManager(logger logging.Logger) *Manager {
	return &Manager{logger: logger.WithField("component", "alert_manager")}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("alert channel registered", "name", ch.Name())
}

// Send delivers payload to every channel. It never returns an error itself:
// a channel failure is logged and the remaining channels still get a shot,
// matching the teacher's "alerting must never be allowed to take down the
// trading loop" posture.
func (m *Manager) Send(ctx context.Context, level Level, title, message string, fields map[string]string) {
	payload := Payload{Level: level, Title: title, Message: message, Timestamp: time.Now(), Fields: fields}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err.Error())
			}
		}(ch)
	}
	wg.Wait()
}
