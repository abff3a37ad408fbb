package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"aircomp/config"
)

type recordingCommander struct {
	calls []string
	err   error
}

func (c *recordingCommander) record(call string) error {
	c.calls = append(c.calls, call)
	return c.err
}

func (c *recordingCommander) TurnOn(context.Context) error { return c.record("on") }
func (c *recordingCommander) TurnOnFor(_ context.Context, d time.Duration) error {
	return c.record(fmt.Sprintf("on %s", d))
}
func (c *recordingCommander) TurnOff(context.Context) error { return c.record("off") }
func (c *recordingCommander) Run(context.Context) error     { return c.record("run") }
func (c *recordingCommander) Pause(context.Context) error   { return c.record("pause") }
func (c *recordingCommander) PurgeFor(_ context.Context, duration, delay time.Duration) error {
	return c.record(fmt.Sprintf("purge %s %s", duration, delay))
}
func (c *recordingCommander) SubmitSettings(_ context.Context, form map[string]string) error {
	return c.record(fmt.Sprintf("settings %d", len(form)))
}

func newTestConsumer(commander Commander) *CommandConsumer {
	cfg := &config.Config{RabbitMQQueue: "compressor_commands", RabbitMQExchange: "aircomp"}
	return newCommandConsumer(cfg, commander, "abc", zap.NewNop())
}

func TestProcessMessageDispatch(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"command":"on"}`, "on"},
		{`{"command":"on","shutdown_in":7200}`, "on 2h0m0s"},
		{`{"command":"off"}`, "off"},
		{`{"command":"run"}`, "run"},
		{`{"command":"pause"}`, "pause"},
		{`{"command":"purge","drain_duration":10,"drain_delay":5}`, "purge 10s 5s"},
		{`{"command":"settings","settings":{"start_pressure":"95","tank_pressure_sensor.value_max":"150"}}`, "settings 2"},
	}

	for _, tt := range tests {
		commander := &recordingCommander{}
		c := newTestConsumer(commander)

		if err := c.processMessage(context.Background(), []byte(tt.body)); err != nil {
			t.Errorf("Expected %s accepted, got %v", tt.body, err)
			continue
		}
		if len(commander.calls) != 1 || commander.calls[0] != tt.want {
			t.Errorf("Expected %q for %s, got %v", tt.want, tt.body, commander.calls)
		}
	}
}

func TestProcessMessageInvalid(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"command":"reboot"}`,
		`{"command":"settings"}`,
		`{"command":"purge","drain_duration":-1}`,
	}

	for _, body := range bodies {
		commander := &recordingCommander{}
		c := newTestConsumer(commander)

		err := c.processMessage(context.Background(), []byte(body))
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Expected ErrInvalidCommand for %s, got %v", body, err)
		}
		if len(commander.calls) != 0 {
			t.Errorf("Expected nothing sent for %s, got %v", body, commander.calls)
		}
	}
}

func TestProcessMessageCommandFailure(t *testing.T) {
	commander := &recordingCommander{err: errors.New("controller rejected command")}
	c := newTestConsumer(commander)

	err := c.processMessage(context.Background(), []byte(`{"command":"run"}`))
	if err == nil || errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Expected the command error passed through, got %v", err)
	}
}

func TestConsumerTagUsesInstance(t *testing.T) {
	c := newTestConsumer(&recordingCommander{})
	if c.consumerTag != "aircomp-abc" {
		t.Errorf("Expected consumer tag aircomp-abc, got %s", c.consumerTag)
	}
}
