package operator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/toast"
)

// Emergency stop prompt.
const (
	BrakeTitle   = "Emergency Stop"
	BrakeMessage = "This will immediately stop all actuators. Are you sure?"
)

// CommandOutput returns the text of the last command result.
func (c *Console) CommandOutput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandOutput
}

// ClearCommandOutput empties the command output pane.
func (c *Console) ClearCommandOutput() {
	c.setOutput("")
}

// StartTask sends START, or START <task> when a task id is given.
func (c *Console) StartTask(ctx context.Context, task string) error {
	task = strings.TrimSpace(task)
	command, label := "START", "default"
	if task != "" {
		command, label = "START "+task, task
	}

	if _, err := c.client.Command(ctx, command, false); err != nil {
		c.commandFailed(err, err.Error())
		return err
	}
	c.setOutput("✓ START command sent (" + label + ")")
	c.toasts.Show("Task started: "+label, toast.Success)
	c.spawn(c.refreshDiagnostics)
	return nil
}

// ExecuteRaw sends an arbitrary CLI command and shows the parsed reply.
func (c *Console) ExecuteRaw(ctx context.Context, command string) (*api.CommandResult, error) {
	command = strings.TrimSpace(command)
	res, err := c.client.Command(ctx, command, false)
	if err != nil {
		c.commandFailed(err, err.Error())
		return nil, err
	}
	c.setOutput(prettyJSON(res))
	c.toasts.Show("Command executed", toast.Success)
	c.spawn(c.refreshDiagnostics)
	return res, nil
}

// Brake sends BRAKE immediately. Callers facing an operator should use
// EmergencyBrake instead.
func (c *Console) Brake(ctx context.Context) ([]string, error) {
	res, err := c.client.Command(ctx, "BRAKE", false)
	if err != nil {
		c.commandFailed(err, "BRAKE failed: "+err.Error())
		return nil, err
	}
	if res.Raw != nil {
		c.setOutput(prettyJSON(res.Raw))
	} else {
		c.setOutput(prettyJSON(res))
	}
	c.toasts.Show("BRAKE activated", toast.Warning)
	c.spawn(c.refreshDiagnostics)
	return res.Raw, nil
}

// EmergencyBrake asks for confirmation and then brakes. It reports whether
// the brake was sent; a declined prompt is not an error. Repeated calls
// while one is in flight return ErrBusy.
func (c *Console) EmergencyBrake(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.braking {
		c.mu.Unlock()
		return false, ErrBusy
	}
	c.braking = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.braking = false
		c.mu.Unlock()
	}()

	ok, err := c.gate.Confirm(ctx, BrakeTitle, BrakeMessage)
	if err != nil || !ok {
		return false, err
	}
	if _, err := c.Brake(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Console) commandFailed(err error, message string) {
	c.log.Printf("console: command failed: %v", err)
	c.setOutput("✗ " + err.Error())
	c.toasts.Show(message, toast.Error)
}

func (c *Console) setOutput(text string) {
	c.mu.Lock()
	c.commandOutput = text
	c.mu.Unlock()
	c.changed()
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}
