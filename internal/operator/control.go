package operator

import (
	"context"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/status"
	"github.com/large-farva/operator-console/internal/toast"
	"github.com/large-farva/operator-console/internal/transport"
)

// FetchDiagnostics polls /api/diagnostics, re-derives the header and patches
// the camera state. A failure toasts and drops the header to offline.
func (c *Console) FetchDiagnostics(ctx context.Context) (*api.Diagnostics, error) {
	d, err := c.client.Diagnostics(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Printf("console: diagnostics fetch failed: %v", err)
		c.toasts.Show("Failed to fetch diagnostics: "+err.Error(), toast.Error)
		c.mu.Lock()
		c.header = status.Offline()
		c.mu.Unlock()
		c.changed()
		return nil, err
	}

	c.mu.Lock()
	c.diagnostics = d
	c.header = status.DeriveHeader(d)
	c.mu.Unlock()
	c.camera.ApplyDiagnostics(d)
	c.changed()
	return d, nil
}

// FetchServiceInfo polls /api/info and folds its control fields into the
// transport registry and its camera fields into the camera state.
func (c *Console) FetchServiceInfo(ctx context.Context) (*api.Info, error) {
	info, err := c.client.Info(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.log.Printf("console: service info fetch failed: %v", err)
		c.camera.ApplyServiceInfo(nil, err)
		return nil, err
	}

	c.mu.Lock()
	c.info = info
	c.control = transport.Normalize(info.ControlPayload(), c.control)
	c.mu.Unlock()
	c.camera.ApplyServiceInfo(info, nil)
	c.changed()
	return info, nil
}

// FetchControlState polls /api/control/transport. Silent fetches log
// failures without toasting.
func (c *Console) FetchControlState(ctx context.Context, silent bool) (transport.ControlState, error) {
	raw, err := c.client.ControlTransport(ctx)
	if err != nil {
		c.log.Printf("console: control transport fetch failed: %v", err)
		if !silent {
			c.toasts.Show(errorText(err, "Failed to load control transport state"), toast.Error)
		}
		return c.ControlState(), err
	}

	c.mu.Lock()
	c.control = transport.NormalizeJSON(raw, c.control)
	state := c.control.Clone()
	c.mu.Unlock()
	c.changed()
	return state, nil
}

// ControlState returns a copy of the transport registry.
func (c *Console) ControlState() transport.ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control.Clone()
}

// ChangeTransport selects "auto" or a transport id. A second call while one
// is in flight returns ErrBusy. On success the registry is re-normalized,
// info, control and diagnostics are refreshed together, and the new mode is
// announced unless silent. On failure the registry is left untouched.
func (c *Console) ChangeTransport(ctx context.Context, mode string, silent bool) (transport.ControlState, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))

	c.mu.Lock()
	if c.controlPending {
		c.mu.Unlock()
		return transport.ControlState{}, ErrBusy
	}
	c.controlPending = true
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.controlPending = false
		c.mu.Unlock()
		c.changed()
	}()

	raw, err := c.client.SetControlTransport(ctx, mode)
	if err != nil {
		c.log.Printf("console: change transport to %q failed: %v", mode, err)
		if !silent {
			c.toasts.Show(errorText(err, "Failed to update control link"), toast.Error)
		}
		return transport.ControlState{}, err
	}

	c.mu.Lock()
	c.control = transport.NormalizeJSON(raw, c.control)
	computed := c.control.Clone()
	c.mu.Unlock()
	c.changed()

	c.settle(ctx, c.refreshInfo, c.refreshControl, c.refreshDiagnostics)

	if !silent {
		c.toasts.Show("Control link set to "+transport.ModeLabel(computed), toast.Success)
	}
	return computed, nil
}

func errorText(err error, fallback string) string {
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
