package operator

import (
	"context"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/shelfmap"
	"github.com/large-farva/operator-console/internal/toast"
)

// Shelf reset prompt.
const (
	ShelfResetTitle   = "Reset Shelf Map"
	ShelfResetMessage = "Restore the default color layout on the robot? Current assignments will be lost."
)

// ShelfMap is the shelf map with its grid validated against the palette.
type ShelfMap struct {
	Grid      shelfmap.Grid           `json:"grid"`
	Palette   []shelfmap.PaletteEntry `json:"palette"`
	Raw       string                  `json:"raw,omitempty"`
	Timestamp float64                 `json:"timestamp,omitempty"`
	Source    string                  `json:"source,omitempty"`
	Persisted *bool                   `json:"persisted,omitempty"`
}

// ShelfPalette returns the palette from the last shelf map response.
func (c *Console) ShelfPalette() []shelfmap.PaletteEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]shelfmap.PaletteEntry(nil), c.shelfPalette...)
}

// ReloadShelfMap fetches the shelf map. While another shelf operation is in
// flight it returns the current map without a request.
func (c *Console) ReloadShelfMap(ctx context.Context, silent bool) (*ShelfMap, error) {
	c.mu.Lock()
	if c.shelfBusy {
		m := c.shelf
		c.mu.Unlock()
		return m, nil
	}
	c.shelfBusy = true
	if !silent {
		c.shelfStatus = StatusLine{Message: "Loading shelf map…", Tone: toast.Info}
	}
	c.mu.Unlock()
	c.changed()
	defer c.releaseShelf()

	m, err := c.applyShelfResponse(c.client.ShelfMap(ctx))
	if err != nil {
		c.log.Printf("console: shelf map fetch failed: %v", err)
		c.setShelfStatus(errorText(err, "Failed to load shelf map"), toast.Error)
		if !silent {
			c.toasts.Show("Failed to load shelf map: "+err.Error(), toast.Error)
		}
		return nil, err
	}
	if !silent {
		c.setShelfStatus("Shelf map loaded", toast.Success)
		c.toasts.Show("Shelf map loaded", toast.Success)
	}
	return m, nil
}

// UpdateShelfMap validates grid against the current palette and writes it.
// An invalid grid is rejected before any request is made.
func (c *Console) UpdateShelfMap(ctx context.Context, grid [][]string, persist bool) (*ShelfMap, error) {
	c.mu.Lock()
	codes := shelfmap.Codes(c.shelfPalette)
	c.mu.Unlock()

	valid, err := shelfmap.ValidateGrid(grid, codes)
	if err != nil {
		c.setShelfStatus(err.Error(), toast.Error)
		c.toasts.Show(err.Error(), toast.Error)
		return nil, err
	}

	if !c.acquireShelf("Applying shelf map…") {
		return nil, ErrBusy
	}
	defer c.releaseShelf()

	resp, err := c.client.UpdateShelfMap(ctx, valid, persist)
	if err == nil && len(resp.Grid) == 0 {
		resp.Grid = valid
	}
	m, err := c.applyShelfResponse(resp, err)
	if err != nil {
		c.log.Printf("console: shelf map update failed: %v", err)
		msg := errorText(err, "Failed to update shelf map")
		c.setShelfStatus(msg, toast.Error)
		c.toasts.Show(msg, toast.Error)
		return nil, err
	}

	msg := "Shelf map updated"
	if persist {
		msg = "Shelf map saved to flash"
	}
	c.setShelfStatus(msg, toast.Success)
	c.toasts.Show(msg, toast.Success)
	c.settle(ctx, c.refreshDiagnostics, c.refreshInfo)
	return m, nil
}

// ResetShelfMap asks for confirmation and restores the firmware default
// map. A declined prompt returns nil without error.
func (c *Console) ResetShelfMap(ctx context.Context, persist bool) (*ShelfMap, error) {
	ok, err := c.gate.Confirm(ctx, ShelfResetTitle, ShelfResetMessage)
	if err != nil || !ok {
		return nil, err
	}

	if !c.acquireShelf("Resetting shelf map…") {
		return nil, ErrBusy
	}
	defer c.releaseShelf()

	m, err := c.applyShelfResponse(c.client.ResetShelfMap(ctx, persist))
	if err != nil {
		c.log.Printf("console: shelf map reset failed: %v", err)
		msg := errorText(err, "Failed to reset shelf map")
		c.setShelfStatus(msg, toast.Error)
		c.toasts.Show(msg, toast.Error)
		return nil, err
	}

	msg := "Shelf map reset to firmware defaults"
	if persist {
		msg = "Shelf map reset and saved to flash"
	}
	c.setShelfStatus(msg, toast.Success)
	c.toasts.Show(msg, toast.Success)
	c.settle(ctx, c.refreshDiagnostics, c.refreshInfo)
	return m, nil
}

// applyShelfResponse normalizes the palette, validates the grid against it
// and stores the result.
func (c *Console) applyShelfResponse(resp *api.ShelfMap, err error) (*ShelfMap, error) {
	if err != nil {
		return nil, err
	}
	palette := shelfmap.NormalizePalette(resp.Palette)
	raw := resp.Grid
	if len(raw) == 0 {
		raw = shelfmap.EmptyGrid()
	}
	grid, err := shelfmap.ValidateGrid(raw, shelfmap.Codes(palette))
	if err != nil {
		return nil, err
	}
	m := &ShelfMap{
		Grid:      grid,
		Palette:   palette,
		Raw:       resp.Raw,
		Timestamp: resp.Timestamp,
		Source:    resp.Source,
		Persisted: resp.Persisted,
	}
	c.mu.Lock()
	c.shelf = m
	c.shelfPalette = palette
	c.mu.Unlock()
	c.changed()
	return m, nil
}

func (c *Console) acquireShelf(message string) bool {
	c.mu.Lock()
	if c.shelfBusy {
		c.mu.Unlock()
		return false
	}
	c.shelfBusy = true
	c.shelfStatus = StatusLine{Message: message, Tone: toast.Info}
	c.mu.Unlock()
	c.changed()
	return true
}

func (c *Console) releaseShelf() {
	c.mu.Lock()
	c.shelfBusy = false
	c.mu.Unlock()
	c.changed()
}

func (c *Console) setShelfStatus(message string, tone toast.Tone) {
	c.mu.Lock()
	c.shelfStatus = StatusLine{Message: message, Tone: tone}
	c.mu.Unlock()
	c.changed()
}
