package ctl

import (
	"fmt"
	"strings"

	"github.com/large-farva/operator-console/internal/api"
	"github.com/large-farva/operator-console/internal/operator"
	"github.com/large-farva/operator-console/internal/shelfmap"
)

// ShelfOptions controls the shelf command.
type ShelfOptions struct {
	Set     string // compact grid, e.g. "R,G,B; Y,W,K; -,-,-"
	Reset   bool
	Persist bool
	Yes     bool
	JSON    bool
}

// Shelf shows the shelf map, replaces it with opts.Set, or restores the
// default layout with opts.Reset.
func Shelf(baseURL string, opts ShelfOptions) error {
	client := newClient(baseURL)
	ctx, cancel := requestContext()
	defer cancel()

	var (
		resp *api.ShelfMap
		err  error
		verb string
	)
	switch {
	case opts.Reset:
		if !opts.Yes {
			ok, err := confirmPrompt(operator.ShelfResetTitle, operator.ShelfResetMessage)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(stdout, colorize(dim, "  cancelled"))
				return nil
			}
		}
		resp, err = client.ResetShelfMap(ctx, opts.Persist)
		verb = "reset to defaults"

	case strings.TrimSpace(opts.Set) != "":
		palette := shelfmap.NormalizePalette(nil)
		if current, cerr := client.ShelfMap(ctx); cerr == nil {
			palette = shelfmap.NormalizePalette(current.Palette)
		}
		grid, perr := shelfmap.ParseGrid(opts.Set, shelfmap.Codes(palette))
		if perr != nil {
			return perr
		}
		resp, err = client.UpdateShelfMap(ctx, grid, opts.Persist)
		verb = "updated"

	default:
		resp, err = client.ShelfMap(ctx)
	}
	if err != nil {
		return err
	}

	palette := shelfmap.NormalizePalette(resp.Palette)
	grid := resp.Grid
	if len(grid) == 0 {
		grid = shelfmap.EmptyGrid()
	}
	valid, err := shelfmap.ValidateGrid(grid, shelfmap.Codes(palette))
	if err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(operator.ShelfMap{
			Grid:      valid,
			Palette:   palette,
			Raw:       resp.Raw,
			Timestamp: resp.Timestamp,
			Source:    resp.Source,
			Persisted: resp.Persisted,
		})
	}

	fmt.Fprintln(stdout)
	if verb != "" {
		msg := "shelf map " + verb
		if resp.Persisted != nil && *resp.Persisted {
			msg += " and saved to flash"
		}
		fmt.Fprintf(stdout, "  %s  %s\n\n", colorize(green, "OK"), msg)
	}
	printShelf(valid, palette)
	if resp.Source != "" {
		fmt.Fprintf(stdout, "  %s %s\n", colorize(dim, "source:"), resp.Source)
	}
	fmt.Fprintln(stdout)
	return nil
}

// printShelf draws the grid followed by the palette legend.
func printShelf(grid shelfmap.Grid, palette []shelfmap.PaletteEntry) {
	fmt.Fprintln(stdout, header("  SHELF MAP"))
	fmt.Fprintln(stdout, rule(30))
	for _, row := range grid {
		cells := make([]string, len(row))
		for i, code := range row {
			cells[i] = padRight(code, 2)
			if code != shelfmap.Empty {
				cells[i] = colorize(bold, cells[i])
			}
		}
		fmt.Fprintf(stdout, "    [ %s ]\n", strings.Join(cells, "| "))
	}
	fmt.Fprintln(stdout)
	var legend []string
	for _, p := range palette {
		legend = append(legend, p.ID+"="+p.Label)
	}
	fmt.Fprintf(stdout, "  %s\n", colorize(dim, strings.Join(legend, "  ")))
}
