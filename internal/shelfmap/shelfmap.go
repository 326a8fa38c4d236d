// Package shelfmap validates and renders the 3x3 shelf map: the color code
// assigned to each physical storage slot.
package shelfmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Size is the number of rows and columns.
const Size = 3

// Empty is the code for an unoccupied slot.
const Empty = "-"

// ErrInvalidGrid is wrapped by every validation failure.
var ErrInvalidGrid = errors.New("invalid shelf grid")

// Grid holds Size rows of Size codes.
type Grid [][]string

// PaletteEntry is one selectable code. TextColor is derived for contrast.
type PaletteEntry struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Color     string `json:"color"`
	TextColor string `json:"text_color,omitempty"`
}

// DefaultPalette is the firmware's built-in palette.
var DefaultPalette = []PaletteEntry{
	{ID: "-", Label: "Empty", Color: "#0f172a"},
	{ID: "R", Label: "Red", Color: "#ef4444"},
	{ID: "G", Label: "Green", Color: "#22c55e"},
	{ID: "B", Label: "Blue", Color: "#3b82f6"},
	{ID: "Y", Label: "Yellow", Color: "#facc15"},
	{ID: "W", Label: "White", Color: "#f8fafc"},
	{ID: "K", Label: "Black", Color: "#111827"},
}

// DefaultCodes lists the codes of DefaultPalette.
func DefaultCodes() []string {
	return Codes(DefaultPalette)
}

// Codes lists the ids of a palette in order.
func Codes(palette []PaletteEntry) []string {
	out := make([]string, 0, len(palette))
	for _, p := range palette {
		out = append(out, p.ID)
	}
	return out
}

// aliases map the spellings operators and firmware use for an empty slot.
var aliases = map[string]string{
	"":      Empty,
	"-":     Empty,
	"NONE":  Empty,
	"EMPTY": Empty,
	"N":     Empty,
	"NULL":  Empty,
	"NIL":   Empty,
}

// EmptyGrid returns a grid with every slot empty.
func EmptyGrid() Grid {
	g := make(Grid, Size)
	for i := range g {
		g[i] = []string{Empty, Empty, Empty}
	}
	return g
}

// Clone returns a deep copy of g.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// ValidateGrid checks the grid shape and normalizes every cell: trimmed,
// upper-cased, empty aliases folded to "-". allowed defaults to
// DefaultCodes; "-" is always allowed. The error names the first
// unsupported code.
func ValidateGrid(grid [][]string, allowed []string) (Grid, error) {
	if len(grid) != Size {
		return nil, fmt.Errorf("%w: must have %d rows, got %d", ErrInvalidGrid, Size, len(grid))
	}
	set := allowedSet(allowed)

	out := make(Grid, Size)
	for r, row := range grid {
		if len(row) != Size {
			return nil, fmt.Errorf("%w: row %d must have %d columns, got %d", ErrInvalidGrid, r, Size, len(row))
		}
		out[r] = make([]string, Size)
		for c, cell := range row {
			code, err := normalizeCode(cell, set)
			if err != nil {
				return nil, err
			}
			out[r][c] = code
		}
	}
	return out, nil
}

func allowedSet(allowed []string) map[string]bool {
	if len(allowed) == 0 {
		allowed = DefaultCodes()
	}
	set := map[string]bool{Empty: true}
	for _, a := range allowed {
		if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
			set[a] = true
		}
	}
	return set
}

func normalizeCode(value string, allowed map[string]bool) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(value))
	if alias, ok := aliases[code]; ok {
		code = alias
	}
	if !allowed[code] {
		return "", fmt.Errorf("%w: unsupported shelf code %q", ErrInvalidGrid, value)
	}
	return code, nil
}

// ParseGrid reads the compact "R,G,B; Y,W,K; -,-,-" form. Short rows and
// missing rows are padded with "-"; the result is validated against allowed.
func ParseGrid(s string, allowed []string) (Grid, error) {
	var rows [][]string
	for _, segment := range strings.Split(s, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		cells := strings.Split(segment, ",")
		if len(cells) > Size {
			return nil, fmt.Errorf("%w: row %d has %d columns", ErrInvalidGrid, len(rows), len(cells))
		}
		for len(cells) < Size {
			cells = append(cells, Empty)
		}
		rows = append(rows, cells)
	}
	if len(rows) > Size {
		return nil, fmt.Errorf("%w: %d rows", ErrInvalidGrid, len(rows))
	}
	for len(rows) < Size {
		rows = append(rows, []string{Empty, Empty, Empty})
	}
	return ValidateGrid(rows, allowed)
}

// Format renders g in the compact form accepted by ParseGrid.
func Format(g Grid) string {
	rows := make([]string, len(g))
	for i, row := range g {
		rows[i] = strings.Join(row, ",")
	}
	return strings.Join(rows, "; ")
}

// RawPaletteEntry is a palette entry as the backend may send it; the code
// can arrive under id, code or value.
type RawPaletteEntry struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// NormalizePalette dedups raw entries by upper-cased code, fills missing
// colors from DefaultPalette and derives text colors. An empty result
// falls back to DefaultPalette.
func NormalizePalette(raw []RawPaletteEntry) []PaletteEntry {
	seen := map[string]bool{}
	var out []PaletteEntry
	for _, r := range raw {
		id := strings.ToUpper(strings.TrimSpace(firstNonEmpty(r.ID, r.Code, r.Value, Empty)))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		color := r.Color
		if color == "" {
			color = defaultColor(id)
		}
		if color == "" {
			color = "#0f172a"
		}
		out = append(out, PaletteEntry{
			ID:        id,
			Label:     firstNonEmpty(r.Label, id),
			Color:     color,
			TextColor: ContrastTextColor(color),
		})
	}
	if len(out) == 0 {
		out = make([]PaletteEntry, len(DefaultPalette))
		for i, p := range DefaultPalette {
			p.TextColor = ContrastTextColor(p.Color)
			out[i] = p
		}
	}
	return out
}

func defaultColor(id string) string {
	for _, p := range DefaultPalette {
		if p.ID == id {
			return p.Color
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ContrastTextColor picks dark text for light backgrounds and light text
// otherwise. Unparseable colors return "".
func ContrastTextColor(hex string) string {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return ""
	}
	var rgb [3]float64
	for i := range rgb {
		v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
		if err != nil {
			return ""
		}
		rgb[i] = float64(v)
	}
	luminance := (0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]) / 255
	if luminance > 0.6 {
		return "#0f172a"
	}
	return "#f8fafc"
}
