// Package style turns a decoration's style table into an opaque handle.
//
// A style table is the free-form map authored under a decoration's "style"
// key. Colors and text attributes are folded into a tcell.Style; any other
// keys are kept verbatim so a host can apply them itself.
package style

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// ErrBadStyle is returned for a style table that cannot be applied.
var ErrBadStyle = errors.New("bad decoration style")

// Handle is a parsed decoration style. The zero value is the default style.
type Handle struct {
	// Style holds the colors and attributes tcell can render.
	Style tcell.Style
	// Extra holds keys with no terminal rendering, such as borders.
	Extra map[string]any
}

// IsDefault reports whether the handle changes nothing.
func (h Handle) IsDefault() bool {
	return h.Style == tcell.StyleDefault && len(h.Extra) == 0
}

// String renders the handle in a stable key=value form for logs.
func (h Handle) String() string {
	fg, bg, attrs := h.Style.Decompose()
	parts := make([]string, 0, 4)
	if fg != tcell.ColorDefault {
		parts = append(parts, "fg="+colorString(fg))
	}
	if bg != tcell.ColorDefault {
		parts = append(parts, "bg="+colorString(bg))
	}
	if attrs != tcell.AttrNone {
		parts = append(parts, fmt.Sprintf("attrs=%d", attrs))
	}
	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, h.Extra[k]))
	}
	return strings.Join(parts, " ")
}

func colorString(c tcell.Color) string {
	r, g, b := c.RGB()
	if r < 0 {
		return strconv.Itoa(int(c))
	}
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// attributes maps boolean keys to tcell style setters.
var attributes = map[string]func(tcell.Style, bool) tcell.Style{
	"bold":          tcell.Style.Bold,
	"dim":           tcell.Style.Dim,
	"italic":        tcell.Style.Italic,
	"blink":         tcell.Style.Blink,
	"reverse":       tcell.Style.Reverse,
	"strikethrough": tcell.Style.StrikeThrough,
	"underline": func(s tcell.Style, on bool) tcell.Style {
		return s.Underline(on)
	},
}

// Parse converts a style table into a Handle.
//
// Recognized keys:
//
//	color, foreground              text color
//	backgroundColor, background    background color
//	bold, dim, italic, underline,
//	blink, reverse, strikethrough  booleans
//	fontWeight                     "bold" or a weight of 600 and above
//	fontStyle                      "italic"
//	textDecoration                 may contain "underline" and "line-through"
//
// Colors may be a name ("yellow"), "#rgb", "#rrggbb", "rgb(r,g,b)" or
// "rgba(r,g,b,a)". Other keys are carried in Extra.
func Parse(table map[string]any) (Handle, error) {
	h := Handle{Style: tcell.StyleDefault}
	for key, value := range table {
		var err error
		switch key {
		case "color", "foreground":
			var c tcell.Color
			if c, err = colorValue(value); err == nil {
				h.Style = h.Style.Foreground(c)
			}
		case "backgroundColor", "background":
			var c tcell.Color
			if c, err = colorValue(value); err == nil {
				h.Style = h.Style.Background(c)
			}
		case "fontWeight":
			h.Style, err = fontWeight(h.Style, value)
		case "fontStyle":
			s, ok := value.(string)
			if !ok {
				err = fmt.Errorf("fontStyle must be a string, got %T", value)
				break
			}
			h.Style = h.Style.Italic(strings.EqualFold(s, "italic") || strings.EqualFold(s, "oblique"))
		case "textDecoration":
			s, ok := value.(string)
			if !ok {
				err = fmt.Errorf("textDecoration must be a string, got %T", value)
				break
			}
			if strings.Contains(s, "underline") {
				h.Style = h.Style.Underline(true)
			}
			if strings.Contains(s, "line-through") {
				h.Style = h.Style.StrikeThrough(true)
			}
		default:
			set, ok := attributes[key]
			if !ok {
				if h.Extra == nil {
					h.Extra = make(map[string]any)
				}
				h.Extra[key] = value
				continue
			}
			on, isBool := value.(bool)
			if !isBool {
				err = fmt.Errorf("%s must be a boolean, got %T", key, value)
				break
			}
			h.Style = set(h.Style, on)
		}
		if err != nil {
			return Handle{}, fmt.Errorf("%w: %s: %v", ErrBadStyle, key, err)
		}
	}
	return h, nil
}

func fontWeight(s tcell.Style, value any) (tcell.Style, error) {
	switch v := value.(type) {
	case string:
		if strings.EqualFold(v, "bold") || strings.EqualFold(v, "bolder") {
			return s.Bold(true), nil
		}
		if n, err := strconv.Atoi(v); err == nil {
			return s.Bold(n >= 600), nil
		}
		return s, nil
	case int:
		return s.Bold(v >= 600), nil
	case int64:
		return s.Bold(v >= 600), nil
	case float64:
		return s.Bold(v >= 600), nil
	}
	return s, fmt.Errorf("fontWeight must be a string or number, got %T", value)
}

// colorValue parses a color. An empty string means the terminal default.
func colorValue(value any) (tcell.Color, error) {
	s, ok := value.(string)
	if !ok {
		return tcell.ColorDefault, fmt.Errorf("color must be a string, got %T", value)
	}
	return ParseColor(s)
}

// ParseColor parses a color name or CSS-style color.
func ParseColor(s string) (tcell.Color, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case s == "", lower == "default", lower == "transparent":
		return tcell.ColorDefault, nil
	case strings.HasPrefix(s, "#"):
		return hexColor(s[1:])
	case strings.HasPrefix(lower, "rgb(") || strings.HasPrefix(lower, "rgba("):
		return rgbColor(lower)
	}
	if c, ok := tcell.ColorNames[lower]; ok {
		return c, nil
	}
	return tcell.ColorDefault, fmt.Errorf("unknown color %q", s)
}

// hexColor accepts rgb, rgba, rrggbb and rrggbbaa. Alpha is dropped.
func hexColor(hex string) (tcell.Color, error) {
	switch len(hex) {
	case 4:
		hex = hex[:3]
	case 8:
		hex = hex[:6]
	}
	c, err := colorful.Hex("#" + hex)
	if err != nil {
		return tcell.ColorDefault, fmt.Errorf("invalid hex color #%s", hex)
	}
	r, g, b := c.RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b)), nil
}

func rgbColor(s string) (tcell.Color, error) {
	open := strings.IndexByte(s, '(')
	if !strings.HasSuffix(s, ")") {
		return tcell.ColorDefault, fmt.Errorf("invalid color %q", s)
	}
	fields := strings.Split(s[open+1:len(s)-1], ",")
	if len(fields) < 3 || len(fields) > 4 {
		return tcell.ColorDefault, fmt.Errorf("invalid color %q", s)
	}
	var rgb [3]int32
	for i := range rgb {
		n, err := strconv.Atoi(strings.TrimSpace(fields[i]))
		if err != nil || n < 0 || n > 255 {
			return tcell.ColorDefault, fmt.Errorf("invalid color %q", s)
		}
		rgb[i] = int32(n)
	}
	return tcell.NewRGBColor(rgb[0], rgb[1], rgb[2]), nil
}
