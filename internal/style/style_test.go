package style

import (
	"errors"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestParse(t *testing.T) {
	h, err := Parse(map[string]any{
		"color":           "yellow",
		"backgroundColor": "#102030",
		"bold":            true,
		"underline":       true,
		"border":          "1px solid red",
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	fg, bg, attrs := h.Style.Decompose()
	if fg != tcell.ColorYellow {
		t.Errorf("foreground = %v, want yellow", fg)
	}
	if want := tcell.NewRGBColor(0x10, 0x20, 0x30); bg != want {
		t.Errorf("background = %v, want %v", bg, want)
	}
	if attrs&tcell.AttrBold == 0 {
		t.Error("bold not set")
	}
	if attrs&tcell.AttrUnderline == 0 {
		t.Error("underline not set")
	}
	if h.Extra["border"] != "1px solid red" {
		t.Errorf("Extra[border] = %v, want carried through", h.Extra["border"])
	}
}

func TestParseCSSKeys(t *testing.T) {
	h, err := Parse(map[string]any{
		"fontWeight":     "bold",
		"fontStyle":      "italic",
		"textDecoration": "underline line-through",
	})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	_, _, attrs := h.Style.Decompose()
	for _, want := range []tcell.AttrMask{tcell.AttrBold, tcell.AttrItalic, tcell.AttrUnderline, tcell.AttrStrikeThrough} {
		if attrs&want == 0 {
			t.Errorf("attrs = %d, missing %d", attrs, want)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	h, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error: %v", err)
	}
	if !h.IsDefault() {
		t.Errorf("Parse(nil) = %v, want default", h)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []map[string]any{
		{"color": "notacolor"},
		{"color": 12},
		{"backgroundColor": "#12345"},
		{"bold": "yes"},
		{"fontStyle": true},
		{"color": "rgb(1,2)"},
		{"color": "rgb(300,0,0)"},
	}

	for _, table := range tests {
		if _, err := Parse(table); !errors.Is(err, ErrBadStyle) {
			t.Errorf("Parse(%v) error = %v, want ErrBadStyle", table, err)
		}
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want tcell.Color
	}{
		{"", tcell.ColorDefault},
		{"default", tcell.ColorDefault},
		{"Red", tcell.ColorRed},
		{"#fff", tcell.NewRGBColor(255, 255, 255)},
		{"#00ff0080", tcell.NewRGBColor(0, 255, 0)},
		{"rgba(1, 2, 3, 0.5)", tcell.NewRGBColor(1, 2, 3)},
	}

	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if err != nil {
			t.Errorf("ParseColor(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
