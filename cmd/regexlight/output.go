package main

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/rivo/uniseg"
	"github.com/tidwall/pretty"

	"github.com/dshills/regexlight/internal/match"
	"github.com/dshills/regexlight/internal/rules"
)

// fileOutput is the JSON object printed for one file.
type fileOutput struct {
	File   string       `json:"file"`
	Ranges []slotOutput `json:"ranges,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type slotOutput struct {
	Slot   int           `json:"slot"`
	Style  string        `json:"style,omitempty"`
	Ranges []rangeOutput `json:"ranges"`
}

type rangeOutput struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Hover  string `json:"hover,omitempty"`
}

// printer writes one JSON document per line. It is safe for concurrent use.
type printer struct {
	mu        sync.Mutex
	w         io.Writer
	indent    bool
	color     bool
	positions bool
}

func newPrinter(w io.Writer, indent, color, positions bool) *printer {
	return &printer{w: w, indent: indent, color: color, positions: positions}
}

func (p *printer) printError(path string, err error) {
	p.write(fileOutput{File: path, Error: err.Error()})
}

func (p *printer) printRanges(path, text string, slots []rules.Slot, ranges map[int][]match.Range) {
	out := fileOutput{File: path}

	ids := make([]int, 0, len(ranges))
	for slot := range ranges {
		ids = append(ids, slot)
	}
	sort.Ints(ids)

	var lines *lineIndex
	if p.positions {
		lines = newLineIndex(text)
	}

	for _, slot := range ids {
		so := slotOutput{Slot: slot}
		if slot < len(slots) {
			so.Style = slots[slot].Style.String()
		}
		for _, r := range ranges[slot] {
			ro := rangeOutput{Start: r.Start, End: r.End, Hover: r.Hover}
			if lines != nil {
				ro.Line, ro.Column = lines.position(r.Start)
			}
			so.Ranges = append(so.Ranges, ro)
		}
		out.Ranges = append(out.Ranges, so)
	}
	p.write(out)
}

func (p *printer) write(v fileOutput) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if p.indent {
		data = pretty.Pretty(data)
	} else {
		data = append(data, '\n')
	}
	if p.color {
		data = pretty.Color(data, nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.w.Write(data)
}

// lineIndex converts byte offsets to 1-based line and column numbers.
// Columns count user-perceived characters.
type lineIndex struct {
	text   string
	starts []int
}

func newLineIndex(text string) *lineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{text: text, starts: starts}
}

func (li *lineIndex) position(offset int) (line, column int) {
	if offset > len(li.text) {
		offset = len(li.text)
	}
	i := sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset }) - 1
	return i + 1, uniseg.GraphemeClusterCount(li.text[li.starts[i]:offset]) + 1
}
