package app

import (
	"hash/fnv"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// Key identifies an open document.
type Key string

// NewKey returns a fresh document key.
func NewKey() Key {
	return Key(uuid.NewString())
}

// Document is an open document known to the service.
type Document struct {
	Key Key

	// FileName is the path the document was opened with. It may be empty.
	FileName string

	// LanguageID is the host's language identifier for the document.
	LanguageID string

	text        string
	fingerprint uint64

	// version counts text changes.
	version atomic.Int64
}

func newDocument(key Key, fileName, languageID, text string) *Document {
	d := &Document{
		Key:        key,
		FileName:   fileName,
		LanguageID: languageID,
	}
	d.setText(text)
	return d
}

// Name returns the base name of the document's file, or "Untitled".
func (d *Document) Name() string {
	if d.FileName == "" {
		return "Untitled"
	}
	return filepath.Base(d.FileName)
}

// Version returns the number of text changes since the document was opened.
func (d *Document) Version() int64 {
	return d.version.Load()
}

func (d *Document) setText(text string) {
	d.text = text
	d.fingerprint = fingerprint(text)
}

// fingerprint hashes document text so that a cached result can be matched
// to the text it was computed from.
func fingerprint(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}

// documents is the registry of open documents. The service lock guards it.
type documents map[Key]*Document

func (ds documents) keys() []Key {
	keys := make([]Key, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
