// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package header implements an ordered FITS-style header with (value, comment)
// cards. Keys are case-insensitive and stored upper case. Repeated keys such as
// HISTORY and COMMENT are kept as separate cards.
package header

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys which may legitimately occur more than once
var commentary = map[string]bool{"HISTORY": true, "COMMENT": true, "": true}

// A single header card
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Ordered collection of header cards
type Header struct {
	cards []Card
}

// Create an empty header
func New() *Header {
	return &Header{}
}

// Create a header from cards, in order
func FromCards(cards ...Card) *Header {
	h := New()
	for _, c := range cards {
		h.Add(c.Key, c.Value, c.Comment)
	}
	return h
}

func normKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func (h *Header) index(key string) int {
	key = normKey(key)
	for i, c := range h.cards {
		if c.Key == key {
			return i
		}
	}
	return -1
}

// Number of cards
func (h *Header) Len() int {
	return len(h.cards)
}

// All cards in order. The returned slice must not be modified.
func (h *Header) Cards() []Card {
	return h.cards
}

// Whether a card with this key exists
func (h *Header) Has(key string) bool {
	return h.index(key) >= 0
}

// Value of the first card with this key, and whether it was found
func (h *Header) Lookup(key string) (interface{}, bool) {
	i := h.index(key)
	if i < 0 {
		return nil, false
	}
	return h.cards[i].Value, true
}

// Value of the first card with this key, or def if absent
func (h *Header) Get(key string, def interface{}) interface{} {
	if v, ok := h.Lookup(key); ok {
		return v
	}
	return def
}

// Comment of the first card with this key
func (h *Header) Comment(key string) string {
	if i := h.index(key); i >= 0 {
		return h.cards[i].Comment
	}
	return ""
}

// Values of all cards with this key, in order
func (h *Header) Values(key string) []interface{} {
	key = normKey(key)
	var vs []interface{}
	for _, c := range h.cards {
		if c.Key == key {
			vs = append(vs, c.Value)
		}
	}
	return vs
}

// Set the value and comment of the first card with this key, appending a new
// card if absent. An empty comment keeps the existing one.
func (h *Header) Set(key string, value interface{}, comment string) {
	key = normKey(key)
	if !commentary[key] {
		if i := h.index(key); i >= 0 {
			h.cards[i].Value = value
			if comment != "" {
				h.cards[i].Comment = comment
			}
			return
		}
	}
	h.cards = append(h.cards, Card{Key: key, Value: value, Comment: comment})
}

// Append a card, even if the key already exists
func (h *Header) Add(key string, value interface{}, comment string) {
	h.cards = append(h.cards, Card{Key: normKey(key), Value: value, Comment: comment})
}

// Remove all cards with this key. Returns the number removed.
func (h *Header) Delete(key string) int {
	key = normKey(key)
	o := 0
	for _, c := range h.cards {
		if c.Key != key {
			h.cards[o] = c
			o++
		}
	}
	n := len(h.cards) - o
	h.cards = h.cards[:o]
	return n
}

// Deep copy of the header
func (h *Header) Copy() *Header {
	return &Header{cards: append([]Card(nil), h.cards...)}
}

// Copy of the header without any cards matching the given keys
func (h *Header) Without(keys ...string) *Header {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[normKey(k)] = true
	}
	out := &Header{cards: make([]Card, 0, len(h.cards))}
	for _, c := range h.cards {
		if !drop[c.Key] {
			out.cards = append(out.cards, c)
		}
	}
	return out
}

// String value of a key. Numbers are formatted, absent keys yield def.
func (h *Header) Str(key, def string) string {
	v, ok := h.Lookup(key)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case bool:
		if t {
			return "T"
		}
		return "F"
	default:
		return fmt.Sprint(t)
	}
}

// Float value of a key. Strings are parsed, absent or unparseable keys yield def and false.
func (h *Header) Float(key string, def float64) (float64, bool) {
	v, ok := h.Lookup(key)
	if !ok {
		return def, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int16:
		return float64(t), true
	case int8:
		return float64(t), true
	case uint8:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def, false
		}
		return f, true
	}
	return def, false
}

// Float value or def, for keys where presence does not matter
func (h *Header) FloatOr(key string, def float64) float64 {
	f, _ := h.Float(key, def)
	return f
}

// Integer value of a key, or def
func (h *Header) Int(key string, def int) int {
	f, ok := h.Float(key, float64(def))
	if !ok {
		return def
	}
	return int(f)
}

// Boolean value of a key. Accepts FITS logicals, numbers and strings like T/F/true/false.
func (h *Header) Bool(key string, def bool) bool {
	v, ok := h.Lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "T", "TRUE", "1":
			return true
		case "F", "FALSE", "0":
			return false
		}
		return def
	}
	if f, ok := h.Float(key, 0); ok {
		return f != 0
	}
	return def
}

// Layouts accepted for FITS date keywords
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
	time.RFC3339Nano,
}

// Layout used when writing FITS date keywords
const DateLayout = "2006-01-02T15:04:05.000000"

// Parse a FITS date string, assumed UTC
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// Format a time as a FITS date string in UTC
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Date value of a key
func (h *Header) Time(key string) (time.Time, error) {
	v, ok := h.Lookup(key)
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", normKey(key))
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC(), nil
	}
	return ParseDate(h.Str(key, ""))
}

// Merge cards from another header, overwriting existing non-commentary keys
// and appending commentary cards
func (h *Header) Update(o *Header) {
	for _, c := range o.cards {
		h.Set(c.Key, c.Value, c.Comment)
	}
}
