package render

import (
	"math"
	"sort"
	"strings"
)

// DefaultFormat is used when a template names no known format
const DefaultFormat = "postcard_6x9"

// DPI is the print resolution formats are rasterized at
const DPI = 300

// Format is a physical print format
type Format struct {
	Name     string  `json:"name"`
	Label    string  `json:"label"`
	WidthIn  float64 `json:"widthIn"`
	HeightIn float64 `json:"heightIn"`
}

// WidthPx returns the width in pixels at print resolution
func (f Format) WidthPx() int {
	return int(math.Round(f.WidthIn * DPI))
}

// HeightPx returns the height in pixels at print resolution
func (f Format) HeightPx() int {
	return int(math.Round(f.HeightIn * DPI))
}

var formats = map[string]Format{
	"postcard_4x6":   {Name: "postcard_4x6", Label: "Postcard 4x6", WidthIn: 6, HeightIn: 4},
	"postcard_6x9":   {Name: "postcard_6x9", Label: "Postcard 6x9", WidthIn: 9, HeightIn: 6},
	"postcard_6x11":  {Name: "postcard_6x11", Label: "Postcard 6x11", WidthIn: 11, HeightIn: 6},
	"letter_8.5x11":  {Name: "letter_8.5x11", Label: "Letter 8.5x11", WidthIn: 8.5, HeightIn: 11},
	"bifold_11x8.5":  {Name: "bifold_11x8.5", Label: "Bi-fold brochure", WidthIn: 11, HeightIn: 8.5},
	"trifold_11x8.5": {Name: "trifold_11x8.5", Label: "Tri-fold brochure", WidthIn: 11, HeightIn: 8.5},
}

// LookupFormat returns the named format, falling back to DefaultFormat.
// The bool reports whether the name was known.
func LookupFormat(name string) (Format, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	if f, ok := formats[key]; ok {
		return f, true
	}
	return formats[DefaultFormat], false
}

// Formats returns all known formats sorted by name
func Formats() []Format {
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
