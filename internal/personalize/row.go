package personalize

import (
	"strings"

	"github.com/foxzi/vdpress/internal/models"
)

// Row is a flattened recipient: field name to display value.
// Lookups match the exact name first, then a normalized form, so
// {first_name}, {firstName} and {FirstName} resolve to the same field.
type Row struct {
	values map[string]string
	index  map[string]string
}

// builtin field names produced by Flatten
var builtinFields = []string{
	"firstName", "lastName", "fullName",
	"email", "phone",
	"address", "address1", "address2", "addressLine1", "addressLine2", "fullAddress",
	"city", "state", "zip", "zipCode", "postalCode", "country",
}

var builtinIndex = func() map[string]bool {
	m := make(map[string]bool, len(builtinFields))
	for _, f := range builtinFields {
		m[Normalize(f)] = true
	}
	return m
}()

// IsBuiltinField reports whether name resolves to a standard recipient field
func IsBuiltinField(name string) bool {
	return builtinIndex[Normalize(name)]
}

// BuiltinFields returns the standard field names
func BuiltinFields() []string {
	out := make([]string, len(builtinFields))
	copy(out, builtinFields)
	return out
}

// NewRow builds a row from plain values
func NewRow(values map[string]string) Row {
	r := Row{
		values: make(map[string]string, len(values)),
		index:  make(map[string]string, len(values)),
	}
	for k, v := range values {
		r.set(k, v, true)
	}
	return r
}

// Flatten turns a recipient into a row. Custom metadata is spread into the
// row; non-empty standard fields win over metadata keys of the same name.
func Flatten(rec *models.Recipient) Row {
	r := Row{
		values: make(map[string]string, len(builtinFields)+len(rec.Metadata)),
		index:  make(map[string]string, len(builtinFields)+len(rec.Metadata)),
	}

	for _, k := range rec.MetadataKeys() {
		r.set(k, rec.Metadata[k], true)
	}

	first := strings.TrimSpace(rec.FirstName)
	last := strings.TrimSpace(rec.LastName)
	addr1 := strings.TrimSpace(rec.Address1)
	addr2 := strings.TrimSpace(rec.Address2)

	builtin := map[string]string{
		"firstName":    first,
		"lastName":     last,
		"fullName":     rec.FullName(),
		"email":        strings.TrimSpace(rec.Email),
		"phone":        strings.TrimSpace(rec.Phone),
		"address":      addr1,
		"address1":     addr1,
		"address2":     addr2,
		"addressLine1": addr1,
		"addressLine2": addr2,
		"fullAddress":  fullAddress(rec),
		"city":         strings.TrimSpace(rec.City),
		"state":        strings.TrimSpace(rec.State),
		"zip":          strings.TrimSpace(rec.Zip),
		"zipCode":      strings.TrimSpace(rec.Zip),
		"postalCode":   strings.TrimSpace(rec.Zip),
		"country":      strings.TrimSpace(rec.Country),
	}
	for _, k := range builtinFields {
		v := builtin[k]
		r.set(k, v, v != "")
	}

	return r
}

func (r Row) set(key, value string, override bool) {
	if _, exists := r.values[key]; override || !exists {
		r.values[key] = value
	}
	n := Normalize(key)
	if _, exists := r.index[n]; override || !exists {
		r.index[n] = value
	}
}

// With returns a copy of the row with one field set
func (r Row) With(key, value string) Row {
	c := Row{
		values: make(map[string]string, len(r.values)+1),
		index:  make(map[string]string, len(r.index)+1),
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.index {
		c.index[k] = v
	}
	c.set(key, value, true)
	return c
}

// Get resolves a field by exact or normalized name. Standard field names
// always resolve through the normalized index.
func (r Row) Get(name string) (string, bool) {
	n := Normalize(name)
	if !builtinIndex[n] {
		if v, ok := r.values[name]; ok {
			return v, true
		}
	}
	v, ok := r.index[n]
	return v, ok
}

// Values returns a copy of the row's fields
func (r Row) Values() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Len returns the number of fields
func (r Row) Len() int {
	return len(r.values)
}

// Normalize folds case and drops separators
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

func fullAddress(rec *models.Recipient) string {
	var parts []string
	for _, p := range []string{rec.Address1, rec.Address2, rec.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(strings.TrimSpace(rec.State) + " " + strings.TrimSpace(rec.Zip))
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}
