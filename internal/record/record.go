package record

import "fmt"

// Ref identifies a record by type name and store-assigned identity.
// Identities are int64 and never reused; the store owns assignment.
type Ref struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// String renders the ref as "Type/ID", the form used in logs and errors.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}

// Record is a typed record with its current attribute payload. Maintained
// fields live in Attrs alongside plain attributes; only the propagation
// engine's executor may write them.
type Record struct {
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	Attrs Object `json:"attrs"`
}

// Ref returns the record's identity.
func (r Record) Ref() Ref {
	return Ref{Type: r.Type, ID: r.ID}
}

// Attr returns the named attribute value and whether it is present.
func (r Record) Attr(name string) (Value, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}
