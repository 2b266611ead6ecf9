package store

// Link is one relation membership row. Rel is the canonical edge key
// ("<from_type>.<name>"); Src and Dst sit on the edge's declared sides.
type Link struct {
	Src int64
	Rel string
	Dst int64
}

// LogEntry is one executor decision in the propagation audit log. Old and
// new values are canonical JSON; an empty string means absent (no prior
// value on first computation, no new value on failure).
type LogEntry struct {
	ID         int64
	BatchToken string
	Seq        int64
	RecordType string
	RecordID   int64
	Field      string
	OldValue   string
	NewValue   string
	Changed    bool
	Failure    string
}

// LogFilter narrows ReadLog. Zero-valued fields are not applied; RecordID
// only applies together with RecordType.
type LogFilter struct {
	BatchToken string
	RecordType string
	RecordID   int64
	Field      string
	Limit      int
}

// StaleField marks a maintained value whose last recomputation failed. The
// stored value is retained; reads may fall back to computing fresh.
type StaleField struct {
	RecordType string
	RecordID   int64
	Field      string
	Reason     string
	Seq        int64
}
