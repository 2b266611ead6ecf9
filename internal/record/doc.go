// Package record defines the value, identity, and record types shared by
// every other package in the module.
//
// This package contains type definitions and serialization only. All other
// internal packages import record; record imports nothing internal. Keeping
// it a leaf prevents dependency cycles between the schema, store, and
// engine layers.
//
// Key design constraints:
//   - NO float types anywhere - use Int (int64) for numbers. Change
//     detection on maintained fields compares canonical bytes, and float
//     serialization is not stable enough to anchor equality.
//   - Object keys serialize in RFC 8785 order (UTF-16 code units).
//   - Attribute payloads persist as canonical JSON text.
//   - Ordering uses logical sequence numbers, never wall-clock timestamps.
package record
