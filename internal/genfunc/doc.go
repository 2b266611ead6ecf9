// Package genfunc defines generator functions: the pure computations that
// produce maintained field values. A generator receives the owning record,
// its declarative arguments, and a View for reading related records inside
// the executing transaction; it returns the new field value or an error.
//
// Generators are resolved by name through a Catalog. Builtins returns the
// stock catalogue; callers add domain-specific functions with Register
// before the catalogue is handed to the engine.
//
// Generators must be deterministic over the view they are given. They never
// write; persisting the returned value is the executor's job.
package genfunc
