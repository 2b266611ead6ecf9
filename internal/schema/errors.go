package schema

import (
	"fmt"
	"strings"
)

// Validation error codes. Grouped by the schema layer that raises them;
// the CLI surfaces them verbatim.
const (
	// Graph construction errors
	ErrCodeDuplicateType     = "E100" // record type declared twice
	ErrCodeEmptyName         = "E101" // empty type/attr/relation name
	ErrCodeBadAttrType       = "E102" // attr type not in ValidAttrTypes
	ErrCodeUnknownType       = "E103" // edge endpoint type not declared
	ErrCodeBadCardinality    = "E104" // cardinality not in ValidCardinalities
	ErrCodeDuplicateRelation = "E105" // relation name already used on the type
	ErrCodeNameCollision     = "E106" // relation name collides with an attribute
	ErrCodeMissingReverse    = "E107" // edge declared without a reverse name

	// Field spec registration errors
	ErrCodeDuplicateField   = "E110" // maintained field registered twice
	ErrCodeFieldCollision   = "E111" // field name collides with attr or relation
	ErrCodeUnknownOwner     = "E112" // owning type not declared
	ErrCodeMissingGenerator = "E113" // generator fn empty
	ErrCodeUnknownGenerator = "E114" // generator fn not in the catalogue
	ErrCodeUnknownRelation  = "E115" // dependent path step not a known relation
	ErrCodeUnknownAttr      = "E116" // dependent attr not declared at terminus
	ErrCodeEmptyDependency  = "E117" // dependency lists no attrs
	ErrCodeBadGeneratorArgs = "E118" // generator args not canonicalizable

	// Seal errors
	ErrCodeCycle = "E120" // maintained-field dependency cycle
)

// ValidationError is one schema violation. Validation accumulates these
// rather than failing on the first.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// InvalidSchemaError reports graph-level violations (types and edges).
type InvalidSchemaError struct {
	Violations []ValidationError
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("invalid schema: %s", joinViolations(e.Violations))
}

// InvalidFieldSpecError reports that a maintained-field registration was
// rejected. Fatal at start-up.
type InvalidFieldSpecError struct {
	Type       string
	Field      string
	Violations []ValidationError
}

func (e *InvalidFieldSpecError) Error() string {
	return fmt.Sprintf("invalid field spec %s.%s: %s", e.Type, e.Field, joinViolations(e.Violations))
}

// CyclicDependencyError reports a cycle in the maintained-field dependency
// graph. Path holds the qualified field names along the cycle, closed back
// to the first element. Fatal at start-up.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic maintained-field dependency: %s", strings.Join(e.Path, " -> "))
}

func joinViolations(violations []ValidationError) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}
