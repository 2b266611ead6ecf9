// Package pathsql compiles resolved dependent paths into the SQL that
// finds affected owners. When data changes at the end of a dependent path,
// the maintained fields to recompute live on the records at the path's
// start; the compiled query walks the link table backward from the changed
// record to those owners.
//
// All values are parameterized, never interpolated. Every query carries an
// ORDER BY so owner scheduling is deterministic.
package pathsql

import (
	"fmt"
	"strings"

	"github.com/roach88/upkeep/internal/schema"
)

// Owners compiles the reverse walk of path into SQL over the links table.
// The query selects the distinct ids of records at the path's start that
// can reach the trigger record at the path's end, ordered by id ascending.
// Returns (sql, params, error).
//
// An empty path has no query: the trigger record is itself the owner, and
// callers handle that case without touching the database.
func Owners(path schema.ResolvedPath, triggerID int64) (string, []any, error) {
	if len(path) == 0 {
		return "", nil, fmt.Errorf("empty path: the trigger record is the owner")
	}

	var b strings.Builder
	var params []any

	fmt.Fprintf(&b, "SELECT DISTINCT l0.%s FROM links l0", sourceCol(path[0]))
	for i := 1; i < len(path); i++ {
		fmt.Fprintf(&b, " JOIN links l%d ON l%d.%s = l%d.%s AND l%d.rel = ?",
			i, i, sourceCol(path[i]), i-1, targetCol(path[i-1]), i)
		params = append(params, path[i].Edge.Key())
	}

	last := len(path) - 1
	fmt.Fprintf(&b, " WHERE l0.rel = ? AND l%d.%s = ?", last, targetCol(path[last]))
	params = append(params, path[0].Edge.Key(), triggerID)

	fmt.Fprintf(&b, " ORDER BY l0.%s ASC", sourceCol(path[0]))
	return b.String(), params, nil
}

// sourceCol returns the links column holding the step's source-side id.
// Inverted steps walk their edge against its declared direction, so source
// and target columns swap.
func sourceCol(s schema.PathStep) string {
	if s.Inverted {
		return "dst"
	}
	return "src"
}

func targetCol(s schema.PathStep) string {
	if s.Inverted {
		return "src"
	}
	return "dst"
}
