package genfunc

import (
	"fmt"
	"strconv"
)

// parseFormula counts atoms per element symbol in a molecular formula.
// Symbols are an uppercase letter plus optional lowercase letters, followed
// by an optional count; parenthesized groups take a trailing multiplier.
//
//	"C3H7NO2"  => C:3 H:7 N:1 O:2
//	"Ca(OH)2"  => Ca:1 O:2 H:2
func parseFormula(s string) (map[string]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty formula")
	}

	stack := []map[string]int{{}}
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '(':
			stack = append(stack, map[string]int{})
			i++
		case c == ')':
			if len(stack) == 1 {
				return nil, fmt.Errorf("unbalanced %q at position %d", string(c), i)
			}
			group := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			i++
			mult, width := readCount(s, i)
			i += width
			top := stack[len(stack)-1]
			for sym, n := range group {
				top[sym] += n * mult
			}
		case c >= 'A' && c <= 'Z':
			j := i + 1
			for j < len(s) && s[j] >= 'a' && s[j] <= 'z' {
				j++
			}
			sym := s[i:j]
			i = j
			mult, width := readCount(s, i)
			i += width
			stack[len(stack)-1][sym] += mult
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(c), i)
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	return stack[0], nil
}

// readCount reads the digit run at s[i:], returning the count and its
// width. No digits means an implicit count of one.
func readCount(s string, i int) (count, width int) {
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i {
		return 1, 0
	}
	n, err := strconv.Atoi(s[i:j])
	if err != nil {
		return 1, j - i
	}
	return n, j - i
}
