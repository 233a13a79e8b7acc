// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sympy

import "strings"

// NormalizeODE rewrites legacy free-text ODE notation into derivative
// notation the worker can parse.
//
// # Description
//
// Rewrites prime notation and bare function tokens:
//
//	y'' + 9y = 0  ->  Derivative(y(x), x, 2) + 9*y(x) = 0
//
// This is best-effort string rewriting, not a parser. It assumes the
// unknown function is y in the variable x. Bare y tokens that are part of
// a longer identifier are left alone, but unusual variable names (an
// identifier ending in y, a different independent variable) can still
// misfire. Callers with structured lhs/rhs input should use that path and
// skip this one.
//
// # Limitations
//
// Only first and second primes are recognized. No implicit-multiplication
// handling beyond a digit directly before y.
func NormalizeODE(ode string) string {
	var b strings.Builder
	b.Grow(len(ode) + 16)
	runes := []rune(ode)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != 'y' {
			b.WriteRune(r)
			continue
		}

		prev := rune(0)
		if i > 0 {
			prev = runes[i-1]
		}
		primes := 0
		for i+1+primes < len(runes) && runes[i+1+primes] == '\'' && primes < 2 {
			primes++
		}
		next := rune(0)
		if i+1+primes < len(runes) {
			next = runes[i+1+primes]
		}

		if isWordRune(prev) || isWordRune(next) || isDigit(next) || next == '(' {
			// Part of a longer identifier, or already applied.
			b.WriteRune(r)
			continue
		}

		if isDigit(prev) {
			b.WriteRune('*')
		}
		switch primes {
		case 2:
			b.WriteString("Derivative(y(x), x, 2)")
		case 1:
			b.WriteString("Derivative(y(x), x)")
		default:
			b.WriteString("y(x)")
		}
		i += primes
	}
	return b.String()
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		return true
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
