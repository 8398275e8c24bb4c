// Package color holds the terminal palette used by the console reporter.
//
// Colors are adaptive: lipgloss picks the light or dark variant depending
// on the detected terminal background, and Initialize can force either.
// Setting NO_COLOR or writing to a non-terminal disables styling, which
// lipgloss handles through its color profile detection.
package color
