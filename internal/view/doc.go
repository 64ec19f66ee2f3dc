// Package view renders panels bound to segment queries. The server printout
// and the terminal client draw through the same Render so both executions of
// the panel tree look alike.
package view
