// Package tools provides host helpers shared by download adapters.
//
// Ownership boundary:
// - external command execution
package tools
