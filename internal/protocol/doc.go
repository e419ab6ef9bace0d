// Package protocol owns the AMQP 0-9-1 wire contract shared by the engine.
//
// Ownership boundary:
// - class ids and reply codes
// - protocol error taxonomy (connection-fatal violations)
//
// Subpackages:
// - frame: generic frame envelope codec
// - wire: primitive field codec (strings, tables, integers)
// - methods: decoded-method contract and content properties
// - command: frame-to-command assembly and command fragmentation
package protocol
