// Package logging gives every ChallengeCtl component the same
// bracketed-component-tag texture the teacher's packages use directly
// with the standard log package ([HEARTBEAT], [CLEANUP], [EVENTS]), so a
// component doesn't have to remember to prefix every log.Printf by hand.
package logging

import "log"

// Logger prefixes every message with a fixed "[TAG]" component marker.
type Logger struct {
	tag string
}

// New returns a Logger tagging every line with "[tag]" (tag is upper-cased
// by convention, matching the teacher's style, but this does not enforce
// it).
func New(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	log.Printf("["+l.tag+"] "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	args = append([]interface{}{"[" + l.tag + "]"}, args...)
	log.Println(args...)
}
