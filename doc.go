// Package rs232 is the serial session layer of a manufacturing test
// fixture.
//
// A Session owns one RS-232 line. The transport's receive goroutine appends
// everything the device sends to the session's receive buffer. Foreground
// goroutines either wait for a detect string to show up (WaitDetect) or run
// synchronous command cycles (WriteReadString), which are serialized by the
// session's command lock. Data that arrives while no command is outstanding
// is reported to the registered EventHandler, tagged with the site index the
// handler was registered for; bytes that belong to a command's reply never
// are.
//
// Closing a session wakes every blocked caller with ErrClosed and raises the
// stop notification if none is pending.
package rs232
