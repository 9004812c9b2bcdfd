// Package protocol implements the messages exchanged between the kernel and
// an execution unit.
//
// The kernel starts a unit with a startProcess message; the unit issues
// syscall messages and receives exactly one syscallResult per request,
// correlated by sequence number rather than by order. Messages travel as
// JSON objects, one per line:
//
//	{"startProcess":{"programName":"cat","code":"...","args":["a"],"pid":4}}
//	{"syscall":{"syscall":"read","arg":{"fd":0},"sequenceNum":1}}
//	{"syscallResult":{"success":"hello\n","sequenceNum":1}}
//	{"syscallResult":{"error":{"message":"no such fd","kind":"kernel"},"sequenceNum":2}}
//	{"signal":{"signal":"terminalResize"}}
//
// # Errors
//
// Errors cross the boundary as an ErrorValue. FromError and ToError convert
// between kernel errors and their wire form so that interrupted syscalls and
// failed waits stay distinguishable on both sides.
//
// # Usage
//
//	enc := protocol.NewEncoder(conn)
//	enc.WriteMessage(protocol.Message{Kind: protocol.KindSyscall, Syscall: &req})
//
//	dec := protocol.NewDecoder(conn)
//	msg, err := dec.ReadMessage()
package protocol
