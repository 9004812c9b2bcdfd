package protocol

// Protocol constants.
const (
	// ProtocolVersion is the current protocol version.
	ProtocolVersion uint8 = 1
	// MaxMessageSize is the maximum allowed encoded message size (16 MB).
	MaxMessageSize = 16 * 1024 * 1024
)

// AnyChild is the waitForExit pid that matches any child.
const AnyChild = "ANY_CHILD"

// StartNew is the spawn pgid that starts a new process group.
const StartNew = "START_NEW"
