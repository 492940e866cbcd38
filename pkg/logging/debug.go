package logging

// DebugEnable is set by the linker (-X) to build a binary that logs every
// frame crossing the transport.
var DebugEnable string

// Debuggable reports whether the build includes wire-level debug logging.
var Debuggable = DebugEnable != ""
