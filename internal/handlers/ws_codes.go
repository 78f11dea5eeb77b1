// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes. These give clients a more specific
// reason for closure than the standard set.
const (
	BadSubprotocolError  = 3000 // Client connected with an unsupported subprotocol.
	VersionMismatchError = 3001 // Client handshake version does not match the server's.
)
