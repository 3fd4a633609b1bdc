// Package ws serves the chat over a websocket.
//
// Frames are JSON objects with a "type" field.
//
// Client to server:
//   - chat: {message, thread_id?, employee?}
//   - ping: application level keep-alive
//
// Server to client:
//   - system: greeting sent once after the upgrade
//   - response: {thread_id, response}, the same body POST /chat returns
//   - error: {thread_id?, error}
//   - pong: reply to ping
//
// The server also sends websocket ping control frames and drops clients
// that stop answering them.
package ws
