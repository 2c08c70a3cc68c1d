// Package dify is the hosted backend adapter.
//
// # Overview
//
// Client implements backend.HostedAdapter against a Dify-style application
// API. The server owns conversation history: parley only ever sends a query
// plus an optional conversation ID and reads the conversation list and
// message history back.
//
// # Streaming
//
// SendMessage posts to /chat-messages with response_mode "streaming" and
// returns a backend.Stream that reads server-sent events:
//
//	data: {"event":"message","answer":"Hel","conversation_id":"c-1"}
//	data: {"event":"message","answer":"lo","conversation_id":"c-1"}
//	data: {"event":"message_end","conversation_id":"c-1"}
//
// "message" and "agent_message" events yield answer chunks. The first
// conversation_id seen becomes the stream's ConversationRef. An "error"
// event ends the stream with an *APIError. Lines that are not valid JSON
// are logged and skipped.
//
// # Errors
//
// Non-2xx responses are returned as *APIError carrying the HTTP status and
// the server's message.
package dify
