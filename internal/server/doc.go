// Package server exposes the chat engine over HTTP.
//
// JSON endpoints manage apps and conversations and read the timeline.
// POST /api/send streams one send as Server-Sent Events:
//
//	event: started        {"user_message_id": "...", "assistant_message_id": "..."}
//	event: message        timeline append (user message, then placeholder)
//	event: update         full current content of the assistant message
//	event: state          dispatching, streaming, settled or failed
//	event: conversations  list or selection changed
//	event: done           {"state": "...", "conversation_id": "...", "answer": "..."}
//
// GET /api/events streams every engine event until the client disconnects.
// An optional idempotency_key on /api/send makes retries safe.
package server
