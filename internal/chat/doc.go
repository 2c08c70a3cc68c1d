// Package chat is the conversation and streaming-message reconciliation core.
//
// # Overview
//
// Engine is the one state holder shared by the HTTP API and the REPL. It
// owns:
//
//   - the active App
//   - a Registry with the active App's conversation list and selection
//   - a Timeline with the messages of the selected conversation
//
// Two kinds of App are served through the Backend strategy interface, one
// implementation per kind:
//
//   - hosted: the server owns history (NewHostedBackend over a
//     backend.HostedAdapter)
//   - direct-model: history is held in a store.LocalStore
//     (NewLocalBackend over a backend.CompletionAdapter)
//
// # Send Protocol
//
// Start accepts a send and runs it on its own goroutine; Send is Start plus
// PendingSend.Wait. A send moves through idle, dispatching, streaming and
// then settled or failed:
//
//  1. Blank input, no active app, or a send already in flight is rejected
//     without touching anything.
//  2. A user message and an empty assistant placeholder are appended to the
//     timeline.
//  3. The backend begins the turn. Direct-model apps create and select a
//     conversation if none is selected and persist both messages.
//  4. The answer stream is opened. Each chunk is accumulated and the
//     placeholder's content is replaced with the accumulator.
//  5. The backend finishes the turn: hosted apps adopt a server-assigned
//     conversation, direct-model apps persist the answer and may name the
//     conversation in the background.
//  6. Any error replaces the placeholder with ErrorContent (persisted for
//     direct-model apps).
//
// Navigating away mid-stream does not cancel the stream. Updates are keyed
// by message ID, so updates to a message that is no longer on display are
// dropped by the Timeline, while direct-model persistence still targets the
// conversation captured when the send began.
//
// # Events
//
// Timeline and list changes are published on a Broadcaster so presentation
// layers can follow streaming without polling.
package chat
