// Package model is the direct-model backend adapter.
//
// Client wraps github.com/sashabaranov/go-openai. It streams chat completions
// for apps whose history is held locally and generates short conversation
// titles after the first exchange. The base URL is configurable so any
// OpenAI-compatible gateway can be used.
//
// Credentials resolve per call: the app's own key wins, otherwise the
// server-wide key from configuration is used.
package model
