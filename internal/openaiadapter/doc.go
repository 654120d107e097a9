// Package openaiadapter defines the OpenAI-compatible wire types for
// server-side request/response handling.
//
// The types are hand-written rather than taken from the openai-go SDK:
//
//  1. SERVER-SIDE vs CLIENT-SIDE: the SDK is designed for making outbound
//     API calls TO OpenAI. This gateway receives inbound requests FROM
//     clients and translates them to Anthropic Claude. The client-oriented
//     param.Opt[T] field patterns would add complexity for server-side
//     JSON decoding.
//
//  2. STANDARD JSON: plain structs with pointer-typed optional fields work
//     directly with encoding/json via json.NewDecoder(), which is all the
//     HTTP layer needs.
//
//  3. SURFACE: the gateway only speaks the chat-completions operation, so
//     the full generated type surface would be dead weight.
package openaiadapter
