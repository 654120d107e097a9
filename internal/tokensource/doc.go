// Package tokensource resolves the Anthropic API key and attaches it to
// outbound requests.
//
// Keys are read through the oauth2.TokenSource abstraction so the transport
// does not care where a key lives; two stores back it:
//
//   - keyring: the OS credential store (via zalando/go-keyring), written by
//     the `toolgate auth set-key` command
//   - env: a read-only store over an injected getenv function
//
// The gateway core never touches this package; it sees only an opaque
// http.RoundTripper.
package tokensource
