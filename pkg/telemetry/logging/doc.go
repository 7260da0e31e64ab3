// Package logging wraps log/slog with the conventions the router's
// components share: level and format parsing, context-field extraction
// (request id, correlation id, provider), and a redactor that masks key
// material and bearer tokens before any byte reaches a sink.
//
// Components receive a *slog.Logger at construction; the Logger wrapper here
// builds that handler stack and owns redaction. Nothing in this repository
// logs credential plaintext. The redactor is the last line of defense, not
// the first.
package logging
