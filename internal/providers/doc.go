// Package providers holds the thin HTTP clients for the external data
// sources (weather, market quotes, calendar). They are deliberately
// minimal: fetch, decode, return typed data. All message formatting and
// delivery decisions live in the bots package.
package providers
