// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Asset
// payloads reuse the api package types so the CLI renders IPC and HTTP
// results the same way.
package ipc
