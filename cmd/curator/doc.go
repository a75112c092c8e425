// Command curator is the CLI for the asset curation daemon.
//
// It launches and stops the background daemon, reports status, lists and
// inspects assets, requests transforms, and streams daemon logs. Commands
// talk to the daemon over its Unix socket; log streaming prefers the HTTP API
// when it is enabled.
package main
