// Package server runs the host's HTTP listeners: the web console with its
// process API, and the metrics endpoint. A Server binds synchronously so
// callers learn about a busy port at boot, then serves in the background
// until Shutdown.
package server
