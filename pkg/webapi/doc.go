/*
Package webapi is the kernel's web surface: a console that mirrors
/dev/con over websockets and a read-mostly JSON API over the process
table and the file tree.

The Console is handed to the kernel as the console writer and input.
Everything written to /dev/con goes to the host terminal, when there is
one, and to every connected client; a new client first receives the
recent scrollback. Input typed on the host or in any client is merged
into one stream that processes read from /dev/con.

Routes:

	GET  /healthz                          liveness, no token needed
	GET  /api/system                       boot id, uptime, counts
	GET  /api/processes                    the process listing
	GET  /api/processes/:pid               one process
	POST /api/processes/:pid/signal/:name  deliver a signal
	GET  /api/files/*path                  directory listing or file text
	GET  /console                          websocket console
*/
package webapi
