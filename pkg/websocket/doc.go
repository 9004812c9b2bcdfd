/*
Package websocket implements the RFC 6455 WebSocket protocol over net/http:
an Upgrader for the server side, Dial for the client side and a Conn that
exchanges whole messages.

Conn answers pings and close frames itself and joins fragmented messages,
so callers only see text and binary messages:

	conn, err := upgrader.Upgrade(w, r)
	for {
		op, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.WriteMessage(op, payload)
	}
*/
package websocket
