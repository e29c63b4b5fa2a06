// Package wire defines the frame types exchanged with a pufferblow
// server and the JSON codec that moves them on and off the socket.
package wire
