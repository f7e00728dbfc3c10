package sessions

import "errors"

var (
	// ErrConnGone indicates the connection ID no longer resolves here.
	ErrConnGone = errors.New("connection gone")

	// ErrSendBufferFull indicates the peer is not draining its socket.
	ErrSendBufferFull = errors.New("send buffer full")
)
