package hostapi

import (
	"encoding/binary"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ridgeline-silicon/manycore-rt/internal/hostapi/wire"
	"github.com/ridgeline-silicon/manycore-rt/internal/logx"
)

// Listener accepts the single host<->device mailbox connection over
// WebSocket, standing in for the PCIe mailbox queue pair the way
// kernel/core/mesh/transport's native signaling channel stands in for a
// WebRTC data channel. This chip exposes one mailbox to one host, never a
// peer mesh; PushResult writes to the most recently accepted connection.
type Listener struct {
	upgrader websocket.Upgrader
	server   *Server
	log      *logx.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewListener(server *Server, log *logx.Logger) *Listener {
	return &Listener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		server: server,
		log:    log,
	}
}

// ServeHTTP upgrades the connection and runs the mailbox read loop until
// the host disconnects. A second connection becomes the one PushResult
// writes to; the earlier connection's read loop keeps serving requests until
// that host disconnects.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Error("hostapi: upgrade failed", logx.Err(err))
		return
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.readLoop(conn)
}

func (l *Listener) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.log.Info("hostapi: mailbox connection closed", logx.Err(err))
			return
		}
		req, err := decodeFrame(data)
		if err != nil {
			l.log.Error("hostapi: malformed frame", logx.Err(err))
			continue
		}
		if resp := l.server.Handle(req); resp != nil {
			l.sendFrame(conn, *resp)
		}
	}
}

// PushResult delivers an asynchronous KERNEL_RESULT notification (or any
// other server-initiated message) over the live mailbox connection.
func (l *Listener) PushResult(msg Message) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("hostapi: no mailbox connection")
	}
	return l.sendFrame(conn, msg)
}

func (l *Listener) sendFrame(conn *websocket.Conn, msg Message) error {
	frame := encodeFrame(msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func encodeFrame(msg Message) []byte {
	hdr, _ := msg.Header.MarshalBinary()
	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(msg.Payload)))
	frame := make([]byte, 0, wire.HeaderSize+4+len(msg.Payload))
	frame = append(frame, hdr...)
	frame = append(frame, lenPrefix...)
	frame = append(frame, msg.Payload...)
	return frame
}

func decodeFrame(data []byte) (Message, error) {
	if len(data) < wire.HeaderSize+4 {
		return Message{}, errors.New("hostapi: frame shorter than header")
	}
	var hdr wire.Header
	if err := hdr.UnmarshalBinary(data[:wire.HeaderSize]); err != nil {
		return Message{}, err
	}
	payloadLen := binary.LittleEndian.Uint32(data[wire.HeaderSize : wire.HeaderSize+4])
	rest := data[wire.HeaderSize+4:]
	if uint32(len(rest)) < payloadLen {
		return Message{}, errors.New("hostapi: frame payload truncated")
	}
	return Message{Header: hdr, Payload: rest[:payloadLen]}, nil
}

// DialHost is the host-side counterpart used by tests and tooling that
// exercise the mailbox contract without a real PCIe host: it dials the
// device's WebSocket listener the way signaling_native.go's dialSignaling
// dials a peer.
func DialHost(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(url, nil)
	return conn, err
}
