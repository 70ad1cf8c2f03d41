package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// MaxPacketSize bounds a single packet payload.
const MaxPacketSize = 10 * 1024 * 1024

// ReadPacket reads one length-prefixed packet: a 4-byte big-endian length
// followed by that many bytes of JSON.
func ReadPacket(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WritePacket writes one length-prefixed packet in a single write.
func WritePacket(w io.Writer, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("packet too large: %d bytes", len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// PacketFramer frames envelopes with the length-prefixed packet protocol.
type PacketFramer struct {
	conn   net.Conn
	reader *bufio.Reader
	once   sync.Once
}

// NewPacketFramer wraps a stream connection.
func NewPacketFramer(conn net.Conn) *PacketFramer {
	return &PacketFramer{conn: conn, reader: bufio.NewReader(conn)}
}

func (p *PacketFramer) ReadFrame() ([]byte, error) {
	return ReadPacket(p.reader)
}

func (p *PacketFramer) WriteFrame(data []byte) error {
	return WritePacket(p.conn, data)
}

func (p *PacketFramer) Close() error {
	var err error
	p.once.Do(func() { err = p.conn.Close() })
	return err
}

// DialPacket connects to a packet socket. network is "unix" or "tcp".
func DialPacket(ctx context.Context, network, address string, logger *slog.Logger) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s %s: %w", network, address, err)
	}
	if logger != nil {
		logger.Info("connected", "network", network, "address", address)
	}
	return NewConn(NewPacketFramer(conn), logger), nil
}
