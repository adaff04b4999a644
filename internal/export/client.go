package export

import (
	"context"
	"net"
)

// Client reads snapshots from a Server.
type Client struct {
	conn net.Conn
	dec  Decoder
}

// Dial connects to the server socket at path.
func Dial(ctx context.Context, path string, t Transport) (*Client, error) {
	if t == nil {
		t = JSON{}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, t.Network(), path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, dec: t.NewDecoder(conn)}, nil
}

// Next blocks for the next snapshot and verifies its digest.
func (c *Client) Next() (Snapshot, error) {
	s, err := c.dec.Decode()
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.Verify(); err != nil {
		return s, err
	}
	return s, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
