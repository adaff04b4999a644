//go:build linux

package export

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	memfd "github.com/justincormack/go-memfd"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/sys/unix"
)

// maxHeaderSize bounds the JSON header datagram.
const maxHeaderSize = 4096

// Memfd sends a JSON header per packet with the samples in a sealed memfd
// passed as SCM_RIGHTS.
type Memfd struct{}

func newMemfd() (Transport, error) {
	return Memfd{}, nil
}

func (Memfd) Name() string    { return TransportMemfd }
func (Memfd) Network() string { return "unixpacket" }

func (Memfd) NewEncoder(conn net.Conn) Encoder {
	uc, _ := conn.(*net.UnixConn)
	return &memfdEncoder{conn: uc}
}

func (Memfd) NewDecoder(conn net.Conn) Decoder {
	uc, _ := conn.(*net.UnixConn)
	return &memfdDecoder{
		conn: uc,
		buf:  make([]byte, maxHeaderSize),
		oob:  make([]byte, unix.CmsgSpace(4)),
	}
}

var errNotUnix = errors.New("export: memfd transport needs a unix connection")

type memfdEncoder struct {
	conn *net.UnixConn
}

func (e *memfdEncoder) Encode(s Snapshot) error {
	if e.conn == nil {
		return errNotUnix
	}
	header := s
	header.Data = nil
	hdr, err := sonnet.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header %d: %w", s.Seq, err)
	}

	file, err := memfd.Create()
	if err != nil {
		return fmt.Errorf("memfd create: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(encodeSamples(s.Data)); err != nil {
		return fmt.Errorf("memfd write: %w", err)
	}
	if err := file.SetImmutable(); err != nil {
		return fmt.Errorf("memfd seal: %w", err)
	}

	rights := unix.UnixRights(int(file.Fd()))
	if _, _, err := e.conn.WriteMsgUnix(hdr, rights, nil); err != nil {
		return err
	}
	return nil
}

type memfdDecoder struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte
}

func (d *memfdDecoder) Decode() (Snapshot, error) {
	if d.conn == nil {
		return Snapshot{}, errNotUnix
	}
	n, oobn, _, _, err := d.conn.ReadMsgUnix(d.buf, d.oob)
	if err != nil {
		return Snapshot{}, err
	}
	if n == 0 && oobn == 0 {
		return Snapshot{}, io.EOF
	}

	var s Snapshot
	if err := sonnet.Unmarshal(d.buf[:n], &s); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal header: %w", err)
	}

	msgs, err := unix.ParseSocketControlMessage(d.oob[:oobn])
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse control message: %w", err)
	}
	if len(msgs) != 1 {
		return Snapshot{}, fmt.Errorf("frame %d: expected 1 control message, got %d", s.Seq, len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse rights: %w", err)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return Snapshot{}, fmt.Errorf("frame %d: expected 1 fd, got %d", s.Seq, len(fds))
	}

	f := os.NewFile(uintptr(fds[0]), "frame")
	defer f.Close()

	raw := make([]byte, 4*s.Channels*s.Samples)
	if _, err := f.ReadAt(raw, 0); err != nil {
		return Snapshot{}, fmt.Errorf("read frame %d: %w", s.Seq, err)
	}
	s.Data = decodeSamples(raw)
	return s, nil
}
