// Package terminal implements the push-button side of the biometric
// terminal wire protocol: a framed binary exchange over TCP that serves the
// stored attendance log and the user roster. It is one vendor adapter
// behind ports.TerminalClient; nothing outside this package depends on the
// framing.
package terminal

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"biosync/internal/errs"
	"biosync/internal/ports"
)

const (
	frameMagic uint16 = 0x5A4B

	cmdHello   uint16 = 0x03E8
	cmdBye     uint16 = 0x03E9
	cmdUsers   uint16 = 0x0009
	cmdAttLogs uint16 = 0x000D

	statusOK uint16 = 0x0000

	// Fixed record layouts inside response payloads.
	codeFieldLen  = 9
	nameFieldLen  = 24
	attRecordLen  = codeFieldLen + 8 + 1
	userRecordLen = codeFieldLen + nameFieldLen

	maxPayloadLen = 8 << 20
)

var (
	ErrBadFrame      = errors.New("terminal sent a malformed frame")
	ErrDeviceRefused = errors.New("terminal refused the command")
)

// Dialer opens protocol connections and performs the hello handshake.
type Dialer struct{}

var _ ports.TerminalDialer = Dialer{}

func (Dialer) Dial(ctx context.Context, host string, port int, timeout time.Duration) (ports.TerminalClient, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errs.Wrapf(err, "dial terminal %s", addr)
	}

	client := &Client{conn: conn, timeout: timeout}
	if _, err := client.roundTrip(cmdHello, nil); err != nil {
		_ = conn.Close()
		return nil, errs.Wrapf(err, "handshake with terminal %s", addr)
	}
	return client, nil
}

// Client is one live terminal session. Not safe for concurrent use; the
// ingestion path holds exactly one per terminal at a time.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *Client) GetAttendanceLogs(ctx context.Context) ([]ports.AttendanceLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	payload, err := c.roundTrip(cmdAttLogs, nil)
	if err != nil {
		return nil, errs.Wrap(err, "fetch attendance logs")
	}
	return decodeAttendanceLogs(payload)
}

func (c *Client) GetUsers(ctx context.Context) ([]ports.RosterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	payload, err := c.roundTrip(cmdUsers, nil)
	if err != nil {
		return nil, errs.Wrap(err, "fetch roster")
	}
	return decodeRoster(payload)
}

// Close sends the bye command best-effort, then drops the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	_, _ = c.roundTrip(cmdBye, nil)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) roundTrip(command uint16, payload []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, errors.New("terminal connection is closed")
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, errs.Wrap(err, "set deadline")
	}

	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], frameMagic)
	binary.LittleEndian.PutUint16(frame[2:4], command)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)

	if _, err := c.conn.Write(frame); err != nil {
		return nil, errs.Wrap(err, "write frame")
	}

	var header [8]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, errs.Wrap(err, "read frame header")
	}
	if binary.LittleEndian.Uint16(header[0:2]) != frameMagic {
		return nil, ErrBadFrame
	}
	status := binary.LittleEndian.Uint16(header[2:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrBadFrame, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, errs.Wrap(err, "read frame payload")
	}

	if status != statusOK {
		return nil, fmt.Errorf("%w: status 0x%04X", ErrDeviceRefused, status)
	}
	return body, nil
}

func decodeAttendanceLogs(payload []byte) ([]ports.AttendanceLog, error) {
	if len(payload)%attRecordLen != 0 {
		return nil, fmt.Errorf("%w: attendance payload of %d bytes", ErrBadFrame, len(payload))
	}

	logs := make([]ports.AttendanceLog, 0, len(payload)/attRecordLen)
	for off := 0; off < len(payload); off += attRecordLen {
		record := payload[off : off+attRecordLen]
		unix := int64(binary.LittleEndian.Uint64(record[codeFieldLen : codeFieldLen+8]))
		logs = append(logs, ports.AttendanceLog{
			Code:         trimField(record[:codeFieldLen]),
			Timestamp:    time.Unix(unix, 0).Local(),
			PunchSubtype: int(record[attRecordLen-1]),
		})
	}
	return logs, nil
}

func decodeRoster(payload []byte) ([]ports.RosterEntry, error) {
	if len(payload)%userRecordLen != 0 {
		return nil, fmt.Errorf("%w: roster payload of %d bytes", ErrBadFrame, len(payload))
	}

	entries := make([]ports.RosterEntry, 0, len(payload)/userRecordLen)
	for off := 0; off < len(payload); off += userRecordLen {
		record := payload[off : off+userRecordLen]
		entries = append(entries, ports.RosterEntry{
			Code: trimField(record[:codeFieldLen]),
			Name: trimField(record[codeFieldLen:]),
		})
	}
	return entries, nil
}

func trimField(raw []byte) string {
	return string(bytes.TrimRight(raw, "\x00"))
}
