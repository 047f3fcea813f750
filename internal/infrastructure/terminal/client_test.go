package terminal

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

// fakeTerminal is a loopback listener speaking the framed protocol.
type fakeTerminal struct {
	listener net.Listener
	users    []byte
	attLogs  []byte
	refuse   bool
}

func startFakeTerminal(t *testing.T) *fakeTerminal {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ft := &fakeTerminal{listener: listener}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go ft.serve(conn)
		}
	}()
	return ft
}

func (ft *fakeTerminal) hostPort(t *testing.T) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(ft.listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func (ft *fakeTerminal) serve(conn net.Conn) {
	defer conn.Close()

	for {
		var header [8]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		command := binary.LittleEndian.Uint16(header[2:4])
		length := binary.LittleEndian.Uint32(header[4:8])
		if length > 0 {
			if _, err := io.CopyN(io.Discard, conn, int64(length)); err != nil {
				return
			}
		}

		var status uint16
		var payload []byte
		switch command {
		case cmdHello:
			if ft.refuse {
				status = 0x0001
			}
		case cmdUsers:
			payload = ft.users
		case cmdAttLogs:
			payload = ft.attLogs
		case cmdBye:
			ft.reply(conn, statusOK, nil)
			return
		default:
			status = 0x00FF
		}
		ft.reply(conn, status, payload)
	}
}

func (ft *fakeTerminal) reply(conn net.Conn, status uint16, payload []byte) {
	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], frameMagic)
	binary.LittleEndian.PutUint16(frame[2:4], status)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	_, _ = conn.Write(frame)
}

func encodeUser(code string, name string) []byte {
	record := make([]byte, userRecordLen)
	copy(record[:codeFieldLen], code)
	copy(record[codeFieldLen:], name)
	return record
}

func encodeAttLog(code string, ts time.Time, subtype byte) []byte {
	record := make([]byte, attRecordLen)
	copy(record[:codeFieldLen], code)
	binary.LittleEndian.PutUint64(record[codeFieldLen:codeFieldLen+8], uint64(ts.Unix()))
	record[attRecordLen-1] = subtype
	return record
}

func TestDialHandshakeAndFetch(t *testing.T) {
	ft := startFakeTerminal(t)
	ts := time.Date(2026, 3, 14, 8, 30, 0, 0, time.Local)

	ft.users = append(encodeUser("E001", "Ada"), encodeUser("E002", "Grace")...)
	ft.attLogs = append(encodeAttLog("E001", ts, 0), encodeAttLog("E002", ts.Add(9*time.Hour), 1)...)

	host, port := ft.hostPort(t)
	client, err := Dialer{}.Dial(context.Background(), host, port, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	users, err := client.GetUsers(context.Background())
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	if len(users) != 2 || users[0].Code != "E001" || users[0].Name != "Ada" || users[1].Code != "E002" {
		t.Fatalf("users = %+v", users)
	}

	logs, err := client.GetAttendanceLogs(context.Background())
	if err != nil {
		t.Fatalf("GetAttendanceLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %+v", logs)
	}
	if logs[0].Code != "E001" || !logs[0].Timestamp.Equal(ts) || logs[0].PunchSubtype != 0 {
		t.Fatalf("first log = %+v", logs[0])
	}
	if logs[1].PunchSubtype != 1 {
		t.Fatalf("second log = %+v", logs[1])
	}
}

func TestDialRefusedHandshake(t *testing.T) {
	ft := startFakeTerminal(t)
	ft.refuse = true

	host, port := ft.hostPort(t)
	_, err := Dialer{}.Dial(context.Background(), host, port, 2*time.Second)
	if !errors.Is(err, ErrDeviceRefused) {
		t.Fatalf("Dial() error = %v, want ErrDeviceRefused", err)
	}
}

func TestDialUnreachableHost(t *testing.T) {
	// A listener that is immediately closed guarantees a refused port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	_ = listener.Close()

	if _, err := (Dialer{}).Dial(context.Background(), host, port, 500*time.Millisecond); err == nil {
		t.Fatalf("Dial() expected error for closed port")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ft := startFakeTerminal(t)

	host, port := ft.hostPort(t)
	client, err := Dialer{}.Dial(context.Background(), host, port, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
