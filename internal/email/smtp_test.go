package email

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FilipRus/boxItFindIt/internal/config"
)

// fakeSMTPServer accepts one session and records the commands and DATA payload.
func fakeSMTPServer(t *testing.T) (host string, port int, got chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got = make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		var lines []string

		write("220 localhost ESMTP test")
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				got <- lines
				return
			}
			line = strings.TrimRight(line, "\r\n")
			lines = append(lines, line)
			if inData {
				if line == "." {
					inData = false
					write("250 queued")
				}
				continue
			}
			cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch cmd {
			case "EHLO", "HELO":
				write("250 localhost")
			case "MAIL", "RCPT", "RSET", "NOOP":
				write("250 OK")
			case "DATA":
				inData = true
				write("354 go ahead")
			case "QUIT":
				write("221 bye")
				got <- lines
				return
			default:
				write("502 not implemented")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, got
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, got := fakeSMTPServer(t)
	s := NewSMTPSender(config.SMTPConfig{
		Host: host,
		Port: port,
		From: "BoxIT <no-reply@boxit.local>",
	})

	err := s.Send(context.Background(), &Message{To: "ana@example.com", Subject: "Hello", Body: "hi there"})
	require.NoError(t, err)

	var lines []string
	select {
	case lines = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	session := strings.Join(lines, "\n")
	assert.Contains(t, session, "MAIL FROM:<no-reply@boxit.local>")
	assert.Contains(t, session, "RCPT TO:<ana@example.com>")
	assert.Contains(t, session, "Subject: Hello")
	assert.Contains(t, session, "hi there")
}

func TestSMTPSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSMTPSender(config.SMTPConfig{Host: "127.0.0.1", Port: port, From: "a@b.c"})
	err = s.Send(context.Background(), &Message{To: "x@y.z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp dial 127.0.0.1:"+strconv.Itoa(port))
}
