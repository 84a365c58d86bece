package email

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeSMTPServer speaks just enough plain SMTP (no STARTTLS offered) to
// let gomail.Dialer complete a send, so SMTPSender can be exercised
// without a real mail server.
func fakeSMTPServer(t *testing.T) (addr string, received chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received = make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		fmt.Fprintf(conn, "220 localhost ESMTP\r\n")

		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")

			if inData {
				if line == "." {
					inData = false
					fmt.Fprintf(conn, "250 OK\r\n")
					received <- data.String()
					continue
				}
				data.WriteString(line + "\n")
				continue
			}

			switch {
			case strings.HasPrefix(strings.ToUpper(line), "EHLO"):
				fmt.Fprintf(conn, "250-localhost\r\n250 8BITMIME\r\n")
			case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM"):
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.HasPrefix(strings.ToUpper(line), "RCPT TO"):
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.ToUpper(line) == "DATA":
				fmt.Fprintf(conn, "354 Go ahead\r\n")
				inData = true
			case strings.ToUpper(line) == "QUIT":
				fmt.Fprintf(conn, "221 Bye\r\n")
				return
			default:
				fmt.Fprintf(conn, "250 OK\r\n")
			}
		}
	}()

	return ln.Addr().String(), received
}

func TestSMTPSenderSendsAnonymously(t *testing.T) {
	addr, received := fakeSMTPServer(t)
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	sender := NewSMTPSender(SMTPConfig{
		Host:        host,
		Port:        port,
		FromAddress: "notify@example.com",
		DisplayName: "Notifier",
		Workers:     2,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sender.Send(ctx, "user@example.com", "Hi Ada", "<p>Hello Ada</p>"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case body := <-received:
		if !strings.Contains(body, "Hello Ada") {
			t.Fatalf("expected body to contain rendered content, got %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestAPISenderRequiresAPIKey(t *testing.T) {
	_, err := NewAPISender(APIConfig{FromEmail: "a@b.com"})
	if err == nil {
		t.Fatalf("expected error without API key")
	}
}
