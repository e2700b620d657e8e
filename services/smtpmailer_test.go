package services

import (
	"context"
	"encoding/base64"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herbitect/config"
)

// smtpSession is what the fake relay saw during one connection.
type smtpSession struct {
	auth string
	from string
	rcpt []string
	data string
	quit bool
}

type fakeRelay struct {
	ln       net.Listener
	starttls bool

	mu       sync.Mutex
	sessions []*smtpSession
	done     chan struct{}
}

func startFakeRelay(t *testing.T, starttls bool) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRelay{ln: ln, starttls: starttls, done: make(chan struct{}, 4)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn)
		}
	}()
	return r
}

func (r *fakeRelay) mailConfig(t *testing.T, useTLS bool) config.MailConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(r.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	return config.MailConfig{
		Host:     host,
		Port:     p,
		UseTLS:   useTLS,
		Username: "noreply@herbitect.app",
		Password: "app-password",
		Sender:   "noreply@herbitect.app",
	}
}

func (r *fakeRelay) serve(conn net.Conn) {
	defer conn.Close()
	defer func() { r.done <- struct{}{} }()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	s := &smtpSession{}
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 127.0.0.1 ESMTP ready")

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")

		r.mu.Lock()
		switch strings.ToUpper(verb) {
		case "EHLO":
			_ = tp.PrintfLine("250-127.0.0.1")
			if r.starttls {
				_ = tp.PrintfLine("250-STARTTLS")
			}
			_ = tp.PrintfLine("250 AUTH PLAIN")
		case "HELO", "NOOP", "RSET":
			_ = tp.PrintfLine("250 ok")
		case "AUTH":
			s.auth = arg
			_ = tp.PrintfLine("235 2.7.0 authenticated")
		case "MAIL":
			s.from = angleAddr(arg)
			_ = tp.PrintfLine("250 ok")
		case "RCPT":
			s.rcpt = append(s.rcpt, angleAddr(arg))
			_ = tp.PrintfLine("250 ok")
		case "DATA":
			_ = tp.PrintfLine("354 end with <CR><LF>.<CR><LF>")
			r.mu.Unlock()
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			s.data = string(body)
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			s.quit = true
			_ = tp.PrintfLine("221 bye")
			r.mu.Unlock()
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
		r.mu.Unlock()
	}
}

func (r *fakeRelay) wait(t *testing.T) *smtpSession {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sessions)
	return r.sessions[len(r.sessions)-1]
}

func angleAddr(arg string) string {
	start := strings.IndexByte(arg, '<')
	end := strings.IndexByte(arg, '>')
	if start < 0 || end < start {
		return ""
	}
	return arg[start+1 : end]
}

func TestSMTPMailerDeliversOTP(t *testing.T) {
	relay := startFakeRelay(t, false)
	mailer, err := NewSMTPMailer(relay.mailConfig(t, false))
	require.NoError(t, err)

	text, html, err := GenerateEmailContent("482913", 10*time.Minute)
	require.NoError(t, err)

	err = mailer.Send(context.Background(), EmailMessage{
		To:       "a@x.com",
		Subject:  DefaultSubject,
		TextBody: text,
		HTMLBody: html,
	})
	require.NoError(t, err)

	s := relay.wait(t)
	assert.Equal(t, "noreply@herbitect.app", s.from)
	assert.Equal(t, []string{"a@x.com"}, s.rcpt)
	assert.Contains(t, s.data, "Subject: "+DefaultSubject)
	assert.Contains(t, s.data, "Your OTP is: 482913. It is valid for 10 minutes.")
	assert.True(t, s.quit)

	mech, payload, ok := strings.Cut(s.auth, " ")
	require.True(t, ok)
	assert.Equal(t, "PLAIN", mech)
	creds, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, "\x00noreply@herbitect.app\x00app-password", string(creds))
}

func TestSMTPMailerRequiresSTARTTLSWhenConfigured(t *testing.T) {
	relay := startFakeRelay(t, false)
	mailer, err := NewSMTPMailer(relay.mailConfig(t, true))
	require.NoError(t, err)

	err = mailer.Send(context.Background(), EmailMessage{To: "a@x.com", Subject: DefaultSubject, TextBody: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")

	s := relay.wait(t)
	assert.Empty(t, s.from, "no envelope is sent over an unencrypted session")
	assert.Empty(t, s.auth)
}

func TestSMTPMailerDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	mailer, err := NewSMTPMailer(config.MailConfig{Host: "127.0.0.1", Port: addr.Port, Sender: "noreply@herbitect.app"})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), EmailMessage{To: "a@x.com", Subject: DefaultSubject, TextBody: "x"})
	assert.Error(t, err)
}
