package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestSMTP_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m := NewSMTP(Config{Host: "smtp.example.com", Port: 587, User: "u", Pass: "p", FromAddress: "noreply@example.com", FromName: "Academy"})
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := m.Send(context.Background(), "student@example.com", "ชำระเงินสำเร็จ", "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "student@example.com" {
		t.Errorf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: =?utf-8?q?") {
		t.Errorf("subject not encoded: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nhello") {
		t.Errorf("body missing: %q", msg)
	}
}

func TestSMTP_NotConfigured(t *testing.T) {
	m := NewSMTP(Config{})
	if err := m.Send(context.Background(), "a@b.c", "s", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}
