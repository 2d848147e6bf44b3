package common

import "sync"

// EmailSender delivers one HTML message.
type EmailSender interface {
	Send(to, subject, html string) error
}

// Email is a message captured by InMemoryEmail.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// InMemoryEmail records messages instead of sending them.
type InMemoryEmail struct {
	mu     sync.Mutex
	outbox []Email
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// Sent returns a snapshot of the recorded messages.
func (m *InMemoryEmail) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.outbox...)
}

// NopEmailSender drops every message; the API uses it when mail is disabled.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }
