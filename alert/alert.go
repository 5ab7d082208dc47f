// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends rate-limited operator e-mail when a driver.Device
// observes a protocol-level failure: a forced-close guard-fail on the
// connection state machine, or a memory operation aborting with
// synchronization loss. It is purely operational; nothing in the
// protocol's correctness surface depends on it.
package alert // import "github.com/go-lpc/jsdrv/alert"

import (
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	mail "gopkg.in/gomail.v2"
)

// MinInterval is the minimum spacing enforced between two e-mails for the
// same Mailer.
const MinInterval = time.Minute

// Mailer sends a rate-limited alert e-mail over SMTP.
type Mailer struct {
	from string
	to   []string
	host string
	port int
	usr  string
	pwd  string

	minInterval time.Duration

	mu   sync.Mutex
	last time.Time

	logger *log.Logger
}

// New returns a Mailer that authenticates as usr/pwd against host:port and
// sends alerts from "from" to each of "to".
func New(host string, port int, usr, pwd, from string, to []string) *Mailer {
	return &Mailer{
		from:        from,
		to:          to,
		host:        host,
		port:        port,
		usr:         usr,
		pwd:         pwd,
		minInterval: MinInterval,
		logger:      log.New(log.Writer(), "jsdrv/alert: ", 0),
	}
}

// Notify sends subject/body as an e-mail, unless one was already sent
// within the last MinInterval, in which case it is silently dropped.
func (m *Mailer) Notify(subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.last.IsZero() && now.Sub(m.last) < m.minInterval {
		return nil
	}
	m.last = now

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("Bcc", m.to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(m.host, m.port, m.usr, m.pwd)
	dial.TLSConfig = &tls.Config{InsecureSkipVerify: true}

	if err := dial.DialAndSend(msg); err != nil {
		m.logger.Printf("could not send mail alert: %+v", err)
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}
