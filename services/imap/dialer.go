package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/client"
	move "github.com/emersion/go-imap-move"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

const (
	defaultHost = "imap.mail.me.com"
	defaultPort = "993"
)

type dialer struct {
	log                logger.Logger
	settingsRepository interfaces.SettingsRepository
}

func NewDialer(log logger.Logger, settingsRepository interfaces.SettingsRepository) interfaces.IMAPDialer {
	return &dialer{log: log, settingsRepository: settingsRepository}
}

// Dial opens a TLS connection and logs in. Host and port come from settings so
// non-iCloud servers work, with the iCloud defaults preserved.
func (d *dialer) Dial(ctx context.Context, username, password string) (interfaces.IMAPSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapDialer.Dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	host, err := d.settingsRepository.Get(ctx, models.SettingImapHost, defaultHost)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	port, err := d.settingsRepository.Get(ctx, models.SettingImapPort, defaultPort)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	serverAddr := fmt.Sprintf("%s:%s", host, port)
	span.SetTag("server", serverAddr)

	netDialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	c, err := client.DialWithDialerTLS(netDialer, serverAddr, &tls.Config{ServerName: host})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		if isAuthError(err) {
			return nil, errors.Wrap(err, "IMAP authentication failed: check your email and app-specific password")
		}
		return nil, errors.Wrap(err, "IMAP login failed")
	}
	c.Timeout = 0

	d.log.Infof("IMAP connected to %s as %s", serverAddr, username)
	return &session{
		log:        d.log,
		client:     c,
		moveClient: move.NewClient(c),
	}, nil
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "AUTHENTICATIONFAILED") ||
		strings.Contains(msg, "Invalid credentials") ||
		strings.Contains(strings.ToLower(msg), "authentication failed")
}
