package imap

import (
	"bufio"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	move "github.com/emersion/go-imap-move"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// session wraps one logged-in connection. Not safe for concurrent use; a
// worker owns its session for the whole run.
type session struct {
	log        logger.Logger
	client     *client.Client
	moveClient *move.MoveClient

	moveSupported  bool
	moveCapChecked bool
}

var headerSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"FROM", "SUBJECT", "DATE"},
	},
	Peek: true,
}

// selectFolder falls back to INBOX when the requested folder cannot be
// selected, matching the behaviour clients rely on for renamed folders.
func (s *session) selectFolder(folder string, readonly bool) error {
	if _, err := s.client.Select(folder, readonly); err == nil {
		return nil
	}
	_, err := s.client.Select("INBOX", readonly)
	return errors.Wrap(err, "failed to select folder")
}

func sinceCutoff(daysAgo *int) *time.Time {
	if daysAgo == nil {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -*daysAgo)
	return &cutoff
}

// FetchFromFolder lists the folder for a drain batch. The returned total is
// the full match count before the batch is cut, so callers can track the
// remaining backlog. Flagged messages are counted but dropped from the batch
// when skipFlagged is set.
func (s *session) FetchFromFolder(ctx context.Context, folder string, opts interfaces.FolderFetchOptions) ([]interfaces.EmailHeader, int, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.FetchFromFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", folder)

	if err := s.selectFolder(folder, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	criteria := imap.NewSearchCriteria()
	if cutoff := sinceCutoff(opts.SinceDaysAgo); cutoff != nil {
		criteria.Since = *cutoff
	}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, errors.Wrap(err, "UID search failed")
	}
	total := len(uids)
	if total == 0 {
		return nil, 0, nil
	}

	if !opts.OldestFirst {
		reverseUIDs(uids)
	}
	if opts.Limit >= 0 && len(uids) > opts.Limit {
		uids = uids[:opts.Limit]
	}
	if len(uids) == 0 {
		return nil, total, nil
	}

	headers, err := s.fetchHeaders(uids, opts.SkipFlagged)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return headers, total, nil
}

// FetchInbox lists messages for an inbox-cleanup batch. Only SEEN messages
// unless IncludeUnread; newest first unless OldestFirst.
func (s *session) FetchInbox(ctx context.Context, folder string, opts interfaces.InboxFetchOptions) ([]interfaces.EmailHeader, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.FetchInbox")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", folder)

	if err := s.selectFolder(folder, true); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if !opts.IncludeUnread {
		criteria.WithFlags = []string{imap.SeenFlag}
	}
	if cutoff := sinceCutoff(opts.SinceDaysAgo); cutoff != nil {
		criteria.Since = *cutoff
	}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "UID search failed")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	if opts.OldestFirst {
		if opts.Limit >= 0 && len(uids) > opts.Limit {
			uids = uids[:opts.Limit]
		}
	} else {
		if opts.Limit >= 0 && len(uids) > opts.Limit {
			uids = uids[len(uids)-opts.Limit:]
		}
		reverseUIDs(uids)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	return s.fetchHeaders(uids, opts.SkipFlagged)
}

func (s *session) fetchHeaders(uids []uint32, skipFlagged bool) ([]interfaces.EmailHeader, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchFlags, imap.FetchUid, headerSection.FetchItem()}
	messages := make(chan *imap.Message, len(uids))
	if err := s.client.UidFetch(seqSet, items, messages); err != nil {
		return nil, errors.Wrap(err, "UID fetch failed")
	}

	byUID := make(map[uint32]interfaces.EmailHeader, len(uids))
	for msg := range messages {
		isFlagged := hasFlag(msg.Flags, imap.FlaggedFlag)
		if skipFlagged && isFlagged {
			s.log.Debugf("skipping flagged email uid=%d", msg.Uid)
			continue
		}
		header := interfaces.EmailHeader{
			UID:       msg.Uid,
			Flags:     msg.Flags,
			IsSeen:    hasFlag(msg.Flags, imap.SeenFlag),
			IsFlagged: isFlagged,
		}
		if body := msg.GetBody(headerSection); body != nil {
			th, err := textproto.ReadHeader(bufio.NewReader(body))
			if err == nil {
				mh := mail.Header{Header: message.Header{Header: th}}
				header.From = decodeHeader(mh, "From")
				header.Subject = decodeHeader(mh, "Subject")
				header.Date = th.Get("Date")
			}
		}
		byUID[msg.Uid] = header
	}

	// UidFetch delivers in mailbox order; reassemble in the requested order.
	headers := make([]interfaces.EmailHeader, 0, len(byUID))
	for _, uid := range uids {
		if h, ok := byUID[uid]; ok {
			headers = append(headers, h)
		}
	}
	return headers, nil
}

// decodeHeader returns the RFC 2047 decoded value, falling back to the raw
// value when the encoding is broken.
func decodeHeader(h mail.Header, key string) string {
	value, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return value
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func reverseUIDs(uids []uint32) {
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
}

func (s *session) ListFolders(ctx context.Context) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		if m.Name == "" || m.Name == "[Gmail]" {
			continue
		}
		folders = append(folders, m.Name)
	}
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "LIST failed")
	}
	sort.Strings(folders)
	return folders, nil
}

// EnsureFolder creates the folder if missing; an already-exists response is
// not an error.
func (s *session) EnsureFolder(ctx context.Context, folder string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.EnsureFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", folder)

	if err := s.client.Create(folder); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "exists") || strings.Contains(msg, "alreadyexists") {
			return nil
		}
		s.log.Debugf("CREATE %q: %v", folder, err)
	}
	return nil
}

func (s *session) RenameFolder(ctx context.Context, oldName, newName string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.RenameFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := s.client.Rename(oldName, newName); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to rename %q to %q", oldName, newName)
	}
	return nil
}

// Move relocates one message. Uses MOVE when the server advertises it, else
// COPY + STORE \Deleted + EXPUNGE. A crash between COPY and EXPUNGE leaves a
// duplicate, which at-least-once semantics tolerate.
func (s *session) Move(ctx context.Context, uid uint32, sourceFolder, destFolder string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.Move")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)
	span.SetTag("dest", destFolder)

	if err := s.selectFolder(sourceFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	if s.supportsMove() {
		if err := s.moveClient.UidMove(seqSet, destFolder); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrapf(err, "IMAP MOVE failed for UID %d to %s", uid, destFolder)
		}
		return nil
	}

	if err := s.client.UidCopy(seqSet, destFolder); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "IMAP COPY failed for UID %d to %s", uid, destFolder)
	}
	if err := s.markDeletedAndExpunge(seqSet); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Trash marks the message deleted and expunges, without copying anywhere.
func (s *session) Trash(ctx context.Context, uid uint32, sourceFolder string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "imapSession.Trash")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)

	if err := s.selectFolder(sourceFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	if err := s.markDeletedAndExpunge(seqSet); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *session) markDeletedAndExpunge(seqSet *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqSet, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return errors.Wrap(err, "STORE \\Deleted failed")
	}
	if err := s.client.Expunge(nil); err != nil {
		return errors.Wrap(err, "EXPUNGE failed")
	}
	return nil
}

func (s *session) supportsMove() bool {
	if !s.moveCapChecked {
		supported, err := s.moveClient.SupportMove()
		if err != nil {
			supported = false
		}
		s.moveSupported = supported
		s.moveCapChecked = true
	}
	return s.moveSupported
}

func (s *session) Logout() error {
	return s.client.Logout()
}
