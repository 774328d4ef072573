package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/firefart/dmarcingest/internal/config"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
)

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = [][]byte{
	{31, 139},      // .gz "\x1f\x8b"
	{80, 75, 3, 4}, // .zip "\x50\x4B\x03\x04"
	{80, 75, 5, 6}, // .zip "\x50\x4B\x05\x06"
	{80, 75, 7, 8}, // .zip "\x50\x4B\x07\x08"
}

func looksLikeArchive(content []byte) bool {
	sliceEnd := 10
	if len(content) < sliceEnd {
		sliceEnd = len(content)
	}
	head := content[0:sliceEnd]

	for _, magic := range magicTable {
		if bytes.HasPrefix(head, magic) {
			return true
		}
	}
	return false
}

func isReportName(filename string) bool {
	switch filepath.Ext(filename) {
	case ".zip", ".gz":
		return true
	default:
		return false
	}
}

// Fetcher downloads DMARC report attachments from an IMAP mailbox into
// the report directory so the normal ingest pass picks them up.
type Fetcher struct {
	conf   config.IMAPConfig
	logger *slog.Logger
}

func New(conf config.IMAPConfig, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		conf:   conf,
		logger: logger,
	}
}

// FetchTo connects to the mailbox and writes every report attachment of
// every non deleted message into dir. Attachments whose filename is
// already present in dir are skipped. When deletion is configured,
// processed messages are expunged afterwards. It returns the number of
// files written.
func (f *Fetcher) FetchTo(ctx context.Context, dir string) (int, error) {
	c, err := f.connect()
	if err != nil {
		return 0, fmt.Errorf("could not connect to %s: %w", f.conf.Host, err)
	}

	if err := c.Login(f.conf.User, f.conf.Pass); err != nil {
		return 0, fmt.Errorf("could not login: %w", err)
	}

	defer func() {
		if err := c.Logout(); err != nil {
			f.logger.Error("error on logout", "err", err)
		}
	}()

	hasFolder, err := f.hasFolder(c, f.conf.Folder)
	if err != nil {
		return 0, fmt.Errorf("could not check if folder %s exists: %w", f.conf.Folder, err)
	}
	if !hasFolder {
		return 0, fmt.Errorf("imap folder %s not found in account", f.conf.Folder)
	}

	mbox, err := c.Select(f.conf.Folder, false)
	if err != nil {
		return 0, fmt.Errorf("could not select folder %s: %w", f.conf.Folder, err)
	}

	f.logger.Info("opened mailbox", "name", mbox.Name, "messages", mbox.Messages, "unread", mbox.Unseen)

	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.DeletedFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("could not search for mails: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(ids...)

	section := &goimap.BodySectionName{}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchUid,
	}

	messages := make(chan *goimap.Message)
	done := make(chan error)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	written := 0
	var processed []uint32
	for msg := range messages {
		select {
		case <-ctx.Done():
			// drain the channel so the fetch goroutine can finish
			continue
		default:
		}
		n, err := f.saveAttachments(msg, dir)
		if err != nil {
			// keep going, the message stays in the mailbox
			f.logger.Error("could not process message", "uid", msg.Uid, "subject", msg.Envelope.Subject, "err", err)
			continue
		}
		written += n
		processed = append(processed, msg.Uid)
	}

	if err := <-done; err != nil {
		return written, fmt.Errorf("error on fetch: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return written, err
	}

	if f.conf.Delete && len(processed) > 0 {
		for _, uid := range processed {
			if err := markDeleted(c, uid); err != nil {
				f.logger.Error("could not set delete flag on message", "uid", uid, "err", err)
			}
		}
		if err := c.Expunge(nil); err != nil {
			return written, fmt.Errorf("could not expunge: %w", err)
		}
	}

	return written, nil
}

func (f *Fetcher) connect() (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if f.conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}
	if f.conf.SSL {
		c, err := client.DialTLS(f.conf.Host, &tlsConfig)
		if err != nil {
			return nil, err
		}
		c.Timeout = f.conf.Timeout.Duration
		return c, nil
	}
	c, err := client.Dial(f.conf.Host)
	if err != nil {
		return nil, err
	}
	c.Timeout = f.conf.Timeout.Duration
	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (f *Fetcher) hasFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *goimap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
			break
		}
	}

	if err := <-done; err != nil {
		return false, err
	}
	return hasFolder, nil
}

func markDeleted(c *client.Client, msgUID uint32) error {
	seq := new(goimap.SeqSet)
	seq.AddNum(msgUID)
	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	flags := []interface{}{goimap.DeletedFlag}
	return c.UidStore(seq, item, flags, nil)
}

// saveAttachments walks the MIME parts of a message and writes every
// part that looks like a DMARC report delivery into dir.
func (f *Fetcher) saveAttachments(msg *goimap.Message, dir string) (int, error) {
	r := msg.GetBody(&goimap.BodySectionName{})
	if r == nil {
		return 0, fmt.Errorf("server didn't return message body")
	}
	m, err := mail.CreateReader(r)
	if err != nil {
		return 0, fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	written := 0
	for {
		p, err := m.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return written, fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return written, fmt.Errorf("could not read inline body: %w", err)
			}
			// sometimes the attachment is inlined so we check the magic bytes
			if !looksLikeArchive(b) {
				continue
			}
			_, params, err := h.ContentDisposition()
			if err != nil {
				return written, fmt.Errorf("could not get content disposition: %w", err)
			}
			filename, ok := params["filename"]
			if !ok {
				return written, fmt.Errorf("could not determine filename of inline attachment")
			}
			saved, err := f.writeAttachment(dir, filename, b)
			if err != nil {
				return written, err
			}
			if saved {
				written++
			}
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return written, fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return written, fmt.Errorf("could not read attachment: %w", err)
			}
			if !isReportName(filename) && !looksLikeArchive(b) {
				f.logger.Debug("ignoring attachment", "filename", filename)
				continue
			}
			saved, err := f.writeAttachment(dir, filename, b)
			if err != nil {
				return written, err
			}
			if saved {
				written++
			}
		default:
			f.logger.Debug("unhandled part header", "header", fmt.Sprintf("%T", p.Header))
		}
	}

	return written, nil
}

func (f *Fetcher) writeAttachment(dir, filename string, content []byte) (bool, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return false, fmt.Errorf("invalid attachment filename %q", filename)
	}
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		f.logger.Debug("attachment already downloaded", "file", name)
		return false, nil
	}
	if err := os.WriteFile(target, content, 0o640); err != nil {
		return false, fmt.Errorf("could not write attachment %s: %w", name, err)
	}
	f.logger.Info("downloaded report attachment", "file", name)
	return true, nil
}
