package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/source"
)

const (
	inbox = "INBOX"

	// dialTimeout bounds the TCP connect and TLS handshake together.
	dialTimeout = 30 * time.Second
)

var (
	// archiveFolders are tried in order when archiving.
	archiveFolders = []string{
		"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive",
	}

	// trashFolders are tried in order when trashing.
	trashFolders = []string{
		"Trash", "[Gmail]/Trash", "Deleted Items", "INBOX.Trash",
	}
)

// IMAPClient talks to one mailbox over IMAP, authenticating with an
// OAuth2 bearer token. Each operation opens its own connection.
type IMAPClient struct {
	host        string
	port        int
	username    string
	accessToken string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(host string, port int, username, accessToken string) *IMAPClient {
	return &IMAPClient{
		host:        host,
		port:        port,
		username:    username,
		accessToken: accessToken,
	}
}

var _ source.Source = (*IMAPClient)(nil)

// session is a connected client with INBOX selected. Cancelling ctx
// closes the connection, which aborts any pending command.
type session struct {
	client      *imapclient.Client
	uidValidity uint32
	stop        func() bool
}

func (s *session) close() {
	s.stop()
	_ = s.client.Logout().Wait()
	_ = s.client.Close()
}

// connect establishes a TLS connection, authenticates with OAUTHBEARER
// and selects INBOX. Dial and handshake both honor ctx.
func (c *IMAPClient) connect(ctx context.Context) (*session, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	conn, err := c.dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindTransient, "imap.connect",
			fmt.Sprintf("connecting to IMAP %s", addr), err)
	}

	client := imapclient.New(conn, nil)
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.username,
		Token:    c.accessToken,
		Host:     c.host,
		Port:     c.port,
	})
	if err := client.Authenticate(saslClient); err != nil {
		stop()
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindAuth, "imap.connect",
			fmt.Sprintf("authentication failed for %s", c.username), err)
	}

	selected, err := client.Select(inbox, nil).Wait()
	if err != nil {
		stop()
		_ = client.Close()
		return nil, c.wrap(ctx, "imap.select", err)
	}

	return &session{client: client, uidValidity: selected.UIDValidity, stop: stop}, nil
}

func (c *IMAPClient) dial(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, &tls.Config{ServerName: c.host})
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return conn, nil
}

// wrap classifies a failed IMAP command. Server-side NO/BAD responses are
// not retried; everything else is a connection problem.
func (c *IMAPClient) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := err.(*imap.Error); ok {
		return apperr.Wrap(apperr.KindFormat, op, "IMAP server rejected the command", err)
	}
	return apperr.Wrap(apperr.KindTransient, op, "IMAP connection failed", err)
}

// List searches INBOX for messages received since the given day.
func (c *IMAPClient) List(ctx context.Context, since time.Time) ([]string, error) {
	sess, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	searchData, err := sess.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, c.wrap(ctx, "imap.List", err)
	}

	uids := searchData.AllUIDs()
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, formatID(sess.uidValidity, uid))
	}
	return ids, nil
}

// Get fetches the full message and parses its MIME structure.
func (c *IMAPClient) Get(ctx context.Context, id string) (*source.RawMessage, error) {
	sess, uid, err := c.open(ctx, "imap.Get", id)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := sess.client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, apperr.New(apperr.KindNotFound, "imap.Get", fmt.Sprintf("message %s not found", id))
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, c.wrap(ctx, "imap.Get", err)
	}

	raw := &source.RawMessage{
		ID:           id,
		InternalDate: buf.InternalDate.UTC(),
		Payload:      parseMIME(buf.FindBodySection(bodySection)),
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, c.wrap(ctx, "imap.Get", err)
	}
	return raw, nil
}

// Archive moves the message to the first archive mailbox that exists,
// falling back to marking it deleted.
func (c *IMAPClient) Archive(ctx context.Context, id string) error {
	return c.moveTo(ctx, "imap.Archive", id, archiveFolders)
}

// Trash moves the message to the first trash mailbox that exists,
// falling back to marking it deleted.
func (c *IMAPClient) Trash(ctx context.Context, id string) error {
	return c.moveTo(ctx, "imap.Trash", id, trashFolders)
}

// Modify adds and removes IMAP flags.
func (c *IMAPClient) Modify(ctx context.Context, id string, add, remove []string) error {
	sess, uid, err := c.open(ctx, "imap.Modify", id)
	if err != nil {
		return err
	}
	defer sess.close()

	uidSet := imap.UIDSetNum(uid)
	for _, change := range []struct {
		op    imap.StoreFlagsOp
		flags []string
	}{
		{imap.StoreFlagsAdd, add},
		{imap.StoreFlagsDel, remove},
	} {
		if len(change.flags) == 0 {
			continue
		}
		flags := make([]imap.Flag, 0, len(change.flags))
		for _, f := range change.flags {
			flags = append(flags, imap.Flag(f))
		}
		storeCmd := sess.client.Store(uidSet, &imap.StoreFlags{
			Op:     change.op,
			Silent: true,
			Flags:  flags,
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return c.wrap(ctx, "imap.Modify", err)
		}
	}
	return nil
}

func (c *IMAPClient) moveTo(ctx context.Context, op, id string, folders []string) error {
	sess, uid, err := c.open(ctx, op, id)
	if err != nil {
		return err
	}
	defer sess.close()

	uidSet := imap.UIDSetNum(uid)
	for _, folder := range folders {
		if _, err := sess.client.Move(uidSet, folder).Wait(); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Fallback: mark as deleted
	storeCmd := sess.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return c.wrap(ctx, op, err)
	}
	return nil
}

// open connects and checks that id still refers to the selected mailbox.
func (c *IMAPClient) open(ctx context.Context, op, id string) (*session, imap.UID, error) {
	uidValidity, uid, err := parseID(id)
	if err != nil {
		return nil, 0, err
	}

	sess, err := c.connect(ctx)
	if err != nil {
		return nil, 0, err
	}
	if sess.uidValidity != uidValidity {
		sess.close()
		return nil, 0, apperr.New(apperr.KindNotFound, op,
			fmt.Sprintf("message %s belongs to an older mailbox generation", id))
	}
	return sess, uid, nil
}
