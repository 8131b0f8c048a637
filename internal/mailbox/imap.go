// imap.go implements Dialer/Session against a real upstream server using
// github.com/emersion/go-imap/v2 and its imapclient package — the same
// family of libraries every IMAP client in the reference pack (aerion,
// msgvault, gomap, monitor-imap-webhook) builds on, generalized here to the
// spec's XOAUTH2 + IDLE + UID-FETCH contract (spec.md §6).
package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/onemail/sync-core/internal/domain"
)

// imapDialer is the production Dialer.
type imapDialer struct {
	connectTimeout time.Duration
	fetchTimeout   time.Duration
	logger         *slog.Logger
}

func NewDialer(connectTimeout, fetchTimeout time.Duration, logger *slog.Logger) Dialer {
	return &imapDialer{connectTimeout: connectTimeout, fetchTimeout: fetchTimeout, logger: logger}
}

func (d *imapDialer) Dial(ctx context.Context, key domain.AccountKey, cred domain.Credential) (Session, error) {
	addr := fmt.Sprintf("%s:993", imapHost(key.Email))

	updates := make(chan int, 8)
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case updates <- int(*data.NumMessages):
					default:
						// slow consumer: drop the stale count, FetchNewest
						// still reads against the server's live total.
					}
				}
			},
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	type dialResult struct {
		c   *imapclient.Client
		err error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		c, err := imapclient.DialTLS(addr, options)
		resultCh <- dialResult{c, err}
	}()

	select {
	case <-dialCtx.Done():
		return nil, fmt.Errorf("imap: connect %s: %w", addr, dialCtx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("imap: connect %s: %w", addr, res.err)
		}

		if err := res.c.Authenticate(newXOAuth2Client(key.Email, cred.AccessToken)); err != nil {
			_ = res.c.Close()
			return nil, fmt.Errorf("imap: xoauth2 authenticate: %w", err)
		}
		if _, err := res.c.Select(imap.InboxName, nil).Wait(); err != nil {
			_ = res.c.Close()
			return nil, fmt.Errorf("imap: select INBOX: %w", err)
		}

		return &imapSession{
			conn:         res.c,
			updates:      updates,
			fetchTimeout: d.fetchTimeout,
			logger:       d.logger,
		}, nil
	}
}

// imapHost derives the IMAP hostname from the account's email domain. A real
// deployment maps provider domains to their IMAP endpoints (e.g. via the
// OAuth provider registration); this mirrors the reference clients' simple
// host-from-address convention for the common case.
func imapHost(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return "imap." + email[i+1:]
		}
	}
	return email
}

type imapSession struct {
	conn         *imapclient.Client
	updates      chan int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// awaitWithContext races a blocking imapclient call (Wait()/Collect(), which
// take no context of their own) against ctx, the same goroutine+select
// pattern the reference client uses for every command (other_examples
// lorduskordus-aerion internal/imap/client.go, "since Wait() blocks
// indefinitely"). Every suspension point on the connection must be
// cancellable (spec.md §5), so Backfill, FetchNewest and Noop make their
// blocking calls through it. Idle returns without blocking, and Close races
// logout against its own deadline instead.
func awaitWithContext[T any](ctx context.Context, do func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		val, err := do()
		resultCh <- result{val, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-resultCh:
		return res.val, res.err
	}
}

func (s *imapSession) Backfill(ctx context.Context, since time.Time) ([]domain.RawMessage, error) {
	searchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	searchData, err := awaitWithContext(searchCtx, func() (*imap.SearchData, error) {
		return s.conn.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	})
	if err != nil {
		return nil, fmt.Errorf("imap: uid search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(uids...)

	msgs, err := s.fetchUIDs(ctx, uidSet)
	if err != nil {
		return nil, err
	}

	out := msgs[:0]
	for _, m := range msgs {
		// Defensive re-check: server inclusivity around the exact boundary
		// is unreliable (spec.md §4.4 step 2).
		if m.Date.Before(since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *imapSession) FetchNewest(ctx context.Context, n int) ([]domain.RawMessage, error) {
	statusCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	status, err := awaitWithContext(statusCtx, func() (*imap.StatusData, error) {
		return s.conn.Status(imap.InboxName, &imap.StatusOptions{NumMessages: true}).Wait()
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("imap: status: %w", err)
	}
	if status.NumMessages == nil || *status.NumMessages == 0 {
		return nil, nil
	}

	total := *status.NumMessages
	if uint32(n) > total {
		n = int(total)
	}
	start := total - uint32(n) + 1

	var seqSet imap.SeqSet
	seqSet.AddRange(start, total)

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}

	fetchCtx, cancel2 := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel2()
	items, err := awaitWithContext(fetchCtx, func() ([]*imapclient.FetchMessageBuffer, error) {
		return s.conn.Fetch(seqSet, fetchOpts).Collect()
	})
	if err != nil {
		return nil, fmt.Errorf("imap: fetch newest: %w", err)
	}
	return toRawMessages(items), nil
}

func (s *imapSession) fetchUIDs(ctx context.Context, uidSet imap.UIDSet) ([]domain.RawMessage, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	items, err := awaitWithContext(fetchCtx, func() ([]*imapclient.FetchMessageBuffer, error) {
		return s.conn.Fetch(uidSet, fetchOpts).Collect()
	})
	if err != nil {
		return nil, fmt.Errorf("imap: uid fetch: %w", err)
	}
	return toRawMessages(items), nil
}

func toRawMessages(items []*imapclient.FetchMessageBuffer) []domain.RawMessage {
	out := make([]domain.RawMessage, 0, len(items))
	for _, item := range items {
		var body []byte
		for _, section := range item.BodySection {
			body = section.Bytes
			break
		}

		var subject, from string
		var to []string
		if item.Envelope != nil {
			subject = item.Envelope.Subject
			if len(item.Envelope.From) > 0 {
				from = addrString(item.Envelope.From[0])
			}
			for _, a := range item.Envelope.To {
				to = append(to, addrString(a))
			}
		}

		out = append(out, domain.RawMessage{
			UID:         uint64(item.UID),
			Subject:     subject,
			From:        from,
			To:          to,
			Date:        item.InternalDate,
			SourceBytes: body,
		})
	}
	return out
}

func addrString(a imap.Address) string {
	if a.Host == "" {
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

// Idle enters RFC-2177 IDLE and streams unilateral EXISTS growth on
// updates, previously registered via the UnilateralDataHandler at Dial
// time. stop() ends IDLE cleanly; idleErr fires at most once.
func (s *imapSession) Idle(ctx context.Context) (<-chan int, <-chan error, func()) {
	idleErr := make(chan error, 1)

	idleCmd, err := s.conn.Idle()
	if err != nil {
		idleErr <- fmt.Errorf("imap: idle start: %w", err)
		return s.updates, idleErr, func() {}
	}

	go func() {
		idleErr <- idleCmd.Wait()
	}()

	stop := func() {
		_ = idleCmd.Close()
	}
	return s.updates, idleErr, stop
}

func (s *imapSession) Noop(ctx context.Context) error {
	_, err := awaitWithContext(ctx, func() (struct{}, error) {
		return struct{}{}, s.conn.Noop().Wait()
	})
	return err
}

func (s *imapSession) Close(ctx context.Context) error {
	deadline := 2 * time.Second
	done := make(chan error, 1)
	go func() { done <- s.conn.Logout().Wait() }()

	select {
	case err := <-done:
		_ = s.conn.Close()
		return err
	case <-ctx.Done():
		return s.conn.Close()
	case <-time.After(deadline):
		return s.conn.Close()
	}
}
