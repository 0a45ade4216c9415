package mailbox

import (
	"context"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idleRetrySleep is the backoff after an IDLE error before reconnecting.
const idleRetrySleep = 10 * time.Second

// NudgeFunc is called when the watched mailbox reports activity. It should
// be cheap: the pipeline's nudge just enqueues a discovery job.
type NudgeFunc func(userID string)

// IdleWatcher keeps an IMAP IDLE session open per user and nudges discovery
// when the server reports new mail. Polling remains the source of truth; the
// watcher only shortens the latency between a call sheet arriving and the
// pipeline seeing it.
type IdleWatcher struct {
	credentials CredentialProvider
	useTLS      bool
	nudge       NudgeFunc
}

// NewIdleWatcher creates a watcher that calls nudge on mailbox activity.
func NewIdleWatcher(credentials CredentialProvider, useTLS bool, nudge NudgeFunc) *IdleWatcher {
	return &IdleWatcher{credentials: credentials, useTLS: useTLS, nudge: nudge}
}

// Watch blocks until the context is canceled, reconnecting with backoff on
// every error. Auth errors also back off rather than abort: the user may
// re-authenticate at any time.
func (w *IdleWatcher) Watch(ctx context.Context, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.runOnce(ctx, userID); err != nil {
			log.Printf("Warning: idle watcher for user %s: %v", userID, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idleRetrySleep):
		}
	}
}

// runOnce opens a connection and idles on it until it breaks or the context
// is canceled.
func (w *IdleWatcher) runOnce(ctx context.Context, userID string) error {
	credential, err := w.credentials.GetValidCredential(ctx, userID)
	if err != nil {
		return err
	}

	c, err := connect(credential.Server, w.useTLS)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Login(credential.Username, credential.Password); err != nil {
		return err
	}

	if _, err := c.Select(credential.Folder, true); err != nil {
		return err
	}

	idleClient := idle.NewClient(c)

	updates := make(chan imapclient.Update, 10)
	c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, 5*time.Minute)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil
		case err := <-done:
			return err
		case update := <-updates:
			if _, ok := update.(*imapclient.MailboxUpdate); ok {
				log.Printf("idle watcher: mailbox activity for user %s, nudging discovery", userID)
				w.nudge(userID)
			}
		}
	}
}
