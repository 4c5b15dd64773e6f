package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/conversations"
	"github.com/dmitrijs2005/gophmsg/internal/client/messages"
	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

var errUsage = errors.New("usage")

func usage(s string) error {
	return fmt.Errorf("%w: %s", errUsage, s)
}

// Login starts a session. With a user name a development token is issued
// locally; without one the user pastes a token issued elsewhere.
func (a *App) Login(ctx context.Context, args []string) error {
	var (
		s   *auth.Session
		err error
	)
	if len(args) > 0 {
		s, err = a.auth.Issue(args[0])
	} else {
		var token []byte
		token, err = GetSecret(a.out, "Session token")
		if err != nil {
			return err
		}
		s, err = a.auth.Parse(string(token))
		common.WipeByteArray(token)
	}
	if err != nil {
		return err
	}

	if prev := a.currentSession(); prev != nil && prev.UserID != s.UserID {
		a.stopBackground()
		a.mu.Lock()
		a.session = nil
		a.mu.Unlock()
	}

	if err := a.gate.OnSessionChange(ctx, s); err != nil {
		return err
	}

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	a.startBackground(s.UserID)
	fmt.Fprintf(a.out, "Logged in as %s, key %s\n", s.UserID, a.gate.Keys().Fingerprint())
	return nil
}

// startBackground follows the realtime feed and keeps the unread counter
// fresh until logout.
func (a *App) startBackground(me string) {
	a.stopBackground()

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.stop = cancel
	a.mu.Unlock()

	_, err := a.messages.Watch(ctx, me, func(m messages.Message) {
		if m.SenderID == me {
			return
		}
		fmt.Fprintf(a.out, "\n[new] %s: %s\n", m.SenderID, render(m))
	})
	if err != nil {
		a.logger.Warn(ctx, "realtime watch unavailable", "err", err)
	}

	go func() {
		_ = a.convos.Run(ctx, me, a.config.RefreshInterval, func(rows []conversations.Conversation, _ map[string]remote.Profile, err error) {
			if err != nil {
				a.logger.Warn(ctx, "conversation refresh failed", "err", err)
				return
			}
			total := 0
			for _, r := range rows {
				total += r.UnreadCount
			}
			a.mu.Lock()
			a.unread = total
			a.mu.Unlock()
		})
	}()
}

func (a *App) stopBackground() {
	a.mu.Lock()
	stop := a.stop
	a.stop = nil
	a.unread = 0
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Logout destroys the session keys. The device identity stays on disk.
func (a *App) Logout(ctx context.Context) error {
	a.stopBackground()

	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	if err := a.gate.OnSessionChange(ctx, nil); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// Send handles "send <peer> [-f file] [text]". Without text and file the
// message body is read from the following lines.
func (a *App) Send(ctx context.Context, args []string) error {
	me, err := a.me()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return usage("send <peer> [-f file] [text]")
	}
	peer, rest := args[0], args[1:]

	var att *messages.Attachment
	if len(rest) >= 2 && rest[0] == "-f" {
		att, err = readAttachment(rest[1])
		if err != nil {
			return err
		}
		rest = rest[2:]
	}

	text := strings.Join(rest, " ")
	if text == "" && att == nil {
		text, err = GetMultiline(a.reader, "Message", a.out)
		if err != nil {
			return err
		}
	}

	m, err := a.messages.Send(ctx, me, peer, text, att)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sent #%d\n", m.SeqNum)
	return nil
}

func readAttachment(path string) (*messages.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &messages.Attachment{Filename: filepath.Base(path), ContentType: ct, Data: data}, nil
}

func (a *App) Thread(ctx context.Context, args []string) error {
	me, err := a.me()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usage("thread <peer>")
	}

	thread, err := a.messages.FetchThread(ctx, me, args[0])
	if err != nil {
		return err
	}
	if len(thread) == 0 {
		fmt.Fprintln(a.out, "No messages")
		return nil
	}
	for _, m := range thread {
		fmt.Fprintf(a.out, "#%-5d %s %-10s %s (%s)\n",
			m.SeqNum, m.CreatedAt.Local().Format(time.DateTime), m.SenderID, render(m), m.Status)
	}
	return nil
}

func render(m messages.Message) string {
	var b strings.Builder
	switch {
	case m.DecryptFailed:
		b.WriteString("<unable to decrypt>")
	case !m.Encrypted:
		b.WriteString(m.Text + " [unencrypted]")
	default:
		b.WriteString(m.Text)
	}
	if m.ImageRef != "" {
		fmt.Fprintf(&b, " [attachment %s]", m.ImageRef)
	}
	return b.String()
}

func (a *App) Read(ctx context.Context, args []string) error {
	me, err := a.me()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return usage("read <peer>")
	}
	a.messages.MarkThreadRead(ctx, me, args[0])
	return nil
}

func (a *App) Convos(ctx context.Context) error {
	me, err := a.me()
	if err != nil {
		return err
	}

	rows, profiles, err := a.convos.FetchConversations(ctx, me)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "No conversations")
		return nil
	}

	for _, r := range rows {
		name := r.PeerID
		if p, ok := profiles[r.PeerID]; ok && p.DisplayName != "" {
			name = fmt.Sprintf("%s (%s)", p.DisplayName, r.PeerID)
		}

		preview := r.LastContent
		switch {
		case r.LastDecryptFailed:
			preview = "<unable to decrypt>"
		case preview == "" && r.LastImageRef != "":
			preview = "[attachment]"
		}
		if r.LastSenderID == me {
			preview = "you: " + preview
		}

		unread := ""
		if r.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", r.UnreadCount)
		}
		fmt.Fprintf(a.out, "%s%s  %s\n", name, unread, preview)
	}
	return nil
}

func (a *App) URL(ctx context.Context, args []string) error {
	if _, err := a.me(); err != nil {
		return err
	}
	if len(args) != 1 {
		return usage("url <ref>")
	}
	u, err := a.messages.AttachmentURL(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, u)
	return nil
}

func (a *App) Whoami(_ context.Context) error {
	s := a.currentSession()
	if s == nil {
		fmt.Fprintf(a.out, "not logged in (%s)\n", a.gate.State())
		return nil
	}

	keys := a.gate.Keys()
	rows := [][2]string{
		{"user", s.UserID},
		{"state", a.gate.State().String()},
		{"device", keys.DeviceID()},
		{"fingerprint", keys.Fingerprint()},
		{"expires", s.ExpiresAt.Local().Format(time.DateTime)},
	}
	for _, r := range rows {
		fmt.Fprintf(a.out, "%-12s %s\n", r[0]+":", r[1])
	}
	return nil
}

func (a *App) me() (string, error) {
	s := a.currentSession()
	if s == nil {
		return "", errNotLoggedIn
	}
	return s.UserID, nil
}

var errNotLoggedIn = errors.New("not logged in")
