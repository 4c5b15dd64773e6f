package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/gophmsg/internal/auth"
	"github.com/dmitrijs2005/gophmsg/internal/client/config"
	"github.com/dmitrijs2005/gophmsg/internal/client/conversations"
	"github.com/dmitrijs2005/gophmsg/internal/client/identity"
	"github.com/dmitrijs2005/gophmsg/internal/client/localdb"
	"github.com/dmitrijs2005/gophmsg/internal/client/messages"
	"github.com/dmitrijs2005/gophmsg/internal/client/session"
	"github.com/dmitrijs2005/gophmsg/internal/filex"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/objectstore"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	auth     *auth.Provider
	identity *identity.Manager
	gate     *session.Gate
	messages *messages.Service
	convos   *conversations.Aggregator
	reader   *bufio.Reader
	out      io.Writer
	closers  []func() error

	mu      sync.Mutex
	session *auth.Session
	unread  int
	stop    context.CancelFunc
}

// backends groups the collaborators an App is built on.
type backends struct {
	db      *sql.DB
	store   remote.Store
	feed    realtime.Feed
	objects objectstore.Store
	closers []func() error
}

// NewApp opens every backend named by c and returns a ready App reading
// commands from stdin.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, os.Stderr)

	b, err := openBackends(ctx, c, logger)
	if err != nil {
		logger.Error(ctx, "backend initialization failed", "err", err)
		return nil, err
	}

	return newApp(c, logger, b, os.Stdin, os.Stdout), nil
}

func newApp(c *config.Config, logger logging.Logger, b *backends, in io.Reader, out io.Writer) *App {
	a := &App{
		config:  c,
		logger:  logger,
		auth:    auth.NewProvider([]byte(c.JWTSecret), c.SessionTTL),
		reader:  bufio.NewReader(in),
		out:     out,
		closers: b.closers,
	}

	a.identity = identity.NewManager(b.db, b.store, nil, logger)
	a.gate = session.NewGate(a.identity, b.store, session.NotifierFunc(a.notify), logger)
	a.messages = messages.NewService(b.store, b.objects, b.feed, a.gate, logger)
	a.convos = conversations.NewAggregator(b.store, a.gate, b.feed, c.ConversationFallbackLimit, logger)
	return a
}

func openBackends(ctx context.Context, c *config.Config, logger logging.Logger) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		closeAll(b.closers)
		return nil, err
	}

	path, err := filex.EnsureParentDir(c.LocalDBPath)
	if err != nil {
		return fail(err)
	}
	b.db, err = localdb.InitDatabase(ctx, path)
	if err != nil {
		return fail(fmt.Errorf("device database: %w", err))
	}
	b.closers = append(b.closers, b.db.Close)

	publisher, feed, closer, err := openFeed(c)
	if err != nil {
		return fail(err)
	}
	b.feed = feed
	if closer != nil {
		b.closers = append(b.closers, closer)
	}

	store, closer, err := openStore(ctx, c, publisher, logger)
	if err != nil {
		return fail(err)
	}
	b.store = store
	if closer != nil {
		b.closers = append(b.closers, closer)
	}

	b.objects = openObjects(c)
	return b, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}

func (a *App) notify(_ context.Context, n session.Notification) {
	fmt.Fprintf(a.out, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
}

func (a *App) currentSession() *auth.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) isLoggedIn() bool {
	return a.currentSession() != nil && a.gate.State() == session.Unlocked
}

func (a *App) getStatus() string {
	s := a.currentSession()
	if s == nil {
		return "(" + a.gate.State().String() + ")"
	}

	a.mu.Lock()
	unread := a.unread
	a.mu.Unlock()

	if unread > 0 {
		return fmt.Sprintf("(%s %s, %d unread)", s.UserID, a.gate.State(), unread)
	}
	return fmt.Sprintf("(%s %s)", s.UserID, a.gate.State())
}

// Run starts the REPL and releases every backend when it returns.
func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)

	fmt.Fprintln(a.out, "Welcome to gophmsg (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}

// Close logs out and closes all backends.
func (a *App) Close(ctx context.Context) {
	if a.currentSession() != nil {
		_ = a.Logout(ctx)
	}
	closeAll(a.closers)
}
