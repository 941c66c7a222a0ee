package activity

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
)

// errQueryPending is returned while an earlier, abandoned query has not
// been answered yet.
var errQueryPending = errors.New("previous query still pending")

// X11Idle reads the X server's MIT-SCREEN-SAVER idle counter.
type X11Idle struct {
	conn *xgb.Conn
	root xproto.Drawable

	pending atomic.Bool
}

// NewX11Idle connects to the X server named by $DISPLAY.
func NewX11Idle() (*X11Idle, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect X server: %w", err)
	}
	if err := screensaver.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init MIT-SCREEN-SAVER: %w", err)
	}
	screen := xproto.Setup(conn).DefaultScreen(conn)
	return &X11Idle{conn: conn, root: xproto.Drawable(screen.Root)}, nil
}

// Name implements IdleQuerier.
func (x *X11Idle) Name() string { return "x11" }

// IdleTime implements IdleQuerier. The reply is waited for until ctx is
// done; an unanswered request is abandoned and no new one is sent until it
// completes.
func (x *X11Idle) IdleTime(ctx context.Context) (time.Duration, error) {
	return boundedQuery(ctx, &x.pending, func() (time.Duration, error) {
		info, err := screensaver.QueryInfo(x.conn, x.root).Reply()
		if err != nil {
			return 0, fmt.Errorf("query screensaver info: %w", err)
		}
		return time.Duration(info.MsSinceUserInput) * time.Millisecond, nil
	})
}

// Close closes the X connection.
func (x *X11Idle) Close() {
	x.conn.Close()
}

type queryResult struct {
	idle time.Duration
	err  error
}

// boundedQuery runs a blocking query in the background and waits for it at
// most until ctx is done. pending stays set while a query is in flight.
func boundedQuery(ctx context.Context, pending *atomic.Bool, query func() (time.Duration, error)) (time.Duration, error) {
	if !pending.CompareAndSwap(false, true) {
		return 0, errQueryPending
	}

	done := make(chan queryResult, 1)
	go func() {
		defer pending.Store(false)
		idle, err := query()
		done <- queryResult{idle, err}
	}()

	select {
	case r := <-done:
		return r.idle, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
