package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/philipch07/cuetrack/internal/api"
	"github.com/philipch07/cuetrack/internal/events"
)

const pollInterval = 250 * time.Millisecond

func watch(ctx *cli.Context) error {
	c := newClient(ctx)
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	path := "/api/events/ws"
	if ctx.Bool("replay") {
		path += "?replay=1"
	}
	conn, _, err := websocket.Dial(runCtx, c.websocketURL(path), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", path, err)
	}
	defer func() { _ = conn.CloseNow() }()

	onEvent := func(ev events.Event) {
		fmt.Fprintln(ctx.App.Writer, formatEvent(ev))
	}
	if ctx.Bool("bar") {
		bar, err := newPositionBar(runCtx, c, ctx.App.Writer)
		if err != nil {
			return err
		}
		defer bar.stop()
		onEvent = bar.observe
	}

	limit := ctx.Int("limit")
	for n := 0; limit <= 0 || n < limit; n++ {
		var ev events.Event
		if err := wsjson.Read(runCtx, conn, &ev); err != nil {
			if runCtx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		onEvent(ev)
	}
	return nil
}

// positionBar renders the playback position against the last cue point. The
// position is polled from /api/status; events only update the trailing label.
type positionBar struct {
	client   *client
	progress *mpb.Progress
	bar      *mpb.Bar
	last     atomic.Value
	cues     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPositionBar(ctx context.Context, c *client, w io.Writer) (*positionBar, error) {
	pb := &positionBar{client: c}
	pb.last.Store("waiting for cues")

	total, err := pb.total()
	if err != nil {
		return nil, err
	}

	ctx, pb.cancel = context.WithCancel(ctx)
	pb.progress = mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(w), mpb.WithRefreshRate(100*time.Millisecond))

	name := "position"
	pb.bar = pb.progress.New(0,
		mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.Any(func(s decor.Statistics) string {
				return fmt.Sprintf("%.1fs / %.1fs", float64(s.Current)/1000, float64(s.Total)/1000)
			}, decor.WC{W: 18}),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return pb.last.Load().(string)
			}),
		),
	)
	pb.bar.SetTotal(total, false)

	pb.wg.Add(1)
	go pb.poll(ctx)
	return pb, nil
}

// total fetches the cue list and returns the last point in milliseconds.
func (pb *positionBar) total() (int64, error) {
	var cues api.Cues
	if err := pb.client.get("/api/cues", &cues); err != nil {
		return 0, err
	}
	pb.cues = len(cues.Points)
	if pb.cues == 0 {
		return 1, nil
	}
	if ms := int64(cues.Points[pb.cues-1] * 1000); ms > 0 {
		return ms, nil
	}
	return 1, nil
}

func (pb *positionBar) poll(ctx context.Context) {
	defer pb.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var st api.Status
		if err := pb.client.get("/api/status", &st); err != nil {
			pb.last.Store(err.Error())
			continue
		}
		if st.CuePoints != pb.cues {
			if total, err := pb.total(); err == nil {
				pb.bar.SetTotal(total, false)
			}
		}
		if st.Position != nil {
			pb.bar.SetCurrent(int64(*st.Position * 1000))
		}
	}
}

func (pb *positionBar) observe(ev events.Event) {
	pb.last.Store(formatEvent(ev))
}

func (pb *positionBar) stop() {
	pb.cancel()
	pb.wg.Wait()
	pb.bar.Abort(false)
	pb.progress.Wait()
}
