package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/philipch07/cuetrack/internal/api"
	"github.com/philipch07/cuetrack/internal/chapters"
	"github.com/philipch07/cuetrack/internal/events"
)

const version = "0.1.0"

var errMissingArg = errors.New("missing argument")

func newApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "cuectl"
	app.HelpName = "cuectl"
	app.Usage = "control and watch a cuetrack server"
	app.Version = version
	app.UsageText = "cuectl [--server URL] <command> [arguments...]"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Usage:  "base URL of the cuetrack server",
			EnvVar: "CUECTL_SERVER",
			Value:  defaultServer,
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "start",
			Usage:  "start or resume playback",
			Action: control("/api/start"),
		},
		{
			Name:   "pause",
			Usage:  "pause playback",
			Action: control("/api/pause"),
		},
		{
			Name:      "seek",
			Usage:     "move the playback position",
			ArgsUsage: "<timestamp>",
			Action:    seek,
		},
		{
			Name:      "add",
			Aliases:   []string{"a"},
			Usage:     "append cue points",
			ArgsUsage: "<timestamp...>",
			Action:    add,
		},
		{
			Name:      "load",
			Usage:     "append the cue points of a cue sheet (.txt, .yaml, .opus)",
			ArgsUsage: "<file>",
			Action:    load,
		},
		{
			Name:   "status",
			Usage:  "print the session status",
			Action: status,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "json", Usage: "print the raw JSON document"},
			},
		},
		{
			Name:    "watch",
			Aliases: []string{"w"},
			Usage:   "stream cue events as they happen",
			Action:  watch,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "replay", Usage: "print retained events first"},
				cli.BoolFlag{Name: "bar", Usage: "render the playback position as a progress bar"},
				cli.IntFlag{Name: "limit", Usage: "exit after this many events (0 streams forever)"},
			},
		},
	}
	return app
}

func control(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		var st api.Status
		if err := newClient(ctx).post(path, nil, &st); err != nil {
			return err
		}
		printStatus(ctx.App.Writer, st)
		return nil
	}
}

func seek(ctx *cli.Context) error {
	raw := ctx.Args().First()
	if raw == "" {
		return fmt.Errorf("%w: seek needs a timestamp", errMissingArg)
	}
	to, err := chapters.ParseTimestamp(raw)
	if err != nil {
		return err
	}

	secs := events.Seconds(to)
	var st api.Status
	if err := newClient(ctx).post("/api/seek", api.SeekRequest{To: &secs}, &st); err != nil {
		return err
	}
	printStatus(ctx.App.Writer, st)
	return nil
}

func add(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("%w: add needs at least one timestamp", errMissingArg)
	}
	body := api.Cues{Points: make([]float64, 0, ctx.NArg())}
	for _, raw := range ctx.Args() {
		d, err := chapters.ParseTimestamp(raw)
		if err != nil {
			return err
		}
		body.Points = append(body.Points, events.Seconds(d))
	}
	return postCues(ctx, body)
}

func load(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("%w: load needs a file", errMissingArg)
	}
	sheet, err := chapters.Load(afero.NewOsFs(), path)
	if err != nil {
		return err
	}

	body := api.Cues{Points: make([]float64, len(sheet.Entries))}
	for i, e := range sheet.Entries {
		body.Points[i] = events.Seconds(e.At)
		if label := sheet.Label(i); label != "" {
			fmt.Fprintf(ctx.App.Writer, "%4d  %10.3fs  %s\n", i, body.Points[i], label)
		}
	}
	return postCues(ctx, body)
}

func postCues(ctx *cli.Context, body api.Cues) error {
	var out api.Cues
	if err := newClient(ctx).post("/api/cues", body, &out); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "added %d cue points, %d total\n", len(body.Points), len(out.Points))
	return nil
}

func status(ctx *cli.Context) error {
	var st api.Status
	if err := newClient(ctx).get("/api/status", &st); err != nil {
		return err
	}
	if ctx.Bool("json") {
		enc := json.NewEncoder(ctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(ctx.App.Writer, st)
	return nil
}

func printStatus(w io.Writer, st api.Status) {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", st.State)
	if st.Position != nil {
		fmt.Fprintf(&b, "  position: %.3fs", *st.Position)
	}
	fmt.Fprintf(&b, "  cues: %d", st.CuePoints)
	if st.LastReported != nil {
		fmt.Fprintf(&b, "  last reported: %d", *st.LastReported)
	}
	fmt.Fprintln(w, b.String())
}

func formatEvent(ev events.Event) string {
	return fmt.Sprintf("%-12s %v at %.3fs", ev.Kind, ev.Indices, ev.Position)
}
