package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"agendacal/internal/calendar"
	"agendacal/internal/capture"
	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/scheduler"
	"agendacal/internal/timecodec"
	"agendacal/internal/web"
)

func withRuntime(fn func(c *cli.Context, rt *wiring) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

// parseTime reads a flag as a wire timestamp or date in the configured zone.
func (rt *wiring) parseTime(c *cli.Context, name string) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := timecodec.ParseWire(v, rt.cache.Location())
	if err != nil {
		return t, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

// rangeFlags returns --from/--to, defaulting to the next seven days.
func (rt *wiring) rangeFlags(c *cli.Context) (time.Time, time.Time, error) {
	from, err := rt.parseTime(c, "from")
	if err != nil {
		return from, from, err
	}
	to, err := rt.parseTime(c, "to")
	if err != nil {
		return from, to, err
	}
	if from.IsZero() {
		from = timecodec.StartOfDay(time.Now().In(rt.cache.Location()))
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 7)
	}
	if !to.After(from) {
		return from, to, errors.New("--to must be after --from")
	}
	return from, to, nil
}

var rangeFlagSet = []cli.Flag{
	&cli.StringFlag{Name: "from", Usage: "range start (YYYY-MM-DD or timestamp), default today"},
	&cli.StringFlag{Name: "to", Usage: "range end, exclusive, default from + 7 days"},
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local HTTP API with background cache refresh.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "override listen address", EnvVars: []string{"AGENDACAL_LISTEN"}},
			&cli.BoolFlag{Name: "no-print", Usage: "disable Chromium PDF printing"},
		},
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			if v := c.String("listen"); v != "" {
				rt.cfg.Listen = v
			}
			warmer := &scheduler.Warmer{Cache: rt.cache, Directory: rt.dir, Holidays: rt.hol}
			sched, err := scheduler.New(rt.cfg.RefreshCron, warmer)
			if err != nil {
				return err
			}
			go sched.RunNow(c.Context)
			sched.Start(c.Context)

			deps := web.Deps{
				Controller: rt.ctrl,
				Mini:       rt.mini,
				Cache:      rt.cache,
				Directory:  rt.dir,
				Holidays:   rt.hol,
				Prefs:      rt.prefs,
			}
			if !c.Bool("no-print") {
				deps.Printer = capture.Chromium{}
			}
			appLog.Info("agendacal serving", "version", version, "listen", rt.cfg.Listen, "refresh", rt.cfg.RefreshCron)
			return web.StartServer(c.Context, rt.cfg, deps)
		}),
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List events in a range using the current filters.",
		Flags: append([]cli.Flag{&cli.BoolFlag{Name: "json", Usage: "print JSON"}}, rangeFlagSet...),
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			from, to, err := rt.rangeFlags(c)
			if err != nil {
				return err
			}
			evs, err := rt.ctrl.Events(c.Context, from, to)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, evs)
			}
			return rt.printEvents(c.App.Writer, evs)
		}),
	}
}

func (rt *wiring) printEvents(w io.Writer, evs []model.Event) error {
	loc := rt.cache.Location()
	sort.SliceStable(evs, func(i, j int) bool {
		a, _ := timecodec.ParseWire(evs[i].Start, loc)
		b, _ := timecodec.ParseWire(evs[j].Start, loc)
		return a.Before(b)
	})
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tTITLE\tPRACTITIONER\tNOTES")
	for _, ev := range evs {
		when := ev.Start
		if t, err := timecodec.ParseWire(ev.Start, loc); err == nil {
			when = t.In(loc).Format("2006-01-02 15:04")
			if ev.AllDay {
				when = timecodec.DaySpan(ev.Start, ev.End) + " (all day)"
			}
		}
		who := ""
		if pid := ev.PractitionerID(); pid != nil {
			who = strconv.Itoa(*pid)
			if p, ok := rt.dir.ByID(*pid); ok {
				who = p.Name
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.ID, when, ev.Title, who, oneLine(ev.Notes()))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) > 40 {
		return string([]rune(s)[:39]) + "…"
	}
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func practitionerFlag(c *cli.Context) *int {
	if !c.IsSet("practitioner") {
		return nil
	}
	id := c.Int("practitioner")
	return &id
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an event.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Usage: "end time; for --all-day the last included day"},
			&cli.BoolFlag{Name: "all-day"},
			&cli.StringFlag{Name: "notes"},
			&cli.StringFlag{Name: "color"},
			&cli.IntFlag{Name: "practitioner", Usage: "practitioner id"},
		},
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			start, err := rt.parseTime(c, "start")
			if err != nil {
				return err
			}
			end, err := rt.parseTime(c, "end")
			if err != nil {
				return err
			}
			ev, err := rt.ctrl.Create(c.Context, calendar.Draft{
				Title:          c.String("title"),
				Start:          start,
				End:            end,
				AllDay:         c.Bool("all-day"),
				Notes:          c.String("notes"),
				Color:          c.String("color"),
				PractitionerID: practitionerFlag(c),
			})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, ev)
		}),
	}
}

func moveCommand() *cli.Command {
	return &cli.Command{
		Name:  "move",
		Usage: "Move or resize an event.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true},
			&cli.StringFlag{Name: "start", Required: true},
			&cli.StringFlag{Name: "end", Usage: "new end; omitted makes the event open-ended"},
			&cli.BoolFlag{Name: "all-day"},
		},
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			start, err := rt.parseTime(c, "start")
			if err != nil {
				return err
			}
			end, err := rt.parseTime(c, "end")
			if err != nil {
				return err
			}
			return rt.ctrl.Move(c.Context, calendar.DropInfo{
				EventID: model.EventID(c.String("id")),
				Start:   start,
				End:     end,
				AllDay:  c.Bool("all-day"),
			})
		}),
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an event.",
		ArgsUsage: "ID",
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			if c.NArg() != 1 {
				return errors.New("usage: agendacal delete ID")
			}
			return rt.ctrl.Delete(c.Context, model.EventID(c.Args().First()))
		}),
	}
}

func duplicateCommand() *cli.Command {
	return &cli.Command{
		Name:  "duplicate",
		Usage: "Copy an event by a quick offset (1w, 2w, 3w, 4w, 1m) or an RRULE.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true},
			&cli.StringFlag{Name: "date", Required: true, Usage: "day the source event is on"},
			&cli.StringFlag{Name: "offset"},
			&cli.StringFlag{Name: "rrule", Usage: `e.g. "FREQ=WEEKLY;COUNT=4"`},
		},
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			day, err := rt.parseTime(c, "date")
			if err != nil {
				return err
			}
			// the source has to be cached before it can be copied
			win := rt.cache.PaddedWindow(day)
			if _, err := rt.ctrl.Events(c.Context, win.Start, win.End); err != nil {
				return err
			}
			id := model.EventID(c.String("id"))

			if rule := c.String("rrule"); rule != "" {
				created, err := rt.ctrl.DuplicateSeries(c.Context, id, rule)
				if pErr := printJSON(c.App.Writer, created); pErr != nil {
					return pErr
				}
				return err
			}
			off, ok := calendar.Offsets[c.String("offset")]
			if !ok {
				return fmt.Errorf("unknown offset %q", c.String("offset"))
			}
			ev, err := rt.ctrl.Duplicate(c.Context, id, off)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, ev)
		}),
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Set the search query and report where its results are.",
		ArgsUsage: "QUERY",
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			res, err := rt.ctrl.Search(c.Context, strings.Join(c.Args().Slice(), " "))
			if err != nil {
				return err
			}
			focus := "-"
			if !res.Focus.IsZero() {
				focus = res.Focus.Format(timecodec.DateLayout)
			}
			fmt.Fprintf(c.App.Writer, "%d matches, view %s, first %s\n", res.Count, res.View, focus)
			return nil
		}),
	}
}

func prefsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prefs",
		Usage: "Show or change stored preferences.",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print every stored preference.",
				Action: withRuntime(func(c *cli.Context, rt *wiring) error {
					return printJSON(c.App.Writer, rt.prefs.Export())
				}),
			},
			{
				Name:      "set",
				Usage:     "Set one preference: practitioners, unassigned, theme, compact, duration or weekends.",
				ArgsUsage: "NAME VALUE",
				Action: withRuntime(func(c *cli.Context, rt *wiring) error {
					if c.NArg() != 2 {
						return errors.New("usage: agendacal prefs set NAME VALUE")
					}
					return rt.setPreference(c.Args().Get(0), c.Args().Get(1))
				}),
			},
		},
	}
}

func (rt *wiring) setPreference(name, value string) error {
	switch name {
	case "practitioners":
		ids := []int{}
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return fmt.Errorf("practitioner id %q: %w", part, err)
			}
			ids = append(ids, id)
		}
		return rt.ctrl.SetSelectedPractitioners(ids)
	case "unassigned":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		return rt.ctrl.SetIncludeUnassigned(v)
	case "theme":
		return rt.prefs.SetTheme(value)
	case "compact":
		return rt.prefs.SetCompactOverride(value)
	case "duration":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		return rt.prefs.SetDefaultDurationMinutes(n)
	case "weekends":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		return rt.prefs.SetWeekends(v)
	default:
		return fmt.Errorf("unknown preference %q", name)
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the events of a range as an iCalendar file.",
		Flags: append([]cli.Flag{&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, default stdout"}}, rangeFlagSet...),
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			from, to, err := rt.rangeFlags(c)
			if err != nil {
				return err
			}
			evs, err := rt.ctrl.Events(c.Context, from, to)
			if err != nil {
				return err
			}
			if _, err := rt.dir.List(c.Context); err != nil {
				appLog.Warn("practitioner names unavailable", "err", err)
			}

			w := c.App.Writer
			if out := c.String("out"); out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return ics.Export(w, evs, ics.ExportOptions{
				Name:     "Agenda",
				Location: rt.cache.Location(),
				PractitionerName: func(id int) (string, bool) {
					p, ok := rt.dir.ByID(id)
					return p.Name, ok
				},
			})
		}),
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create events from an iCalendar file or URL.",
		ArgsUsage: "PATH|URL",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "list what would be created"},
			&cli.IntFlag{Name: "practitioner", Usage: "assign imported events to this practitioner"},
		}, rangeFlagSet...),
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			if c.NArg() != 1 {
				return errors.New("usage: agendacal import PATH|URL")
			}
			from, to, err := rt.rangeFlags(c)
			if err != nil {
				return err
			}
			loader := ics.NewLoader(rt.cfg.ICSCacheDir, rt.cfg.RequestTimeout())
			body, cached, err := loader.Load(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if cached {
				fmt.Fprintln(os.Stderr, "source unchanged or unreachable, using cached copy")
			}
			items, err := ics.Import(body, ics.ImportOptions{
				Location:    rt.cache.Location(),
				WindowStart: from,
				WindowEnd:   to,
			})
			if err != nil {
				return err
			}

			pid := practitionerFlag(c)
			created := 0
			for _, it := range items {
				d := calendar.Draft{
					Title:          it.Title,
					Start:          it.Start,
					End:            it.End,
					AllDay:         it.AllDay,
					Notes:          it.Notes,
					Color:          it.Color,
					PractitionerID: pid,
				}
				if it.AllDay && !it.End.IsZero() {
					// drafts carry the last included day
					d.End = it.End.AddDate(0, 0, -1)
				}
				if c.Bool("dry-run") {
					fmt.Fprintf(c.App.Writer, "%s  %s\n", it.Start.Format("2006-01-02 15:04"), it.Title)
					continue
				}
				if _, err := rt.ctrl.Create(c.Context, d); err != nil {
					return fmt.Errorf("import stopped after %d events: %w", created, err)
				}
				created++
			}
			if !c.Bool("dry-run") {
				fmt.Fprintf(c.App.Writer, "%d events imported\n", created)
			}
			return nil
		}),
	}
}

func printCommand() *cli.Command {
	return &cli.Command{
		Name:  "print",
		Usage: "Print a day sheet to PDF with headless Chromium. Needs a running `agendacal serve`.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "day to print, default today"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true},
			&cli.BoolFlag{Name: "landscape"},
		},
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			day, err := rt.parseTime(c, "date")
			if err != nil {
				return err
			}
			if day.IsZero() {
				day = time.Now().In(rt.cache.Location())
			}
			opts := capture.PDFOptions{
				URL:       rt.cfg.PrintPageURL(day.Format(timecodec.DateLayout)),
				Landscape: c.Bool("landscape"),
				Timeout:   time.Duration(rt.cfg.Print.TimeoutSeconds) * time.Second,
			}
			return capture.WriteFile(c.Context, capture.Chromium{}, opts, c.String("out"))
		}),
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Clear local and server caches, then reload.",
		Action: withRuntime(func(c *cli.Context, rt *wiring) error {
			if !rt.ctrl.HardRefresh(c.Context) {
				return errors.New("server cache could not be cleared")
			}
			return nil
		}),
	}
}
