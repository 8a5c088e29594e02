package web

import (
	"bytes"
	"html/template"
	"net/http"
	"sort"
	"time"

	"agendacal/internal/capture"
	"agendacal/internal/ics"
	appLog "agendacal/internal/log"
	"agendacal/internal/model"
	"agendacal/internal/timecodec"
)

// GET /calendar.ics?start=...&end=...
//
// Without a range the feed covers the padded window around today, or
// ?months=N months from today.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if r.URL.Query().Get("start") != "" {
		var err error
		if start, end, err = s.parseRange(r); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		now := time.Now().In(s.loc)
		win := s.deps.Cache.PaddedWindow(now)
		start, end = win.Start, win.End
		if months := parseIntDefault(r.URL.Query().Get("months"), 0); months > 0 {
			start = timecodec.StartOfDay(now)
			end = start.AddDate(0, months, 0)
		}
	}

	evs, err := s.deps.Controller.Events(r.Context(), start, end)
	if err != nil {
		writeFailure(w, err)
		return
	}

	var buf bytes.Buffer
	err = ics.Export(&buf, evs, ics.ExportOptions{
		Name:             "Agenda",
		Location:         s.loc,
		PractitionerName: s.practitionerName,
	})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="agenda.ics"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) practitionerName(id int) (string, bool) {
	if s.deps.Directory == nil {
		return "", false
	}
	p, ok := s.deps.Directory.ByID(id)
	return p.Name, ok
}

type printRow struct {
	Time         string
	Days         string
	Title        string
	Practitioner string
	Notes        string
	Color        string
}

type printPage struct {
	Date    string
	Holiday string
	AllDay  []printRow
	Timed   []printRow
}

var printTmpl = template.Must(template.New("print").Parse(`<!doctype html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Agenda {{.Date}}</title>
<style>
@page { size: A4; margin: 12mm; }
body { font-family: sans-serif; font-size: 11pt; }
table { width: 100%; border-collapse: collapse; }
td, th { border-bottom: 1px solid #ccc; padding: 4px 6px; text-align: left; vertical-align: top; }
.swatch { display: inline-block; width: 10px; height: 10px; margin-right: 4px; }
.holiday { color: #b91c1c; }
</style>
</head>
<body>
<div data-ready="true">
<h1>{{.Date}}</h1>
{{if .Holiday}}<p class="holiday">{{.Holiday}}</p>{{end}}
{{if .AllDay}}<h2>Dia inteiro</h2>
<ul>{{range .AllDay}}<li><span class="swatch" style="background: {{.Color}}"></span>{{.Title}}{{if .Practitioner}} ({{.Practitioner}}){{end}}{{if .Days}} <small>{{.Days}}</small>{{end}}</li>{{end}}</ul>{{end}}
<table>
<thead><tr><th>Hora</th><th>Paciente</th><th>Profissional</th><th>Observações</th></tr></thead>
<tbody>
{{range .Timed}}<tr><td>{{.Time}}</td><td><span class="swatch" style="background: {{.Color}}"></span>{{.Title}}</td><td>{{.Practitioner}}</td><td>{{.Notes}}</td></tr>
{{else}}<tr><td colspan="4">Nenhum agendamento.</td></tr>
{{end}}</tbody>
</table>
</div>
</body>
</html>
`))

// GET /print?date=YYYY-MM-DD renders a printable day sheet. Defaults to today.
func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	day, err := s.printDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.buildPrintPage(r, day)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var buf bytes.Buffer
	if err := printTmpl.Execute(&buf, page); err != nil {
		appLog.Error("print template failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) printDate(r *http.Request) (time.Time, error) {
	if r.URL.Query().Get("date") == "" {
		return timecodec.StartOfDay(time.Now().In(s.loc)), nil
	}
	t, err := s.parseTimeParam(r, "date")
	if err != nil {
		return t, err
	}
	return timecodec.StartOfDay(t.In(s.loc)), nil
}

func (s *Server) buildPrintPage(r *http.Request, day time.Time) (printPage, error) {
	evs, err := s.deps.Controller.Events(r.Context(), day, day.AddDate(0, 0, 1))
	if err != nil {
		return printPage{}, err
	}
	type timed struct {
		at  time.Time
		row printRow
	}
	var rows []timed
	page := printPage{Date: day.Format(timecodec.DateLayout)}
	if s.deps.Holidays != nil {
		s.deps.Holidays.EnsureYear(r.Context(), day.Year())
		if h, ok := s.deps.Holidays.Lookup(page.Date); ok {
			page.Holiday = h.Name
		}
	}
	for _, ev := range evs {
		row := s.rowFor(ev)
		if ev.AllDay {
			if span := timecodec.DaySpan(ev.Start, ev.End); span != page.Date {
				row.Days = span
			}
			page.AllDay = append(page.AllDay, row)
			continue
		}
		at, err := timecodec.ParseWire(ev.Start, s.loc)
		if err != nil {
			continue
		}
		row.Time = at.In(s.loc).Format("15:04")
		rows = append(rows, timed{at: at, row: row})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })
	for _, t := range rows {
		page.Timed = append(page.Timed, t.row)
	}
	return page, nil
}

func (s *Server) rowFor(ev model.Event) printRow {
	row := printRow{Title: ev.Title, Notes: ev.Notes(), Color: ev.Color}
	if pid := ev.PractitionerID(); pid != nil {
		if name, ok := s.practitionerName(*pid); ok {
			row.Practitioner = name
		}
	}
	if row.Color == "" {
		row.Color = "#9ca3af"
	}
	return row
}

// GET /print.pdf?date=YYYY-MM-DD prints the day sheet through Chromium.
func (s *Server) handlePrintPDF(w http.ResponseWriter, r *http.Request) {
	if s.deps.Printer == nil {
		writeError(w, http.StatusServiceUnavailable, "printing not configured")
		return
	}
	day, err := s.printDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date := day.Format(timecodec.DateLayout)

	s.pdfMu.RLock()
	entry, ok := s.pdfCache[date]
	s.pdfMu.RUnlock()
	if !ok || time.Since(entry.updatedAt) >= pdfCacheTTL {
		pdf, err := s.deps.Printer.PrintPDF(r.Context(), capture.PDFOptions{
			URL:     s.cfg.PrintPageURL(date),
			Timeout: time.Duration(s.cfg.Print.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			appLog.Error("print pdf failed", err, "date", date)
			writeError(w, http.StatusBadGateway, "failed to print")
			return
		}
		entry = pdfEntry{body: pdf, updatedAt: time.Now()}
		s.pdfMu.Lock()
		s.pdfCache[date] = entry
		s.pdfMu.Unlock()
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="agenda-`+date+`.pdf"`)
	_, _ = w.Write(entry.body)
}
