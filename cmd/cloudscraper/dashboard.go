package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rorqualx/cloudscraper-go/internal/config"
	"github.com/Rorqualx/cloudscraper-go/internal/scraper"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// runDashboard fetches the URLs while rendering live scraper telemetry.
// It returns once the user quits or the context is cancelled.
func runDashboard(ctx context.Context, s *scraper.Scraper, cfg *config.Config, urls []string, method string, headers map[string]string, body []byte) error {
	m := newDashboard(ctx, s, cfg, urls, method, headers, body)
	p := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}

// fetchResult is the terminal state of one URL.
type fetchResult struct {
	status  int
	bytes   int
	elapsed time.Duration
	err     error
	done    bool
}

type tickMsg time.Time

type fetchDoneMsg struct {
	index   int
	status  int
	bytes   int
	elapsed time.Duration
	err     error
}

// dashboard is the bubbletea model: a fetch queue plus rolling snapshot
// views refreshed on every tick.
type dashboard struct {
	ctx     context.Context
	scraper *scraper.Scraper
	urls    []string
	method  string
	headers map[string]string
	body    []byte

	interval time.Duration
	results  []fetchResult
	finished int
	width    int
}

func newDashboard(ctx context.Context, s *scraper.Scraper, cfg *config.Config, urls []string, method string, headers map[string]string, body []byte) dashboard {
	return dashboard{
		ctx:      ctx,
		scraper:  s,
		urls:     urls,
		method:   method,
		headers:  headers,
		body:     body,
		interval: cfg.PollInterval,
		results:  make([]fetchResult, len(urls)),
		width:    100,
	}
}

func (d dashboard) Init() tea.Cmd {
	cmds := []tea.Cmd{d.tick()}
	for i := range d.urls {
		cmds = append(cmds, d.fetch(i))
	}
	return tea.Batch(cmds...)
}

func (d dashboard) tick() tea.Cmd {
	return tea.Tick(d.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetch runs one URL through the scraper off the UI loop.
func (d dashboard) fetch(i int) tea.Cmd {
	return func() tea.Msg {
		started := time.Now()
		resp, err := d.scraper.Do(d.ctx, d.method, d.urls[i], d.headers, d.body)
		msg := fetchDoneMsg{index: i, elapsed: time.Since(started), err: err}
		if resp != nil {
			msg.status = resp.StatusCode
			msg.bytes = len(resp.Body)
		}
		return msg
	}
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width

	case tickMsg:
		// State is re-read from the scraper on render; the tick only
		// forces the redraw.
		return d, d.tick()

	case fetchDoneMsg:
		d.results[msg.index] = fetchResult{
			status:  msg.status,
			bytes:   msg.bytes,
			elapsed: msg.elapsed,
			err:     msg.err,
			done:    true,
		}
		d.finished++
	}
	return d, nil
}

func (d dashboard) View() string {
	var sections []string

	title := titleStyle.Render(fmt.Sprintf("cloudscraper watch (%d/%d fetches complete)", d.finished, len(d.urls)))
	sections = append(sections, title)

	sections = append(sections, boxStyle.Render(d.fetchView()))
	sections = append(sections, boxStyle.Render(d.metricsView()))

	if domains := d.domainsView(); domains != "" {
		sections = append(sections, boxStyle.Render(domains))
	}
	if proxies := d.proxyView(); proxies != "" {
		sections = append(sections, boxStyle.Render(proxies))
	}
	if detections := d.detectionView(); detections != "" {
		sections = append(sections, boxStyle.Render(detections))
	}
	if alerts := d.alertsView(); alerts != "" {
		sections = append(sections, boxStyle.Render(alerts))
	}

	sections = append(sections, dimStyle.Render("q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (d dashboard) fetchView() string {
	lines := []string{headingStyle.Render("Fetches")}
	for i, raw := range d.urls {
		r := d.results[i]
		switch {
		case !r.done:
			lines = append(lines, fmt.Sprintf("%s %s", dimStyle.Render("…"), truncate(raw, d.width-10)))
		case r.err != nil:
			lines = append(lines, fmt.Sprintf("%s %s  %s",
				failStyle.Render("✗"), truncate(raw, d.width-40), failStyle.Render(truncate(r.err.Error(), 60))))
		default:
			lines = append(lines, fmt.Sprintf("%s %s  %d  %s  %s",
				okStyle.Render("✓"), truncate(raw, d.width-40), r.status,
				formatBytes(r.bytes), r.elapsed.Round(time.Millisecond)))
		}
	}
	return strings.Join(lines, "\n")
}

func (d dashboard) metricsView() string {
	snap, ok := d.scraper.Metrics()
	if !ok {
		return headingStyle.Render("Metrics") + "\n" + dimStyle.Render("collector disabled")
	}
	g := snap.Global
	successRate := 0.0
	if g.TotalRequests > 0 {
		successRate = float64(g.Successes) / float64(g.TotalRequests) * 100
	}
	lines := []string{
		headingStyle.Render("Metrics"),
		fmt.Sprintf("requests %d   ok %d   failed %d   success %.1f%%",
			g.TotalRequests, g.Successes, g.Failures, successRate),
		fmt.Sprintf("latency avg %s   p95 %s   clients %d",
			g.AverageLatency.Round(time.Millisecond),
			g.P95Latency.Round(time.Millisecond),
			d.scraper.ClientCount()),
	}
	return strings.Join(lines, "\n")
}

func (d dashboard) domainsView() string {
	snap, ok := d.scraper.Metrics()
	if !ok || len(snap.Domains) == 0 {
		return ""
	}
	lines := []string{headingStyle.Render("Domains")}
	for _, ds := range snap.Domains {
		status := fmt.Sprintf("last %d", ds.LastStatus)
		if ds.ConsecutiveFailures > 0 {
			status = failStyle.Render(fmt.Sprintf("%s  %d consecutive failures", status, ds.ConsecutiveFailures))
		}
		lines = append(lines, fmt.Sprintf("%-30s req %-4d avg %-8s %s",
			truncate(ds.Domain, 30), ds.TotalRequests,
			ds.AverageLatency.Round(time.Millisecond), status))
	}
	return strings.Join(lines, "\n")
}

func (d dashboard) proxyView() string {
	report, ok := d.scraper.ProxyHealth()
	if !ok {
		return ""
	}
	lines := []string{
		headingStyle.Render("Proxies"),
		fmt.Sprintf("total %d   available %s   banned %s",
			report.Total,
			okStyle.Render(fmt.Sprintf("%d", report.Available)),
			failStyle.Render(fmt.Sprintf("%d", report.Banned))),
	}
	return strings.Join(lines, "\n")
}

func (d dashboard) detectionView() string {
	history := d.scraper.DetectionHistory()
	if len(history) == 0 {
		return ""
	}
	lines := []string{headingStyle.Render("Detections")}
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	for _, rec := range history[start:] {
		lines = append(lines, fmt.Sprintf("%s  %-18s %.2f  %s",
			rec.Timestamp.Format("15:04:05"), rec.PatternID, rec.Confidence,
			truncate(rec.URL, d.width-46)))
	}
	return strings.Join(lines, "\n")
}

func (d dashboard) alertsView() string {
	report := d.scraper.PerformanceReport()
	if report == nil || (len(report.SlowDomains) == 0 && len(report.ErrorDomains) == 0) {
		return ""
	}
	lines := []string{headingStyle.Render("Alerts")}
	for _, slow := range report.SlowDomains {
		lines = append(lines, failStyle.Render(fmt.Sprintf("%s slow: avg %s",
			slow.Domain, slow.Latency.Round(time.Millisecond))))
	}
	for _, errs := range report.ErrorDomains {
		lines = append(lines, failStyle.Render(fmt.Sprintf("%s error rate %.0f%%",
			errs.Domain, errs.Rate*100)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
