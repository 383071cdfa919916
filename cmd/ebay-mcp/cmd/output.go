package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/donaldgifford/ebay-mcp/internal/ebay"
	"github.com/donaldgifford/ebay-mcp/internal/status"
	"github.com/donaldgifford/ebay-mcp/internal/store"
)

const timeFormat = "2006-01-02 15:04:05"

// tabWriter wraps tabwriter with error tracking.
type tabWriter struct {
	*tabwriter.Writer
	err error
}

func newTabWriter(w io.Writer) *tabWriter {
	return &tabWriter{Writer: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
}

func (tw *tabWriter) writef(format string, args ...any) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.Writer, format, args...)
}

func (tw *tabWriter) finish() error {
	if tw.err != nil {
		return tw.err
	}
	return tw.Flush()
}

func printConsentStatus(st *ebay.ConsentStatus) error {
	tw := newTabWriter(os.Stdout)
	tw.writef("Consented:\t%v\n", st.Consented)
	tw.writef("Flow:\t%s\n", st.Flow)
	if st.ExpiresAt != nil {
		tw.writef("Token Expires:\t%s\n", st.ExpiresAt.Local().Format(timeFormat))
	}
	if st.RefreshExpiresAt != nil {
		tw.writef("Refresh Expires:\t%s\n", st.RefreshExpiresAt.Local().Format(timeFormat))
	}
	for _, s := range st.MissingScopes {
		tw.writef("Missing:\t%s\n", s)
	}
	return tw.finish()
}

func printStatus(rep *status.Report) error {
	tw := newTabWriter(os.Stdout)
	tw.writef("Environment:\t%s\n", rep.Environment)
	tw.writef("Marketplace:\t%s\n", rep.Marketplace)
	tw.writef("Credentials:\t%s\n", yesNo(rep.Tokens.Configured))

	rl := rep.RateLimit
	if rl.DailyLimit > 0 {
		tw.writef("Daily Calls:\t%d/%d (resets %s)\n", rl.Used, rl.DailyLimit, rl.ResetAt.Local().Format(timeFormat))
	} else {
		tw.writef("Daily Calls:\tunlimited\n")
	}
	tw.writef("Rate:\t%g/s burst %d\n", rl.PerSecond, rl.Burst)
	tw.writef("Pending Consents:\t%d\n", rep.PendingConsents)
	if c := rep.Cache; c != nil {
		tw.writef("Cache:\t%d entries, %.0f%% hits, remote %s\n",
			c.MemoryEntries, c.HitRate*100, yesNo(c.RemoteEnabled))
	}
	if err := tw.finish(); err != nil {
		return err
	}

	if len(rep.Circuits) > 0 {
		fmt.Println()
		tw = newTabWriter(os.Stdout)
		tw.writef("ENDPOINT\tSTATE\tFAILURES\tOPENED\n")
		for _, c := range rep.Circuits {
			tw.writef("%s\t%s\t%d\t%s\n", c.EndpointKey, c.State, c.FailureCount, formatOpened(c.OpenedAt))
		}
		if err := tw.finish(); err != nil {
			return err
		}
	}

	if len(rep.Tokens.Cached) > 0 {
		fmt.Println()
		tw = newTabWriter(os.Stdout)
		tw.writef("TOKEN\tSCOPES\tEXPIRES\n")
		for _, t := range rep.Tokens.Cached {
			tw.writef("%s\t%d\t%s\n", t.Type, len(t.Scopes), formatTime(t.ExpiresAt))
		}
		return tw.finish()
	}
	return nil
}

func printCacheTable(entries []store.CacheEntryInfo) error {
	tw := newTabWriter(os.Stdout)
	tw.writef("KEY\tSIZE\tCREATED\tEXPIRES\n")
	for i := range entries {
		e := &entries[i]
		expires := e.ExpiresAt.Local().Format(timeFormat)
		if e.Expired {
			expires += " (expired)"
		}
		tw.writef("%s\t%d\t%s\t%s\n",
			truncate(e.Key, 60),
			e.Size,
			e.CreatedAt.Local().Format(timeFormat),
			expires,
		)
	}
	return tw.finish()
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func formatOpened(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
