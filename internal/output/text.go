package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/agent"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

const boxWidth = 72

// TextRenderer produces Lip Gloss styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + " " + value
}

func (r *TextRenderer) RenderResults(results []*executor.MigrationResult) {
	if len(results) == 0 {
		fmt.Fprintln(r.w, MutedText.Render("No migrations to run."))
		return
	}

	applied, skipped := 0, 0
	for _, res := range results {
		switch res.Outcome {
		case executor.OutcomeSuccess:
			applied++
			fmt.Fprintf(r.w, "%s %s %s\n", SafeText.Render(IconSafe), res.Migration.Filename,
				MutedText.Render(fmt.Sprintf("(%d statement(s), %s)", res.StatementsExecuted, res.Duration.Round(time.Millisecond))))
			r.renderVerification(res)
		case executor.OutcomeSkipped:
			skipped++
			fmt.Fprintf(r.w, "%s %s %s\n", MutedText.Render(IconSkip), res.Migration.Filename, MutedText.Render("(already executed)"))
		default:
			r.renderFailure(res)
		}
		for _, a := range res.RollbackInfo.Irreversible {
			fmt.Fprintf(r.w, "  %s %s\n", WarningText.Render(IconWarning), MutedText.Render("no rollback: "+a.Reason))
		}
	}

	summary := fmt.Sprintf("%d applied, %d skipped", applied, skipped)
	if failed := len(results) - applied - skipped; failed > 0 {
		summary += fmt.Sprintf(", %d failed", failed)
		fmt.Fprintln(r.w, DangerText.Render(summary))
		return
	}
	fmt.Fprintln(r.w, SafeText.Render(summary))
}

func (r *TextRenderer) renderVerification(res *executor.MigrationResult) {
	tables := make([]string, 0, len(res.Verification))
	for t := range res.Verification {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		state := res.Verification[t]
		style := MutedText
		if state == executor.TableMissing {
			style = WarningText
		}
		fmt.Fprintf(r.w, "  %s %s\n", t, style.Render(state))
	}
}

func (r *TextRenderer) renderFailure(res *executor.MigrationResult) {
	lines := []string{
		DangerText.Render(IconDanger + " " + res.Migration.Filename),
		r.labelValue("Error:", res.Error),
	}
	if res.FailedStatement != "" {
		lines = append(lines, r.labelValue("Statement:", CodeStyle.Render(truncate(res.FailedStatement, 200))))
	}
	if res.FallbackPath != "" {
		lines = append(lines, r.labelValue("Manual script:", res.FallbackPath))
	}
	fmt.Fprintln(r.w, DangerBoxStyle.Width(boxWidth).Render(strings.Join(lines, "\n")))
}

func (r *TextRenderer) RenderStatus(status *executor.Status) {
	lines := []string{
		TitleStyle.Render("Migration status"),
		r.labelValue("Executed:", fmt.Sprintf("%d", len(status.Executed))),
		r.labelValue("Pending:", fmt.Sprintf("%d", len(status.Pending))),
	}
	if len(status.Orphaned) > 0 {
		lines = append(lines, r.labelValue("Orphaned:", WarningText.Render(fmt.Sprintf("%d", len(status.Orphaned)))))
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(strings.Join(lines, "\n")))

	for _, rec := range status.Executed {
		rollback := MutedText.Render("no rollback")
		if rec.HasRollback() {
			rollback = SafeText.Render("rollback available")
		}
		fmt.Fprintf(r.w, "%s %s  %s  %s\n", SafeText.Render(IconSafe), rec.Filename,
			MutedText.Render(rec.ExecutedAt.Local().Format("2006-01-02 15:04:05")), rollback)
	}
	for _, m := range status.Pending {
		fmt.Fprintf(r.w, "%s %s  %s\n", WarningText.Render("○"), m.Filename, MutedText.Render("pending"))
	}
	for _, rec := range status.Orphaned {
		fmt.Fprintf(r.w, "%s %s  %s\n", WarningText.Render(IconWarning), rec.Filename, MutedText.Render("recorded but no file found"))
	}
}

func (r *TextRenderer) RenderRollback(result *executor.RollbackResult) {
	style, icon := SafeText, IconSafe
	if !result.Success {
		style, icon = DangerText, IconDanger
	}
	fmt.Fprintf(r.w, "%s %s: %s\n", style.Render(icon), result.Filename, result.Message)
}

func (r *TextRenderer) RenderDebug(report *executor.DebugReport) {
	header := []string{
		TitleStyle.Render("Statement analysis"),
		r.labelValue("File:", report.Migration.Path),
		r.labelValue("Statements:", fmt.Sprintf("%d", len(report.Statements))),
	}
	switch {
	case report.ServerError != "":
		header = append(header, r.labelValue("Server parse:", DangerText.Render(report.ServerError)))
	case report.Mismatch():
		header = append(header, r.labelValue("Server parse:", WarningText.Render(fmt.Sprintf("%d statement(s), splitter disagrees", report.ServerCount))))
	default:
		header = append(header, r.labelValue("Server parse:", SafeText.Render("matches")))
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(strings.Join(header, "\n")))

	for _, s := range report.Statements {
		fmt.Fprintf(r.w, "%s %s\n", TitleStyle.Render(fmt.Sprintf("#%d", s.Index+1)),
			MutedText.Render(fmt.Sprintf("line %d, %s", s.Line, s.Kind)))
		fmt.Fprintln(r.w, CodeStyle.Render(truncate(s.SQL, 400)))
		if s.LintError != "" {
			fmt.Fprintf(r.w, "%s %s\n", DangerText.Render(IconDanger), s.LintError)
		}
	}

	r.renderIssues(report.Validation.Issues)
	if report.RollbackSQL != "" {
		fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(TitleStyle.Render("Rollback")+"\n"+CodeStyle.Render(strings.TrimSpace(report.RollbackSQL))))
	}
	for _, a := range report.Rollback {
		if !a.Reversible {
			fmt.Fprintf(r.w, "%s %s\n", WarningText.Render(IconWarning), MutedText.Render(fmt.Sprintf("%s: %s", a.Kind, a.Reason)))
		}
	}
}

func (r *TextRenderer) renderIssues(issues []string) {
	if len(issues) == 0 {
		fmt.Fprintln(r.w, SafeText.Render(IconSafe+" idempotent"))
		return
	}
	lines := []string{WarningText.Render(IconWarning + " Idempotency issues")}
	lines = append(lines, issues...)
	fmt.Fprintln(r.w, WarningBoxStyle.Width(boxWidth).Render(strings.Join(lines, "\n")))
}

func (r *TextRenderer) RenderSchema(report *executor.SchemaReport) {
	status := SafeText.Render(IconSafe + " schema matches")
	if !report.Valid {
		status = DangerText.Render(IconDanger + " schema differs")
	}
	lines := []string{
		status,
		r.labelValue("Method:", report.Method),
		r.labelValue("Missing:", joinOrNone(report.Missing)),
		r.labelValue("Extra:", joinOrNone(report.Extra)),
	}
	style := BoxStyle
	if !report.Valid {
		style = DangerBoxStyle
	}
	fmt.Fprintln(r.w, style.Width(boxWidth).Render(strings.Join(lines, "\n")))
}

func (r *TextRenderer) RenderSnapshot(s *statecache.Snapshot) {
	lines := []string{
		TitleStyle.Render("System state"),
		r.labelValue("Captured:", s.Timestamp.Local().Format("2006-01-02 15:04:05")),
		r.labelValue("Fingerprint:", truncate(s.Fingerprint, 16)),
		r.labelValue("Tables:", fmt.Sprintf("%d", len(s.Database.Tables))),
		r.labelValue("Indexes:", fmt.Sprintf("%d", len(s.Database.Indexes))),
		r.labelValue("Policies:", fmt.Sprintf("%d", len(s.Database.Policies))),
		r.labelValue("Migrations:", fmt.Sprintf("%d", len(s.Database.MigrationsExecuted))),
		r.labelValue("API routes:", fmt.Sprintf("%d", len(s.API.Routes))),
		r.labelValue("Components:", fmt.Sprintf("%d", len(s.Components.Components))),
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(strings.Join(lines, "\n")))

	names := make([]string, 0, len(s.Features))
	for name := range s.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := s.Features[name]
		if f.Implemented {
			fmt.Fprintf(r.w, "%s %s\n", SafeText.Render(IconSafe), name)
		} else {
			fmt.Fprintf(r.w, "%s %s %s\n", WarningText.Render("○"), name, MutedText.Render("not implemented"))
		}
	}
}

func (r *TextRenderer) RenderValidation(results []FileValidation) {
	for _, v := range results {
		fmt.Fprintf(r.w, "%s %s\n", TitleStyle.Render(v.Path), MutedText.Render(fmt.Sprintf("(%d statement(s))", v.Statements)))
		if v.Fixed {
			fmt.Fprintf(r.w, "  %s rewritten, original saved to %s\n", SafeText.Render(IconSafe), v.BackupPath)
		}
		if v.Executed {
			fmt.Fprintf(r.w, "  %s %s\n", WarningText.Render(IconWarning), MutedText.Render("already executed; edits are not applied again"))
		}
		r.renderIssues(v.Validation.Issues)
		if v.Impact != nil && v.Impact.RequiresIdempotencyReview() {
			fmt.Fprintf(r.w, "%s touches existing tables: %s\n", WarningText.Render(IconWarning), strings.Join(v.Impact.TablesModified, ", "))
		}
	}
}

func (r *TextRenderer) RenderAddTable(result *agent.AddTableResult) {
	if result.Skipped {
		fmt.Fprintf(r.w, "%s %s: %s\n", MutedText.Render(IconSkip), result.Table, result.Reason)
		return
	}
	lines := []string{TitleStyle.Render("New table " + result.Table)}
	if result.Path != "" {
		lines = append(lines, r.labelValue("Migration:", result.Path))
	}
	if result.Impact != nil {
		lines = append(lines,
			r.labelValue("Creates:", joinOrNone(result.Impact.TablesCreated)),
			r.labelValue("Indexes:", joinOrNone(result.Impact.IndexesCreated)),
			r.labelValue("Policies:", joinOrNone(result.Impact.PoliciesCreated)),
		)
		if len(result.Impact.TablesModified) > 0 {
			lines = append(lines, r.labelValue("Modifies:", WarningText.Render(strings.Join(result.Impact.TablesModified, ", "))))
		}
	}
	fmt.Fprintln(r.w, BoxStyle.Width(boxWidth).Render(strings.Join(lines, "\n")))
	r.renderIssues(result.Validation.Issues)

	if result.Path == "" {
		fmt.Fprintln(r.w, CodeStyle.Render(result.SQL))
	}
	if result.Execution != nil {
		r.RenderResults([]*executor.MigrationResult{result.Execution})
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return MutedText.Render("none")
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
