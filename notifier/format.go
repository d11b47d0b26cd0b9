package notifier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
)

// Messages are rendered for Telegram's legacy Markdown parse mode.

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escape(text string) string {
	return markdownEscaper.Replace(text)
}

type courseGroup struct {
	code     string
	name     string
	sections []sectionsense.Section
}

// groupByCourse buckets sections by course code, ordered by code
func groupByCourse(sections []sectionsense.Section) []courseGroup {
	sorted := make([]sectionsense.Section, len(sections))
	copy(sorted, sections)
	sectionsense.SortSections(sorted)

	index := make(map[string]int)
	var groups []courseGroup
	for _, section := range sorted {
		code := section.CourseCode
		if code == "" {
			code = section.CourseID
		}

		i, ok := index[code]
		if !ok {
			i = len(groups)
			index[code] = i
			groups = append(groups, courseGroup{code: code, name: section.CourseName})
		}
		if groups[i].name == "" {
			groups[i].name = section.CourseName
		}
		groups[i].sections = append(groups[i].sections, section)
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].code < groups[j].code })
	return groups
}

func writeGroups(b *strings.Builder, sections []sectionsense.Section) {
	for _, group := range groupByCourse(sections) {
		fmt.Fprintf(b, "📚 *%s*", escape(group.code))
		if group.name != "" {
			fmt.Fprintf(b, " - %s", escape(group.name))
		}
		b.WriteString("\n")
		for _, section := range group.sections {
			fmt.Fprintf(b, "   • Section %s (ID: %s) - %s\n", escape(section.SectionNumber), escape(section.SectionID), escape(section.Instructor))
		}
		b.WriteString("\n")
	}
}

// FormatAdded announces sections that just became available
func FormatAdded(sections []sectionsense.Section) string {
	var b strings.Builder
	b.WriteString("🆕 *New sections available!*\n\n")
	writeGroups(&b, sections)
	return b.String()
}

// FormatRemoved announces sections that are no longer offered, usually because they filled up
func FormatRemoved(sections []sectionsense.Section) string {
	var b strings.Builder
	b.WriteString("❌ *Sections no longer available (full):*\n\n")
	writeGroups(&b, sections)
	return b.String()
}

// FormatSections lists a whole snapshot
func FormatSections(snapshot sectionsense.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Available sections (%d):*\n\n", len(snapshot))
	if len(snapshot) == 0 {
		b.WriteString("No sections are open right now.\n")
		return b.String()
	}
	writeGroups(&b, snapshot.Sections())
	return b.String()
}

// FormatStats summarises an account, the password is never part of it
func FormatStats(account sectionsense.Account) string {
	lastCheck := "never"
	if !account.LastCheck.IsZero() {
		lastCheck = account.LastCheck.Format("2006-01-02 15:04")
	}

	var b strings.Builder
	b.WriteString("📈 *Your statistics:*\n\n")
	fmt.Fprintf(&b, "👤 User: `%s`\n", account.Username)
	fmt.Fprintf(&b, "📊 Available sections: %d\n\n", len(account.Sections))
	fmt.Fprintf(&b, "⏰ Checking every: %d minutes\n", int(account.Interval()/time.Minute))
	fmt.Fprintf(&b, "🕐 Last check: %s\n", lastCheck)
	fmt.Fprintf(&b, "🔄 Total checks: %d\n\n", account.TotalChecks)
	fmt.Fprintf(&b, "🆕 New sections found: %d\n", account.TotalGained)
	fmt.Fprintf(&b, "❌ Sections filled: %d\n", account.TotalLost)
	return b.String()
}

// FormatFailure tells the owner a periodic check did not complete
func FormatFailure(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *Check failed:*\n`%s`\n", FailureReason(err))
	if sectionsense.IsAuth(err) {
		b.WriteString("\nThe portal rejected your login. Register again with your current credentials.\n")
	}
	return b.String()
}

// FailureReason is a short, user facing description of err
func FailureReason(err error) string {
	var (
		timeoutErr  *sectionsense.TimeoutError
		networkErr  *sectionsense.NetworkError
		protocolErr *sectionsense.ProtocolError
		authErr     *sectionsense.AuthError
	)

	switch {
	case errors.As(err, &authErr):
		return "Login failed - check credentials"
	case errors.As(err, &timeoutErr):
		return "Connection timeout"
	case errors.As(err, &networkErr):
		return "Could not reach the portal"
	case errors.As(err, &protocolErr):
		return fmt.Sprintf("Unexpected portal response (%s)", protocolErr.Step)
	default:
		return "Unexpected error"
	}
}
