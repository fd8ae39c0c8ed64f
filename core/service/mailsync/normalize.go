// Package mailsync implements folder normalization, the per-account sync
// orchestrator and the incremental scheduler.
package mailsync

import (
	"sort"
	"strings"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"
)

// specialUse maps RFC 6154 special-use attributes to canonical names.
var specialUse = map[string]string{
	"\\sent":    domain.FolderSent,
	"\\drafts":  domain.FolderDrafts,
	"\\trash":   domain.FolderTrash,
	"\\junk":    domain.FolderSpam,
	"\\archive": domain.FolderArchive,
	"\\inbox":   domain.FolderInbox,
	"\\all":     domain.FolderArchive,
}

// folderFlags covers the wider flag vocabulary some servers emit instead
// of (or on top of) special-use.
var folderFlags = map[string]string{
	"\\sent":      domain.FolderSent,
	"\\drafts":    domain.FolderDrafts,
	"\\trash":     domain.FolderTrash,
	"\\junk":      domain.FolderSpam,
	"\\spam":      domain.FolderSpam,
	"\\archive":   domain.FolderArchive,
	"\\flagged":   domain.FolderStarred,
	"\\starred":   domain.FolderStarred,
	"\\important": domain.FolderImportant,
}

// graphNames maps compacted Graph display names to canonical folders.
var graphNames = map[string]string{
	"sentitems":    domain.FolderSent,
	"deleteditems": domain.FolderTrash,
	"junkemail":    domain.FolderSpam,
	"archive":      domain.FolderArchive,
	"drafts":       domain.FolderDrafts,
	"inbox":        domain.FolderInbox,
}

// providerPaths maps well-known provider folder paths to canonical names.
var providerPaths = map[string]string{
	"[gmail]/sent mail": domain.FolderSent,
	"[gmail]/all mail":  domain.FolderArchive,
	"[gmail]/drafts":    domain.FolderDrafts,
	"[gmail]/trash":     domain.FolderTrash,
	"[gmail]/spam":      domain.FolderSpam,
	"[gmail]/starred":   domain.FolderStarred,
	"[gmail]/important": domain.FolderImportant,
	"sent items":        domain.FolderSent,
	"deleted items":     domain.FolderTrash,
	"junk email":        domain.FolderSpam,
	"sent messages":     domain.FolderSent,
	"deleted messages":  domain.FolderTrash,
	"bulk mail":         domain.FolderSpam,
}

// substringRules run last, in order, over the lowercased raw path.
var substringRules = []struct {
	needle    string
	canonical string
}{
	{"all mail", domain.FolderArchive},
	{"sent", domain.FolderSent},
	{"draft", domain.FolderDrafts},
	{"trash", domain.FolderTrash},
	{"deleted", domain.FolderTrash},
	{"bin", domain.FolderTrash},
	{"spam", domain.FolderSpam},
	{"junk", domain.FolderSpam},
	{"archive", domain.FolderArchive},
	{"important", domain.FolderImportant},
	{"starred", domain.FolderStarred},
	{"flagged", domain.FolderStarred},
}

// Normalize maps a provider folder descriptor to its canonical name.
// Resolution is deterministic: first matching rule wins, and an
// unrecognized path passes through unchanged.
func Normalize(folder out.RemoteFolder) string {
	path := folder.Path

	if strings.EqualFold(path, "INBOX") {
		return domain.FolderInbox
	}

	for _, attr := range folder.Attributes {
		if canonical, ok := specialUse[strings.ToLower(attr)]; ok {
			return canonical
		}
	}

	compact := strings.ToLower(strings.Join(strings.Fields(path), ""))
	if canonical, ok := graphNames[compact]; ok {
		return canonical
	}

	for _, attr := range folder.Attributes {
		if canonical, ok := folderFlags[strings.ToLower(attr)]; ok {
			return canonical
		}
	}

	lower := strings.ToLower(path)
	if canonical, ok := providerPaths[lower]; ok {
		return canonical
	}

	for _, rule := range substringRules {
		if strings.Contains(lower, rule.needle) {
			return rule.canonical
		}
	}

	return path
}

// excludedPatterns lists path fragments that mark a folder as out of scope:
// non-mail folders, server-side bookkeeping, and the Gmail All Mail view
// that would duplicate every other folder.
var excludedPatterns = []string{
	"[gmail]/all mail",
	"notes",
	"contacts",
	"calendar",
	"tasks",
	"journal",
	"sync issues",
	"local failures",
	"server failures",
	"yammer root",
}

// ShouldSync decides sync eligibility after normalization, so a folder
// whose raw path trips an exclusion pattern still syncs when its canonical
// name is INBOX.
func ShouldSync(folder out.RemoteFolder) bool {
	if Normalize(folder) == domain.FolderInbox {
		return true
	}
	lower := strings.ToLower(folder.Path)
	for _, pattern := range excludedPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

// priorities orders canonical folders; higher syncs first.
var priorities = map[string]int{
	domain.FolderInbox:     100,
	domain.FolderSent:      90,
	domain.FolderDrafts:    80,
	domain.FolderImportant: 75,
	domain.FolderArchive:   70,
	domain.FolderSpam:      50,
	domain.FolderTrash:     40,
}

const defaultPriority = 60

// Priority returns the sync priority of a canonical folder name.
func Priority(canonical string) int {
	if p, ok := priorities[canonical]; ok {
		return p
	}
	return defaultPriority
}

// SortByPriority orders folders highest-priority first, with the raw path
// as a deterministic tie-break.
func SortByPriority(folders []out.RemoteFolder) {
	sort.SliceStable(folders, func(i, j int) bool {
		pi, pj := Priority(Normalize(folders[i])), Priority(Normalize(folders[j]))
		if pi != pj {
			return pi > pj
		}
		return folders[i].Path < folders[j].Path
	})
}
