package pdf

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultMaxLinks caps how many body links one message may contribute.
const DefaultMaxLinks = 10

var (
	bareURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)
	hrefPattern    = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
)

// pdfQueryKeys are query parameters whose value names the served format.
var pdfQueryKeys = []string{"format", "type", "filetype", "ext"}

// downloadHints mark URL paths that serve files rather than pages.
var downloadHints = []string{"/download", "/attachment", "/export", "/getfile"}

// ExtractLinks pulls PDF-looking URLs out of the plain and HTML bodies,
// deduplicated in order of first appearance and capped at max.
func ExtractLinks(textBody, htmlBody string, max int) []string {
	if max <= 0 {
		max = DefaultMaxLinks
	}

	var raw []string
	raw = append(raw, bareURLPattern.FindAllString(textBody, -1)...)
	for _, m := range hrefPattern.FindAllStringSubmatch(htmlBody, -1) {
		raw = append(raw, m[1])
	}
	raw = append(raw, bareURLPattern.FindAllString(htmlBody, -1)...)

	seen := make(map[string]bool)
	var links []string
	for _, link := range raw {
		link = trimLinkPunctuation(link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		if !LooksLikePDFLink(link) {
			continue
		}
		links = append(links, link)
		if len(links) >= max {
			break
		}
	}
	return links
}

// LooksLikePDFLink reports whether a URL plausibly serves a PDF: its
// path ends in .pdf, a format-style query parameter says pdf, or it
// uses a download-style path that mentions pdf.
func LooksLikePDFLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return true
	}

	query := u.Query()
	for _, key := range pdfQueryKeys {
		if strings.EqualFold(query.Get(key), "pdf") {
			return true
		}
	}

	lowerPath := strings.ToLower(u.Path)
	for _, hint := range downloadHints {
		if strings.Contains(lowerPath, hint) && strings.Contains(strings.ToLower(rawURL), "pdf") {
			return true
		}
	}
	return false
}

// trimLinkPunctuation strips trailing sentence punctuation that the URL
// regex drags along from prose bodies.
func trimLinkPunctuation(link string) string {
	return strings.TrimRight(link, ".,;:!?)]}>\"'")
}

// FilenameFromURL derives a safe local filename from the URL path.
func FilenameFromURL(rawURL string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = "document.pdf"
	}

	name = CleanFilename(name)
	if name == "" {
		name = "document.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// CleanFilename removes potentially dangerous characters from filenames
func CleanFilename(filename string) string {
	// Replace any path separators
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")

	// Remove any other potentially dangerous characters
	filename = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_' || r == ' ' {
			return r
		}
		return '_'
	}, filename)

	// Trim spaces
	filename = strings.TrimSpace(filename)

	return filename
}
