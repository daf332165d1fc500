package formsite

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/samber/lo"
)

// FilesURLPattern matches values pointing to files uploaded to forms of a
// server and directory.
func FilesURLPattern(server, directory string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^https://%s\.formsite\.com/%s/files/.*$`,
		regexp.QuoteMeta(server), regexp.QuoteMeta(directory)))
}

// CompileLinkFilter compiles a filter matched at the start of each URL. An
// empty pattern keeps everything.
func CompileLinkFilter(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid link filter %q: %w", ErrInvalidParameter, pattern, err)
	}
	return re, nil
}

// ExtractLinks returns the sorted, unique file URLs found in the table. A
// cell holding several files separates them with "|".
func ExtractLinks(table *engine.Table, server, directory string, filter *regexp.Regexp) []string {
	base := FilesURLPattern(server, directory)
	links := make(map[string]struct{})

	for _, row := range table.Rows {
		for _, c := range table.Columns {
			s, ok := row[c.ID].(string)
			if !ok || !base.MatchString(s) {
				continue
			}
			for _, part := range strings.Split(s, "|") {
				link := strings.TrimSpace(part)
				if !validLink(base, link) {
					continue
				}
				if filter != nil && !filter.MatchString(link) {
					continue
				}
				links[link] = struct{}{}
			}
		}
	}

	out := lo.Keys(links)
	slices.Sort(out)
	return out
}

func validLink(base *regexp.Regexp, link string) bool {
	if !base.MatchString(link) {
		return false
	}
	u, err := url.Parse(link)
	return err == nil && u.Host != "" && u.Path != ""
}
