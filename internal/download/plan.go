package download

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// prefixRe matches the "f-123-456-" and "sig-123-456-" markers Formsite puts
// in front of uploaded file names.
var prefixRe = regexp.MustCompile(`((f|sig)-((\d+?)-)+)`)

// Target is one file to download and the name it is saved under.
type Target struct {
	URL  string
	Name string
}

type PlanOptions struct {
	// StripPrefix removes Formsite upload prefixes from file names.
	StripPrefix bool
	// Substitution removes every match from file names.
	Substitution *regexp.Regexp
	// Overwrite downloads files whose name is listed in Existing anyway.
	Overwrite bool
	Existing  []string
}

// Plan maps URLs to file names. Names shared by several URLs get a _1, _2,
// ... suffix before the extension, in URL order.
func Plan(urls []string, opts PlanOptions) []Target {
	existing := make(map[string]struct{}, len(opts.Existing))
	for _, name := range opts.Existing {
		existing[name] = struct{}{}
	}

	var order []string
	byName := make(map[string][]string)

	for _, u := range urls {
		name := FileName(u, opts.StripPrefix, opts.Substitution)
		if !opts.Overwrite {
			if _, ok := existing[name]; ok {
				continue
			}
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], u)
	}

	targets := make([]Target, 0, len(urls))
	for _, name := range order {
		group := byName[name]
		if len(group) == 1 {
			targets = append(targets, Target{URL: group[0], Name: name})
			continue
		}

		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for i, u := range group {
			targets = append(targets, Target{URL: u, Name: fmt.Sprintf("%s_%d%s", stem, i+1, ext)})
		}
	}

	return targets
}

// FileName derives the local file name of a URL from its path.
func FileName(rawURL string, stripPrefix bool, substitution *regexp.Regexp) string {
	name := URLBasename(rawURL)
	if stripPrefix {
		name = prefixRe.ReplaceAllString(name, "")
	}
	if substitution != nil {
		name = substitution.ReplaceAllString(name, "")
	}
	return name
}

// URLBasename returns the last element of the URL path, or "" when there is
// none.
func URLBasename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// ExistingNames lists the file names in dir. A missing dir has none.
func ExistingNames(fsys afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
