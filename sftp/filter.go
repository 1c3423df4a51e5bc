package sftp

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/c360/sftpstreams/errors"
)

// FileFilter decides which listed entries are candidates for emission.
type FileFilter interface {
	Accept(f FileInfo) bool
}

// FilterFunc adapts a function to FileFilter.
type FilterFunc func(FileInfo) bool

// Accept calls fn
func (fn FilterFunc) Accept(f FileInfo) bool { return fn(f) }

// PatternFilter accepts names matching a shell glob.
type PatternFilter struct {
	pattern string
}

// NewPatternFilter validates pattern up front.
func NewPatternFilter(pattern string) (*PatternFilter, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("filename_pattern %q: %w", pattern, err),
			"PatternFilter", "New", "compile pattern")
	}
	return &PatternFilter{pattern: pattern}, nil
}

func (p *PatternFilter) Accept(f FileInfo) bool {
	ok, _ := path.Match(p.pattern, f.Name)
	return ok
}

// RegexFilter accepts names matching a regular expression anywhere.
type RegexFilter struct {
	re *regexp.Regexp
}

// NewRegexFilter compiles expr.
func NewRegexFilter(expr string) (*RegexFilter, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("filename_regex %q: %w", expr, err),
			"RegexFilter", "New", "compile regex")
	}
	return &RegexFilter{re: re}, nil
}

func (r *RegexFilter) Accept(f FileInfo) bool {
	return r.re.MatchString(f.Name)
}

// ChainFilter accepts only entries every member accepts.
type ChainFilter []FileFilter

func (c ChainFilter) Accept(f FileInfo) bool {
	for _, filter := range c {
		if !filter.Accept(f) {
			return false
		}
	}
	return true
}

// NewFileFilter builds the standard source filter: regular files only,
// in-flight uploads (tmpSuffix) skipped, plus an optional glob or regex.
// Setting both pattern and regex is a configuration error.
func NewFileFilter(pattern, regex, tmpSuffix string) (FileFilter, error) {
	if pattern != "" && regex != "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("filename_pattern and filename_regex are mutually exclusive: %w", errors.ErrInvalidConfig),
			"FileFilter", "New", "validate")
	}
	chain := ChainFilter{FilterFunc(func(f FileInfo) bool {
		return !f.IsDir && f.Name != "." && f.Name != ".."
	})}
	if tmpSuffix != "" {
		chain = append(chain, FilterFunc(func(f FileInfo) bool {
			return !strings.HasSuffix(f.Name, tmpSuffix)
		}))
	}
	switch {
	case pattern != "":
		pf, err := NewPatternFilter(pattern)
		if err != nil {
			return nil, err
		}
		chain = append(chain, pf)
	case regex != "":
		rf, err := NewRegexFilter(regex)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rf)
	}
	return chain, nil
}

// Join appends name to dir using sep, without doubling a trailing separator.
func Join(dir, name, sep string) string {
	if sep == "" {
		sep = "/"
	}
	if dir == "" || strings.HasSuffix(dir, sep) {
		return dir + name
	}
	return dir + sep + name
}
