package library

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// HiddenFilter rejects dotfiles, which are usually resource forks or
// sync metadata rather than audio.
type HiddenFilter struct{}

// NewHiddenFilter creates a new hidden file filter.
func NewHiddenFilter() *HiddenFilter {
	return &HiddenFilter{}
}

func (f *HiddenFilter) Name() string {
	return "hidden_filter"
}

func (f *HiddenFilter) Description() string {
	return "Rejects hidden files"
}

func (f *HiddenFilter) ReturnCodes() []string {
	return []string{"hidden_file"}
}

func (f *HiddenFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *HiddenFilter) Check(path string, info fs.FileInfo) Result {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return Reject("hidden_file")
	}
	return Accept()
}

func init() {
	Register("hidden_filter", func() Filter {
		return &HiddenFilter{}
	})
}
