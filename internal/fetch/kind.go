package fetch

import (
	"path/filepath"
	"strings"
)

// Kind identifies one downloadable media class selected from the menu.
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindPDF     Kind = "pdf"
	KindArchive Kind = "archive"
)

// Spec is the per-kind configuration resolved once per command.
type Spec struct {
	Kind       Kind
	Choice     string
	Prompt     string // label used in "Enter <prompt> URL: "
	Label      string // label used in status strings
	DefaultDir string
	Extension  string
}

var catalog = []Spec{
	{Kind: KindImage, Choice: "1", Prompt: "image", Label: "Image", DefaultDir: "Images", Extension: ".jpg"},
	{Kind: KindVideo, Choice: "2", Prompt: "video", Label: "Video", DefaultDir: "Videos", Extension: ".mp4"},
	{Kind: KindAudio, Choice: "3", Prompt: "audio", Label: "Audio", DefaultDir: "Audio", Extension: ".mp3"},
	{Kind: KindPDF, Choice: "4", Prompt: "PDF", Label: "PDF", DefaultDir: "PDFs", Extension: ".pdf"},
	{Kind: KindArchive, Choice: "5", Prompt: "ZIP", Label: "ZIP file", DefaultDir: "Zips", Extension: ".zip"},
}

// Catalog returns the menu-ordered kind table.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// ByChoice resolves a menu selection ("1".."5") to its kind spec.
func ByChoice(choice string) (Spec, bool) {
	for _, s := range catalog {
		if s.Choice == choice {
			return s, true
		}
	}
	return Spec{}, false
}

// ByKind resolves a kind to its spec.
func ByKind(kind Kind) (Spec, bool) {
	for _, s := range catalog {
		if s.Kind == kind {
			return s, true
		}
	}
	return Spec{}, false
}

// Request is one fully collected download command.
type Request struct {
	Spec      Spec
	URL       string
	Directory string // empty means Spec.DefaultDir
	Filename  string
}

// ResolvedDir returns the target directory, falling back to the kind default.
func (r Request) ResolvedDir() string {
	if strings.TrimSpace(r.Directory) == "" {
		return r.Spec.DefaultDir
	}
	return r.Directory
}

// TargetPath joins the resolved directory with the filename carrying the
// kind extension.
func (r Request) TargetPath() string {
	return filepath.Join(r.ResolvedDir(), EnsureExtension(r.Filename, r.Spec.Extension))
}

// EnsureExtension appends ext unless name already ends with it.
func EnsureExtension(name, ext string) string {
	if ext == "" || strings.HasSuffix(name, ext) {
		return name
	}
	return name + ext
}
