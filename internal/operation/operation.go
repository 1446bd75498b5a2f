// Package operation models the document transformations the external tool
// understands. Each transformation is its own type carrying typed
// parameters; the set is closed so callers can switch over it exhaustively.
package operation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Name is the tool-facing operation identifier.
type Name string

const (
	NameMerge          Name = "merge"
	NameRotate         Name = "rotate"
	NameDeletePages    Name = "delete_pages"
	NameExtractPages   Name = "extract_pages"
	NameEncrypt        Name = "encrypt"
	NameDecrypt        Name = "decrypt"
	NameOverlay        Name = "overlay"
	NameExtractText    Name = "extract_text"
	NameReversePages   Name = "reverse_pages"
	NameDuplicatePages Name = "duplicate_pages"
)

// Names lists every supported operation in a stable order.
func Names() []Name {
	return []Name{
		NameMerge, NameRotate, NameDeletePages, NameExtractPages, NameEncrypt,
		NameDecrypt, NameOverlay, NameExtractText, NameReversePages, NameDuplicatePages,
	}
}

// MaxDuplicateCount bounds DuplicatePages.Count.
const MaxDuplicateCount = 10

// Operation is one fully-parameterized transformation.
type Operation interface {
	Name() Name
	inputBounds() (min, max int)
	flags(inputs []string) []string
}

type Merge struct{}

type Rotate struct {
	Angle Angle
	Pages PageSet
}

type DeletePages struct {
	Pages PageSet
}

type ExtractPages struct {
	Pages PageSet
}

type Encrypt struct {
	UserPassword  string
	OwnerPassword string
}

type Decrypt struct {
	Password string
}

// Overlay stamps one page of the second input onto the first.
type Overlay struct {
	OverlayPage int
	Pages       PageSet
}

type ExtractText struct {
	Pages PageSet
}

type ReversePages struct{}

// DuplicatePages inserts Count additional copies of each selected page.
type DuplicatePages struct {
	Pages PageSet
	Count int
}

func (Merge) Name() Name          { return NameMerge }
func (Rotate) Name() Name         { return NameRotate }
func (DeletePages) Name() Name    { return NameDeletePages }
func (ExtractPages) Name() Name   { return NameExtractPages }
func (Encrypt) Name() Name        { return NameEncrypt }
func (Decrypt) Name() Name        { return NameDecrypt }
func (Overlay) Name() Name        { return NameOverlay }
func (ExtractText) Name() Name    { return NameExtractText }
func (ReversePages) Name() Name   { return NameReversePages }
func (DuplicatePages) Name() Name { return NameDuplicatePages }

// max < 0 means unbounded.
func (Merge) inputBounds() (int, int)          { return 2, -1 }
func (Rotate) inputBounds() (int, int)         { return 1, 1 }
func (DeletePages) inputBounds() (int, int)    { return 1, 1 }
func (ExtractPages) inputBounds() (int, int)   { return 1, 1 }
func (Encrypt) inputBounds() (int, int)        { return 1, 1 }
func (Decrypt) inputBounds() (int, int)        { return 1, 1 }
func (Overlay) inputBounds() (int, int)        { return 2, 2 }
func (ExtractText) inputBounds() (int, int)    { return 1, 1 }
func (ReversePages) inputBounds() (int, int)   { return 1, 1 }
func (DuplicatePages) inputBounds() (int, int) { return 1, 1 }

func (Merge) flags(inputs []string) []string { return inputArgs(inputs) }

func (o Rotate) flags(inputs []string) []string {
	args := append(inputArgs(inputs), "--angle", o.Angle.String())
	return appendPages(args, o.Pages)
}

func (o DeletePages) flags(inputs []string) []string {
	return appendPages(inputArgs(inputs), o.Pages)
}

func (o ExtractPages) flags(inputs []string) []string {
	return appendPages(inputArgs(inputs), o.Pages)
}

func (o Encrypt) flags(inputs []string) []string {
	args := append(inputArgs(inputs), "--user-password", o.UserPassword)
	if o.OwnerPassword != "" {
		args = append(args, "--owner-password", o.OwnerPassword)
	}
	return args
}

func (o Decrypt) flags(inputs []string) []string {
	return append(inputArgs(inputs), "--password", o.Password)
}

func (o Overlay) flags(inputs []string) []string {
	args := inputArgs(inputs[:1])
	args = append(args, "--overlay-pdf", inputs[1], "--overlay-page-number", strconv.Itoa(o.OverlayPage))
	return appendPages(args, o.Pages)
}

func (o ExtractText) flags(inputs []string) []string {
	return appendPages(inputArgs(inputs), o.Pages)
}

func (ReversePages) flags(inputs []string) []string { return inputArgs(inputs) }

func (o DuplicatePages) flags(inputs []string) []string {
	args := appendPages(inputArgs(inputs), o.Pages)
	return append(args, "--duplicate-count", strconv.Itoa(o.Count))
}

func inputArgs(inputs []string) []string {
	args := make([]string, 0, len(inputs)+1)
	args = append(args, "--input")
	return append(args, inputs...)
}

func appendPages(args []string, pages PageSet) []string {
	if pages.IsZero() {
		return args
	}
	return append(args, "--pages", pages.String())
}

// CheckInputs verifies that n staged inputs satisfy the operation.
func CheckInputs(op Operation, n int) error {
	lo, hi := op.inputBounds()
	switch {
	case hi < 0 && n < lo:
		return &ValidationError{Field: "files", Reason: fmt.Sprintf("%s requires at least %d input files, got %d", op.Name(), lo, n)}
	case hi >= 0 && (n < lo || n > hi):
		if lo == hi {
			return &ValidationError{Field: "files", Reason: fmt.Sprintf("%s requires exactly %d input file(s), got %d", op.Name(), lo, n)}
		}
		return &ValidationError{Field: "files", Reason: fmt.Sprintf("%s requires %d to %d input files, got %d", op.Name(), lo, hi, n)}
	}
	return nil
}

// Args builds the tool arguments that follow the executable. Every value is
// its own element; nothing is passed through a shell.
func Args(op Operation, inputs []string, output string) ([]string, error) {
	if err := CheckInputs(op, len(inputs)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(output) == "" {
		return nil, fmt.Errorf("output path is empty")
	}

	args := []string{"--operation", string(op.Name())}
	args = append(args, op.flags(inputs)...)
	return append(args, "--output", output), nil
}

// OutputExt is the extension of the artifact the tool produces.
func OutputExt(op Operation) string {
	if op.Name() == NameExtractText {
		return ".txt"
	}
	return ".pdf"
}

var defaultOutputNames = map[Name]string{
	NameMerge:          "merged-document",
	NameRotate:         "rotated-document",
	NameDeletePages:    "deleted-pages",
	NameExtractPages:   "extracted-pages",
	NameEncrypt:        "encrypted-document",
	NameDecrypt:        "decrypted-document",
	NameOverlay:        "overlaid-document",
	NameExtractText:    "extracted-text",
	NameReversePages:   "reversed-document",
	NameDuplicatePages: "duplicated-pages",
}

var outputNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// DisplayName validates a caller-chosen output name and appends the
// operation's extension. An empty name selects the operation default.
func DisplayName(op Operation, requested string) (string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = defaultOutputNames[op.Name()]
	}
	if !outputNamePattern.MatchString(name) {
		return "", &ValidationError{Field: "output_name", Reason: "may only contain letters, digits, '-' and '_' (max 255)"}
	}
	return name + OutputExt(op), nil
}
