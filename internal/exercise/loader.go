package exercise

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/felixgeelhaar/pyportal/internal/domain"
	"github.com/google/uuid"
)

// Files read from each exercise folder
const (
	InstructionsFile = "instructions.md"
	StarterFile      = "starter.py"
	TestFile         = "test.py"
	SolutionFile     = "solution.py"
)

// IDGenerator produces the identifier for the exercise loaded from folder
type IDGenerator func(folder string) string

// stableNamespace seeds name-based exercise ids
var stableNamespace = uuid.MustParse("6f1c2a4e-9d3b-4f57-8a61-2b7e0c5d9a13")

// RandomIDs assigns a fresh random id on every load
func RandomIDs(string) string {
	return uuid.NewString()
}

// StableIDs derives the id from the folder name so it survives reloads
func StableIDs(folder string) string {
	return uuid.NewSHA1(stableNamespace, []byte(folder)).String()
}

// Loader reads exercise folders from the filesystem
type Loader struct {
	root         string
	solutionsDir string
	metadata     MetadataTable
	newID        IDGenerator
	logger       *slog.Logger
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithSolutionsDir overrides the default <root>/../solutions location
func WithSolutionsDir(dir string) LoaderOption {
	return func(l *Loader) {
		if dir != "" {
			l.solutionsDir = dir
		}
	}
}

// WithMetadata replaces the built-in metadata table
func WithMetadata(table MetadataTable) LoaderOption {
	return func(l *Loader) {
		if table != nil {
			l.metadata = table
		}
	}
}

// WithIDGenerator replaces the id generator
func WithIDGenerator(gen IDGenerator) LoaderOption {
	return func(l *Loader) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// WithLogger sets the logger used for missing-file warnings
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a new exercise loader rooted at root
func NewLoader(root string, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:         root,
		solutionsDir: filepath.Join(root, "..", "solutions"),
		metadata:     DefaultMetadataTable(),
		newID:        RandomIDs,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the exercises directory
func (l *Loader) Root() string {
	return l.root
}

// Load reads every immediate subdirectory of the root, in lexicographic
// order, and returns one exercise per folder with Order set to 1..N.
func (l *Loader) Load() ([]*domain.Exercise, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Error("exercises directory not found", "path", l.root)
			return nil, domain.NewNotFoundError("exercises directory", "")
		}
		return nil, fmt.Errorf("stat exercises directory: %w", err)
	}
	if !info.IsDir() {
		l.logger.Error("exercises path is not a directory", "path", l.root)
		return nil, domain.NewNotFoundError("exercises directory", "")
	}

	folders, err := l.listFolders()
	if err != nil {
		return nil, err
	}

	exercises := make([]*domain.Exercise, 0, len(folders))
	for i, folder := range folders {
		ex := l.LoadFolder(folder, i+1)
		exercises = append(exercises, ex)
		l.logger.Debug("loaded exercise", "folder", folder, "title", ex.Title, "order", ex.Order)
	}

	return exercises, nil
}

// LoadFolder builds the exercise stored in folder. Missing files are
// logged and treated as empty.
func (l *Loader) LoadFolder(folder string, order int) *domain.Exercise {
	dir := filepath.Join(l.root, folder)

	instructions := l.readFileIfExists(filepath.Join(dir, InstructionsFile))
	starter := l.readFileIfExists(filepath.Join(dir, StarterFile))
	tests := l.readFileIfExists(filepath.Join(dir, TestFile))
	solution := l.readFileIfExists(filepath.Join(l.solutionsDir, folder, SolutionFile))

	title := ExtractTitle(folder)
	meta := l.metadata.Lookup(folder)

	return &domain.Exercise{
		ID:            l.newID(folder),
		Slug:          folder,
		Title:         title,
		Description:   ExtractDescription(instructions, title),
		Instructions:  instructions,
		StarterCode:   starter,
		TestCode:      tests,
		SolutionCode:  solution,
		Difficulty:    meta.Difficulty,
		Topics:        meta.Topics,
		Hints:         ExtractHints(instructions),
		Order:         order,
		EstimatedTime: meta.EstimatedTime,
	}
}

func (l *Loader) listFolders() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read exercises directory: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		// Stat follows symlinked folders
		info, err := os.Stat(filepath.Join(l.root, entry.Name()))
		if err != nil {
			l.logger.Warn("skipping unreadable entry", "name", entry.Name(), "error", err)
			continue
		}
		if info.IsDir() {
			folders = append(folders, entry.Name())
		}
	}
	sort.Strings(folders)
	return folders, nil
}

func (l *Loader) readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("exercise file not found", "path", path, "error", err)
		return ""
	}
	return string(data)
}

// ExtractTitle converts a folder name like "E1_tip_calc" into "Tip Calc".
// The first underscore-delimited segment is dropped.
func ExtractTitle(folder string) string {
	parts := strings.Split(folder, "_")
	words := strings.Split(strings.Join(parts[1:], " "), " ")
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

var headingPrefix = regexp.MustCompile(`^#+\s*`)

// ExtractDescription returns the first paragraph of the instructions without
// its leading markdown heading markers, or "Practice <title>" when there is none.
func ExtractDescription(instructions, title string) string {
	text := strings.ReplaceAll(instructions, "\r\n", "\n")
	first := strings.SplitN(text, "\n\n", 2)[0]
	if first == "" {
		first = "Practice " + title
	}
	return headingPrefix.ReplaceAllString(first, "")
}
