package skills

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Document is one skill: a SKILL.md file plus any sibling text files.
type Document struct {
	Name          string
	Description   string
	Body          string
	License       string
	Compatibility string
	Metadata      map[string]string
	Attachments   []Attachment
	Path          string
}

// Attachment is a reference text file shipped next to a SKILL.md.
type Attachment struct {
	Name string
	Text string
}

type frontmatter struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	License       string         `yaml:"license"`
	Compatibility string         `yaml:"compatibility"`
	Metadata      map[string]any `yaml:"metadata"`
}

var (
	errMissingFrontmatter = errors.New("SKILL.md is missing YAML frontmatter")
	skillNameRE           = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	frontmatterDelim      = []byte("---")
)

// ParseSkillMarkdown splits a SKILL.md into validated frontmatter and body.
// dirName is the directory holding the file; the skill name must match it.
func ParseSkillMarkdown(raw []byte, dirName string) (Document, error) {
	fmRaw, body, err := splitFrontmatter(raw)
	if err != nil {
		return Document{}, err
	}
	var fm frontmatter
	if err := yaml.Unmarshal(fmRaw, &fm); err != nil {
		return Document{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := validateFrontmatter(fm, dirName); err != nil {
		return Document{}, err
	}

	doc := Document{
		Name:          strings.TrimSpace(fm.Name),
		Description:   strings.TrimSpace(fm.Description),
		Body:          strings.TrimSpace(string(body)),
		License:       strings.TrimSpace(fm.License),
		Compatibility: strings.TrimSpace(fm.Compatibility),
	}
	if len(fm.Metadata) > 0 {
		doc.Metadata = make(map[string]string, len(fm.Metadata))
		for k, v := range fm.Metadata {
			doc.Metadata[k] = fmt.Sprint(v)
		}
	}
	return doc, nil
}

func splitFrontmatter(raw []byte) ([]byte, []byte, error) {
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(raw, frontmatterDelim) {
		return nil, nil, errMissingFrontmatter
	}
	rest := raw[len(frontmatterDelim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, nil, errMissingFrontmatter
	}
	rest = rest[nl+1:]

	for offset := 0; offset < len(rest); {
		end := bytes.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		next := len(rest)
		if end >= 0 {
			line = rest[offset : offset+end]
			next = offset + end + 1
		}
		if strings.TrimSpace(string(line)) == string(frontmatterDelim) {
			return rest[:offset], rest[next:], nil
		}
		offset = next
	}
	return nil, nil, errMissingFrontmatter
}

func validateFrontmatter(fm frontmatter, dirName string) error {
	name := strings.TrimSpace(fm.Name)
	desc := strings.TrimSpace(fm.Description)
	switch {
	case name == "":
		return errors.New("missing required frontmatter field: name")
	case desc == "":
		return errors.New("missing required frontmatter field: description")
	case utf8.RuneCountInString(name) > 64:
		return errors.New("field 'name' must be 1-64 characters")
	case !skillNameRE.MatchString(name):
		return fmt.Errorf("field 'name' %q must be kebab-case", name)
	case name != dirName:
		return fmt.Errorf("field 'name' %q must match the parent directory %q", name, dirName)
	case utf8.RuneCountInString(desc) > 1024:
		return errors.New("field 'description' must be 1-1024 characters")
	}
	if c := strings.TrimSpace(fm.Compatibility); c != "" && utf8.RuneCountInString(c) > 500 {
		return errors.New("field 'compatibility' must be 1-500 characters")
	}
	return nil
}

// Inject renders doc as a prompt block for the text capability.
func Inject(doc Document) string {
	return strings.TrimSpace(fmt.Sprintf("[Skill: %s]\n%s", doc.Name, doc.Body))
}
