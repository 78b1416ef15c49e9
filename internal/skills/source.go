package skills

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const skillFileName = "SKILL.md"

// Source produces the full corpus. Load returns per-skill validation
// failures separately from a failure to read the corpus at all.
type Source interface {
	Load(ctx context.Context) ([]Document, map[string]error, error)
	Describe() string
}

// DirSource reads skills from a directory tree. Every directory holding a
// SKILL.md is one skill; its subdirectories are not searched further.
type DirSource struct {
	Root string
}

func (s DirSource) Describe() string { return s.Root }

func (s DirSource) Load(ctx context.Context) ([]Document, map[string]error, error) {
	info, err := os.Stat(s.Root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", s.Root)
	}

	var docs []Document
	invalid := make(map[string]error)
	err = filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		entry := filepath.Join(path, skillFileName)
		raw, err := os.ReadFile(entry)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			invalid[entry] = err
			return fs.SkipDir
		}
		doc, err := ParseSkillMarkdown(raw, filepath.Base(path))
		if err != nil {
			invalid[entry] = err
			return fs.SkipDir
		}
		doc.Path = entry
		doc.Attachments = readAttachments(path)
		docs = append(docs, doc)
		return fs.SkipDir
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, invalid, nil
}

func readAttachments(dir string) []Attachment {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Attachment
	for _, e := range entries {
		if e.IsDir() || e.Name() == skillFileName {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, Attachment{Name: e.Name(), Text: string(raw)})
	}
	return out
}
