package cloudstorage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

type manifestLine struct {
	Name      *string `json:"name"`
	Extension string  `json:"extension"`
}

// ParseManifest returns the file names listed in a JSON lines manifest. Header
// lines such as {"version": ...} or {"type": ...} carry no name and are skipped.
func ParseManifest(data []byte) ([]string, error) {
	var files []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry manifestLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, invalidf("invalid manifest line %d: %v", lineNo, err)
		}
		if entry.Name == nil {
			continue
		}
		files = append(files, *entry.Name+entry.Extension)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return files, nil
}

func ListManifestFiles(ctx context.Context, storage Storage, manifest string) ([]string, error) {
	data, err := storage.ReadFile(ctx, manifest)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}
