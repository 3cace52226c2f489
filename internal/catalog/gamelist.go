package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// GameListFile is the member of the meta archive holding the catalog.
	GameListFile = "VRP-GameList.txt"
	// MetaArchive is the identifier of the archive that carries the game list.
	MetaArchive = "meta.7z"
	// ReleaseNameColumn is the header of the identity column.
	ReleaseNameColumn = "Release Name"
)

// maxLineSize bounds a single game list line.
const maxLineSize = 1 << 20

// ParseGameList parses a delimited game list. The first line is the header;
// the "Release Name" column becomes Entry.ReleaseName and every other column
// is kept in Entry.Attributes. Lines are split on sep verbatim: quotes carry
// no meaning. Rows with an empty release name are skipped.
func ParseGameList(r io.Reader, sep rune) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	delim := string(sep)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		return nil, fmt.Errorf("game list is empty")
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), delim)
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	nameCol := -1
	for i, h := range header {
		if h == ReleaseNameColumn {
			nameCol = i
			break
		}
	}
	if nameCol < 0 {
		return nil, fmt.Errorf("game list has no %q column", ReleaseNameColumn)
	}

	var entries []Entry
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, delim)
		if nameCol >= len(fields) || fields[nameCol] == "" {
			continue
		}

		attrs := make(map[string]string, len(header)-1)
		for i, h := range header {
			if i == nameCol || i >= len(fields) {
				continue
			}
			attrs[h] = fields[i]
		}
		entries = append(entries, Entry{ReleaseName: fields[nameCol], Attributes: attrs})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading game list: %w", err)
	}

	return entries, nil
}

// LoadGameListFile opens and parses a game list file.
func LoadGameListFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening game list: %w", err)
	}
	defer f.Close()

	entries, err := ParseGameList(f, ';')
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entries, nil
}
