package testlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadTestLists reads one or more test list files and returns the listed paths
// in file order. Everything after "//" on a line is a comment, blank lines are
// ignored.
func ReadTestLists(files []string) ([]string, error) {
	var paths []string
	for _, file := range files {
		listed, err := readTestList(file)
		if err != nil {
			return nil, err
		}
		paths = append(paths, listed...)
	}
	return paths, nil
}

func readTestList(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open test list: %w", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test list %s: %w", file, err)
	}
	return paths, nil
}
