package persist

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/yanun0323/errors"
)

// maxLineSize bounds a single journal line. Status payloads stay well
// under this.
const maxLineSize = 1 << 20

// ReadJournal streams a session file line by line. Iteration stops on
// the first error fn returns.
func ReadJournal(path string, fn func(Line) error) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			return errors.Errorf("journal line %d: %+v", lineNo, err)
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
