package latency

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/revsim/insts"
)

// Internal names the built-in cost table. It is equivalent to no override
// file.
const Internal = "_REV_INTERNAL_"

// LoadOverrides applies the "mnemonic cost" lines of the file at path to t.
// Blank lines and "#" comments are ignored. An unknown mnemonic is an error.
func LoadOverrides(path string, t *insts.Table) error {
	if path == "" || path == Internal {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open cost table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return fmt.Errorf("%s:%d: expected \"mnemonic cost\", got %q", path, line, text)
		}

		cost, err := strconv.ParseUint(fields[1], 0, 32)
		if err != nil || cost == 0 {
			return fmt.Errorf("%s:%d: invalid cost %q", path, line, fields[1])
		}
		if !t.SetCost(fields[0], uint32(cost)) {
			return fmt.Errorf("%s:%d: unknown instruction %q", path, line, fields[0])
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read cost table: %w", err)
	}
	return nil
}
