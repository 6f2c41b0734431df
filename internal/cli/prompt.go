package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForFile asks for the path of the file to classify.
// Returns an empty string if nothing was entered.
func PromptForFile(in io.Reader, out io.Writer) string {
	fmt.Fprint(out, "CSV file to classify: ")

	reader := bufio.NewReader(in)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input")
		return ""
	}
	return strings.TrimSpace(input)
}
