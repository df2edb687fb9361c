package wire

import "fmt"

func errTruncated(what string) error {
	return fmt.Errorf("wire: truncated %s", what)
}
