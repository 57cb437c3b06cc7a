package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors combines non-nil errors: nil for none, the error itself for one,
// otherwise new error with messages on separate lines.
func FoldErrors(errs []error) error {
	var first error
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		msgs = append(msgs, e.Error())
	}
	if len(msgs) <= 1 {
		return first
	}
	return errors.New(strings.Join(msgs, "\n"))
}
