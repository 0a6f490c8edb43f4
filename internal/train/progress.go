package train

import (
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// eachStep calls fn for steps 0..n-1 in order, stopping at the first error.
// With progress set the loop is drawn as a progress bar.
func eachStep(n int, desc string, progress bool, fn func(step int) error) error {
	if !progress {
		for step := 0; step < n; step++ {
			if err := fn(step); err != nil {
				return err
			}
		}
		return nil
	}

	var stepErr error
	err := tqdm.With(iterators.Interval(0, n), desc, func(v interface{}) (brk bool) {
		if stepErr = fn(v.(int)); stepErr != nil {
			return true
		}
		return false
	})
	if stepErr != nil {
		return stepErr
	}
	return err
}
