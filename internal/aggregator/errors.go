package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pokerjest/animeSourceHub/internal/model"
)

type ErrorKind string

const AllProvidersFailed ErrorKind = "all_providers_failed"

// AggregationError is returned only when every attempted adapter failed and
// the aggregator runs in fail-hard mode.
type AggregationError struct {
	Kind     ErrorKind
	Failures map[model.Provider]error
}

func (e *AggregationError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for p, err := range e.Failures {
		names = append(names, fmt.Sprintf("%s: %v", p, err))
	}
	sort.Strings(names)
	return fmt.Sprintf("%s [%s]", e.Kind, strings.Join(names, "; "))
}
