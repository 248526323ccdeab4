package match

import (
	"errors"
	"fmt"

	"github.com/poiesic/imgmatch/core"
)

var (
	// ErrInvalidOptions is returned for a TopN below one or a MinSimilarity outside [-1, 1].
	ErrInvalidOptions = errors.New("invalid match options")

	// ErrNonFiniteScore is returned when an embedding holds NaN or Inf, which
	// would make every score involving it meaningless.
	ErrNonFiniteScore = fmt.Errorf("%w: embedding contains non-finite values", core.ErrMatch)
)
