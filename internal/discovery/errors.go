package discovery

import "errors"

// ErrNoCandidates is returned when a scan is started with nothing to scan.
var ErrNoCandidates = errors.New("discovery: no candidates")
