package aliases

import (
	"io"
)

// This file contains aliases for some of the interfaces provided by the
// Go standard library. The only reason this file exists is to allow
// mockgen to emit mocks for them in reflect mode, next to the mocks
// of the interfaces declared in this repository.

// ReadCloser is an alias of io.ReadCloser.
type ReadCloser = io.ReadCloser

// WriteCloser is an alias of io.WriteCloser.
type WriteCloser = io.WriteCloser
