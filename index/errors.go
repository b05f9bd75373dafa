package index

import "errors"

// ErrMalformedPayload is returned by Open/Recover and by any node
// load when an on-disk node or meta payload cannot be decoded. This
// is fatal to the operation in progress; the caller must repair or
// discard the affected index directory.
var ErrMalformedPayload = errors.New("malformed payload")
