package duplex

import "errors"

// ErrRequestTimeout is returned by Client.SendRequest / ReceiveResponse
// when no correlated response arrives within the caller's timeout.
var ErrRequestTimeout = errors.New("duplex: no response within timeout")
