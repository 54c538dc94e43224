package approval

import "errors"

var errNoSigningKey = errors.New("approval: no signing key configured")

var errNoExecutor = errors.New("approval: no verdict executor configured")
