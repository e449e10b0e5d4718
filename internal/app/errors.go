package app

import "errors"

var (
	ErrNotSignedIn    = errors.New("no signed-in session")
	ErrAlreadyRunning = errors.New("chat connection supervisor already running")
)
