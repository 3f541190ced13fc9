package worker

import "errors"

var (
	// ErrNotInitialized is returned by Start before a successful Init.
	ErrNotInitialized = errors.New("worker channel not initialized")
	// ErrAlreadyStarted is returned by a second Start on the same channel.
	ErrAlreadyStarted = errors.New("worker channel already started")
	// ErrWorkerExited is returned by Send once the worker process is gone.
	ErrWorkerExited = errors.New("worker process has exited")
	// ErrNotConnected is returned by Send before the socket is up.
	ErrNotConnected = errors.New("worker socket not connected")
)
