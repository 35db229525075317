package consts

import "errors"

var (
	ErrScriptNotFound    = errors.New("script not found")
	ErrScriptExists      = errors.New("script already exists")
	ErrActiveScript      = errors.New("script is active")
	ErrInvalidScriptName = errors.New("invalid script name")
	ErrScriptTooLarge    = errors.New("script too large")
	ErrInvalidPath       = errors.New("invalid test path")
	ErrDocumentNotOpen   = errors.New("document not open")
	ErrNotPermitted      = errors.New("operation not permitted")

	// Store transactions
	ErrDBCommitTransactionFailed = errors.New("commit failed")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")
)
