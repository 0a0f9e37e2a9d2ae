package video

import "errors"

var (
	ErrFormat        = errors.New("unsupported file format")
	ErrNonExistentID = errors.New("file not found")
	ErrIncorrectSize = errors.New("each dimension must be an even number greater than 20")
	ErrProcessing    = errors.New("file is being processed, wait until the current operation finishes")
)
