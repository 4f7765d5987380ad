package transfer

import (
	"errors"

	"github.com/tsawler/go-mtlfin/device"
	"github.com/tsawler/go-mtlfin/tensor"
	"github.com/tsawler/go-mtlfin/training"
)

var (
	// ErrInvalidConfig is returned by Config.Validate and NewTrainer for unusable settings.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnknownTask is returned when a task or subtask name is not known to the trainer.
	ErrUnknownTask = errors.New("unknown task")

	ErrUnsupportedDevice  = device.ErrUnsupportedDevice
	ErrShapeMismatch      = tensor.ErrShapeMismatch
	ErrInsufficientLength = training.ErrInsufficientLength
	ErrDegenerateVariance = tensor.ErrDegenerateVariance
	ErrNonFinite          = tensor.ErrNonFinite
)
