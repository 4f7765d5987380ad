package transfer

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-mtlfin/checkpoints"
	"github.com/tsawler/go-mtlfin/device"
	"github.com/tsawler/go-mtlfin/tensor"
	"github.com/tsawler/go-mtlfin/training"
)

// subtaskState is everything owned by one (task, subtask).
type subtaskState struct {
	task      string
	subtask   string
	series    *tensor.Tensor
	model     *SubModel
	optimizer *training.Adam
	losses    []float64
}

// Trainer jointly trains one SubModel per (task, subtask) around a single
// GlobalTransform. Each subtask has its own Adam over its SubModel and the
// global parameters, so the shared block is updated once per subtask step.
type Trainer struct {
	config   Config
	device   device.Info
	format   checkpoints.Format
	global   *GlobalTransform
	sampler  *training.WindowSampler
	loss     training.Loss
	schedule training.LRScheduler
	logger   *logrus.Logger
	observer training.Observer
	rng      *rand.Rand

	order []*subtaskState
	tasks []string
	index map[string]map[string]*subtaskState
}

// Option customizes a Trainer.
type Option func(*Trainer)

// WithRand sets the random source used for initialization and batch sampling.
func WithRand(rng *rand.Rand) Option {
	return func(t *Trainer) { t.rng = rng }
}

// WithLogger sets the logger. The default is logrus.New().
func WithLogger(logger *logrus.Logger) Option {
	return func(t *Trainer) { t.logger = logger }
}

// WithObserver replaces the default progress logger.
func WithObserver(observer training.Observer) Option {
	return func(t *Trainer) { t.observer = observer }
}

// WithLoss replaces the objective built from Config.Objective.
func WithLoss(loss training.Loss) Option {
	return func(t *Trainer) { t.loss = loss }
}

// NewTrainer validates cfg, builds the global transform and then one SubModel
// and optimizer per subtask in series order.
func NewTrainer(series Series, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := series.validate(); err != nil {
		return nil, err
	}
	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		return nil, err
	}
	format, err := checkpoints.ParseFormat(cfg.ExportFormat)
	if err != nil {
		return nil, fmt.Errorf("export_format: %v: %w", err, ErrInvalidConfig)
	}
	schedule, err := training.NewScheduler(cfg.LRSchedule)
	if err != nil {
		return nil, fmt.Errorf("lr_schedule: %v: %w", err, ErrInvalidConfig)
	}

	t := &Trainer{
		config:   cfg,
		device:   dev,
		format:   format,
		loss:     cfg.loss(),
		schedule: schedule,
		index:    make(map[string]map[string]*subtaskState),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	if t.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		t.logger.WithField("seed", seed).Debug("Seeding random source")
		t.rng = rand.New(rand.NewSource(seed))
	}
	if t.observer == nil {
		t.observer = training.NewLogObserver(t.logger)
	}

	t.logger.WithField("device", dev.String()).Info("Resolved training device")

	g := cfg.GlobalLinearLinear
	t.global, err = newGlobalTransform(g.InTransferDim, g.OutTransferDim, t.rng)
	if err != nil {
		return nil, err
	}
	t.sampler, err = training.NewWindowSampler(cfg.SeqLen, cfg.BatchSize, t.rng)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidConfig)
	}

	adamConfig := training.DefaultAdamConfig(g.OptLR)
	adamConfig.AMSGrad = g.AMSGrad

	for _, ts := range series {
		t.tasks = append(t.tasks, ts.Name)
		t.index[ts.Name] = make(map[string]*subtaskState, len(ts.Subtasks))

		for _, ss := range ts.Subtasks {
			if len(ss.Data.Shape) != 2 || ss.Data.Shape[1] < 1 {
				return nil, fmt.Errorf("series %s/%s must be [timesteps, features], got %v: %w",
					ts.Name, ss.Name, ss.Data.Shape, ErrShapeMismatch)
			}
			features := ss.Data.Shape[1]

			model, err := newSubModel(ts.Name, ss.Name, features, g.InTransferDim, g.OutTransferDim, t.rng)
			if err != nil {
				return nil, fmt.Errorf("subtask %s/%s: %w", ts.Name, ss.Name, err)
			}
			params := append(model.Parameters(), t.global.Parameters()...)
			optimizer, err := training.NewAdam(params, adamConfig)
			if err != nil {
				return nil, fmt.Errorf("subtask %s/%s optimizer: %v: %w", ts.Name, ss.Name, err, ErrInvalidConfig)
			}

			st := &subtaskState{
				task:      ts.Name,
				subtask:   ss.Name,
				series:    ss.Data,
				model:     model,
				optimizer: optimizer,
			}
			t.order = append(t.order, st)
			t.index[ts.Name][ss.Name] = st

			t.logger.WithFields(logrus.Fields{
				"task":     ts.Name,
				"subtask":  ss.Name,
				"in":       model.Encoder().String(),
				"out":      model.Decoder().String(),
				"global":   t.global.String(),
				"signal":   model.signal.String(),
				"opt_lr":   g.OptLR,
				"amsgrad":  g.AMSGrad,
				"features": features,
			}).Info("Created subtask model")
		}
	}

	return t, nil
}

// Train runs cfg.TSteps iterations. Each iteration takes one optimizer step
// per subtask in construction order. The context is checked between
// iterations. Weights are exported afterwards when export_weights is set.
func (t *Trainer) Train(ctx context.Context) error {
	every := t.config.reportEvery()
	baseLR := t.config.GlobalLinearLinear.OptLR

	for i := 0; i < t.config.TSteps; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training stopped before iteration %d: %w", i, err)
		}

		lr := t.schedule.LR(i, baseLR)
		for _, st := range t.order {
			st.optimizer.SetLR(lr)
		}

		for _, st := range t.order {
			if err := t.step(st); err != nil {
				return fmt.Errorf("iteration %d: %w", i, err)
			}
		}

		if training.ShouldReport(i, every) {
			t.observer.OnIteration(i, t.lastLosses())
		}
	}

	if t.config.GlobalLinearLinear.ExportWeights {
		if _, err := t.Export(); err != nil {
			return err
		}
	}
	return nil
}

// step samples a batch and performs one zero/forward/backward/update cycle
// while holding the global transform lock.
func (t *Trainer) step(st *subtaskState) error {
	batch, err := t.sampler.Sample(st.series)
	if err != nil {
		return fmt.Errorf("subtask %s/%s (T=%d, seq_len=%d): %w",
			st.task, st.subtask, st.series.Shape[0], t.config.SeqLen, err)
	}

	t.global.Lock()
	defer t.global.Unlock()

	st.optimizer.ZeroGrad()

	preds, err := t.forward(st.model, batch.Data)
	if err != nil {
		return err
	}
	loss, err := t.loss.Forward(preds, batch.Labels)
	if err != nil {
		return fmt.Errorf("subtask %s/%s: %w", st.task, st.subtask, err)
	}
	value, err := loss.Item()
	if err != nil {
		return fmt.Errorf("subtask %s/%s: %w", st.task, st.subtask, err)
	}

	if err := loss.Backward(); err != nil {
		return fmt.Errorf("subtask %s/%s backward: %w", st.task, st.subtask, err)
	}
	if err := st.optimizer.Step(); err != nil {
		return fmt.Errorf("subtask %s/%s optimizer step: %w", st.task, st.subtask, err)
	}

	st.losses = append(st.losses, value)
	return nil
}

// forward runs encode -> global -> decode. Gradients are recorded only when
// the modules are in training mode.
func (t *Trainer) forward(model *SubModel, x *tensor.Tensor) (*tensor.Tensor, error) {
	encoded, err := model.Encode(x)
	if err != nil {
		return nil, err
	}
	shared, err := t.global.Transform(encoded)
	if err != nil {
		return nil, err
	}
	return model.Decode(shared)
}

func (t *Trainer) lastLosses() []training.StepLoss {
	losses := make([]training.StepLoss, 0, len(t.order))
	for _, st := range t.order {
		if n := len(st.losses); n > 0 {
			losses = append(losses, training.StepLoss{Task: st.task, Subtask: st.subtask, Loss: st.losses[n-1]})
		}
	}
	return losses
}

func (t *Trainer) lookup(task, subtask string) (*subtaskState, error) {
	st, ok := t.index[task][subtask]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", task, subtask, ErrUnknownTask)
	}
	return st, nil
}

// Losses returns a copy of the per-step loss history of (task, subtask).
func (t *Trainer) Losses(task, subtask string) ([]float64, error) {
	st, err := t.lookup(task, subtask)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), st.losses...), nil
}

// SubModel returns the encoder/decoder pair of (task, subtask).
func (t *Trainer) SubModel(task, subtask string) (*SubModel, error) {
	st, err := t.lookup(task, subtask)
	if err != nil {
		return nil, err
	}
	return st.model, nil
}

// Optimizer returns the Adam instance of (task, subtask).
func (t *Trainer) Optimizer(task, subtask string) (*training.Adam, error) {
	st, err := t.lookup(task, subtask)
	if err != nil {
		return nil, err
	}
	return st.optimizer, nil
}

// Global returns the shared transform.
func (t *Trainer) Global() *GlobalTransform {
	return t.global
}

// Tasks returns task names in traversal order.
func (t *Trainer) Tasks() []string {
	return append([]string(nil), t.tasks...)
}

// Subtasks returns the subtask names of task in traversal order.
func (t *Trainer) Subtasks(task string) []string {
	var subs []string
	for _, st := range t.order {
		if st.task == task {
			subs = append(subs, st.subtask)
		}
	}
	return subs
}

// Device returns the resolved compute target.
func (t *Trainer) Device() device.Info {
	return t.device
}

func (t *Trainer) Config() Config {
	return t.config
}
