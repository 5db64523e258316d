package model

// Batch represents a minibatch of features and labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Inputs) }

// Model is the training surface the trainer and callbacks rely on.
type Model interface {
	// TrainStep runs one optimizer step and returns mean loss and accuracy.
	TrainStep(batch Batch) (loss, acc float64)
	// Evaluate scores a batch without updating weights.
	Evaluate(batch Batch) (loss, acc float64)
	LearningRate() float64
	SetLearningRate(lr float64)
	// Save writes a checkpoint tagged with the completed epoch.
	Save(path string, epoch int) error
}

// SGD holds stochastic gradient descent hyperparameters.
type SGD struct {
	LR       float64
	Momentum float64
}
