package models

// DefaultQueue is the queue used when a directive names none and a host
// declares no queues of its own.
const DefaultQueue = "_default"

// Directive is a resolved encode configuration: encoder arguments, output
// extension, queue assignment and compression threshold.
type Directive interface {
	Name() string
	Extension() string
	// QueueName returns "" when the directive does not pick a queue.
	QueueName() string
	Threshold() int
	ThresholdCheck() int
	InputOptions() []string
	OutputOptions(mixins []string) []string
	StreamMap(videoStream int, audio, subtitle []Stream) []string
}

// QueueFor returns the queue a directive's jobs are placed on.
func QueueFor(d Directive) string {
	if q := d.QueueName(); q != "" {
		return q
	}
	return DefaultQueue
}
