package engine

// Progress checkpoints. Percent interpolates between dispatch and the round
// ceiling as chunks reach terminal state; retry rounds hold the reached
// percent and only change the step label, so the projection never moves
// backwards across rounds. Terminal completion jumps to 100.
const (
	percentPlanned  = 5
	percentDispatch = 15
	percentCeiling  = 90
	percentDone     = 100
)

// roundPercent interpolates [percentDispatch, percentCeiling] by terminal
// chunk count.
func roundPercent(processed, total int) int {
	if total <= 0 {
		return percentDispatch
	}
	if processed >= total {
		return percentCeiling
	}
	return percentDispatch + (percentCeiling-percentDispatch)*processed/total
}

// holdPercent keeps the projection monotone across retry rounds.
func holdPercent(current, proposed int) int {
	if proposed < current {
		return current
	}
	return proposed
}
