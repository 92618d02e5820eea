// Package scoring turns answers into points. The award formula is pure
// integer arithmetic so every node computes bit-identical scores.
package scoring

// basePoints is awarded for any correct answer; the time bonus adds up to
// 10.5 points per remaining second, computed as remainingMs*21/2000 to stay
// in integers (21/2000 == 10.5/1000).
const basePoints = 100

// Points awards a correct answer submitted elapsedMs into a question with
// the given time limit. Wrong answers and no-answers score zero. Submitting
// exactly at the limit is valid and earns the base points; elapsed time past
// the limit clamps to zero bonus rather than going negative.
func Points(correct bool, elapsedMs int64, timeLimitSec int) int64 {
	if !correct {
		return 0
	}

	if elapsedMs < 0 {
		elapsedMs = 0
	}

	remainingMs := int64(timeLimitSec)*1000 - elapsedMs
	if remainingMs < 0 {
		remainingMs = 0
	}

	return basePoints + remainingMs*21/2000
}
