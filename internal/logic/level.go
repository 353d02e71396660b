package logic

import "time"

// Speed of sound used for ranging, in metres per second.
const speedOfSound = 340.0

// DistanceFromEcho converts an HC-SR04 echo pulse width to a distance in cm.
// The pulse covers the round trip, so it is halved.
func DistanceFromEcho(width time.Duration) float64 {
	us := float64(width) / float64(time.Microsecond)
	return us * speedOfSound / 2 / 10000
}

// EchoTimeout returns the longest echo worth waiting for when anything
// beyond ceiling cm is treated as invalid.
func EchoTimeout(ceiling float64) time.Duration {
	us := ceiling * 2 * 10000 / speedOfSound
	// Allow headroom for the sensor's own turnaround.
	return time.Duration(us*float64(time.Microsecond)) + 5*time.Millisecond
}

// ClassifyDistance marks a measured distance invalid when it lies beyond ceiling.
func ClassifyDistance(distance, ceiling float64) LevelSample {
	if distance < 0 || distance > ceiling {
		return LevelSample{Distance: distance}
	}
	return LevelSample{Valid: true, Distance: distance}
}

// EstimateLevel averages the valid samples and converts the mean distance to
// a water height. When no sample is valid it returns fallback with Fallback set.
func EstimateLevel(samples []LevelSample, referenceHeight, fallback float64) LevelEstimate {
	var sum float64
	var n int
	for _, s := range samples {
		if !s.Valid {
			continue
		}
		sum += s.Distance
		n++
	}
	if n == 0 {
		return LevelEstimate{Level: fallback, Fallback: true}
	}
	return LevelEstimate{Level: referenceHeight - sum/float64(n), Valid: n}
}
